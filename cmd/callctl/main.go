package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sebas/callservice/internal/callservice/ipc"
)

var (
	serverAddr string
	token      string
	timeout    time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "callctl",
		Short:         "Control the call service",
		Long:          `callctl drives the call service control API: place and answer calls, manage holds and conferences, and change slot settings.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", envOr("CALLCTL_ADDR", "127.0.0.1:7070"), "Call service gRPC address")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("CALLCTL_TOKEN"), "Bearer token (see 'callctl token')")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "Request timeout")

	rootCmd.AddCommand(
		dialCmd(),
		answerCmd(),
		rejectCmd(),
		simpleCallCmd("hangup", "End a call", "HangUp"),
		simpleCallCmd("hangup-conference", "End every call in the conference of a call", "HangUpConference"),
		simpleCallCmd("hold", "Hold a call", "Hold"),
		simpleCallCmd("unhold", "Resume a held call", "UnHold"),
		simpleCallCmd("switch", "Swap the active and held calls", "Switch"),
		simpleCallCmd("combine", "Merge calls into a conference led by a call", "Combine"),
		simpleCallCmd("separate", "Split a call out of its conference", "Separate"),
		simpleCallCmd("kickout", "Remove a call from its conference and end it", "KickOut"),
		inviteCmd(),
		muteCmd(),
		rttCmd(),
		modeCmd(),
		listCmd(),
		infoCmd(),
		conferenceCmd(),
		setCmd(),
		tokenCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// call sends one request and returns the decoded response.
func call(method string, req map[string]any) (map[string]any, error) {
	client, err := ipc.NewClient(serverAddr, token)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return client.Call(ctx, method, req)
}

func callID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid call id %q", s)
	}
	return id, nil
}

func onOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func switchValue(s string) (int, error) {
	on, err := onOff(s)
	if err != nil {
		return 0, err
	}
	if on {
		return 1, nil
	}
	return 0, nil
}

func done(method string, id int) {
	fmt.Printf("%s call %d: ok\n", method, id)
}

// --- Calls ---

func dialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dial <number>",
		Short: "Place a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, _ := cmd.Flags().GetInt("slot")
			req := map[string]any{
				"number":  args[0],
				"slot_id": slot,
			}
			for _, f := range []string{"call-type", "video", "dial-type", "scene"} {
				if v, _ := cmd.Flags().GetString(f); v != "" {
					req[wireKey(f)] = v
				}
			}
			resp, err := call("Dial", req)
			if err != nil {
				return err
			}
			fmt.Printf("Dialing %s: call %v\n", args[0], resp["call_id"])
			return nil
		},
	}
	cmd.Flags().Int("slot", 0, "SIM slot")
	cmd.Flags().String("call-type", "", "Call type (CS, IMS, OTT, VOIP, SATELLITE)")
	cmd.Flags().String("video", "", "Video state (VOICE, SEND_ONLY, RECEIVE_ONLY, VIDEO)")
	cmd.Flags().String("dial-type", "", "Dial type (CARRIER, VOICEMAIL, OTT)")
	cmd.Flags().String("scene", "", "Dial scene (NORMAL, PRIVILEGED, EMERGENCY)")
	return cmd
}

func wireKey(flag string) string {
	switch flag {
	case "call-type":
		return "call_type"
	case "video":
		return "video_state"
	case "dial-type":
		return "dial_type"
	case "scene":
		return "dial_scene"
	}
	return flag
}

func answerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "answer <call-id>",
		Short: "Answer a ringing call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := callID(args[0])
			if err != nil {
				return err
			}
			video, _ := cmd.Flags().GetString("video")
			if _, err := call("Answer", map[string]any{"call_id": id, "video_state": video}); err != nil {
				return err
			}
			done("Answer", id)
			return nil
		},
	}
	cmd.Flags().String("video", "", "Answer with this video state")
	return cmd
}

func rejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <call-id>",
		Short: "Reject a ringing call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := callID(args[0])
			if err != nil {
				return err
			}
			sms, _ := cmd.Flags().GetString("sms")
			req := map[string]any{"call_id": id, "send_sms": sms != "", "content": sms}
			if _, err := call("Reject", req); err != nil {
				return err
			}
			done("Reject", id)
			return nil
		},
	}
	cmd.Flags().String("sms", "", "Send this text to the caller")
	return cmd
}

func simpleCallCmd(use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <call-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := callID(args[0])
			if err != nil {
				return err
			}
			if _, err := call(method, map[string]any{"call_id": id}); err != nil {
				return err
			}
			done(method, id)
			return nil
		},
	}
}

func inviteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invite <main-call-id> <number>...",
		Short: "Invite numbers into a conference",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := callID(args[0])
			if err != nil {
				return err
			}
			numbers := make([]any, 0, len(args)-1)
			for _, n := range args[1:] {
				numbers = append(numbers, n)
			}
			if _, err := call("InviteToConference", map[string]any{"call_id": id, "numbers": numbers}); err != nil {
				return err
			}
			done("InviteToConference", id)
			return nil
		},
	}
}

func muteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mute <call-id> <on|off>",
		Short: "Mute or unmute a call",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := callID(args[0])
			if err != nil {
				return err
			}
			muted, err := onOff(args[1])
			if err != nil {
				return err
			}
			if _, err := call("SetMuted", map[string]any{"call_id": id, "muted": muted}); err != nil {
				return err
			}
			done("SetMuted", id)
			return nil
		},
	}
}

func rttCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rtt",
		Short: "Real-time text on IMS calls",
	}
	start := &cobra.Command{
		Use:   "start <call-id>",
		Short: "Start RTT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := callID(args[0])
			if err != nil {
				return err
			}
			msg, _ := cmd.Flags().GetString("message")
			if _, err := call("StartRtt", map[string]any{"call_id": id, "message": msg}); err != nil {
				return err
			}
			done("StartRtt", id)
			return nil
		},
	}
	start.Flags().String("message", "", "Initial text")
	cmd.AddCommand(start, simpleCallCmd("stop", "Stop RTT", "StopRtt"))
	return cmd
}

func modeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mode <call-id> <video-state>",
		Short: "Change the media mode of an IMS call",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := callID(args[0])
			if err != nil {
				return err
			}
			if _, err := call("UpdateImsCallMode", map[string]any{"call_id": id, "video_state": args[1]}); err != nil {
				return err
			}
			done("UpdateImsCallMode", id)
			return nil
		},
	}
}

// --- Queries ---

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call("ListCalls", nil)
			if err != nil {
				return err
			}
			calls, _ := resp["calls"].([]any)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tDIR\tNUMBER\tSTATE\tCONFERENCE\tVIDEO")
			fmt.Fprintln(w, "--\t----\t---\t------\t-----\t----------\t-----")
			for _, raw := range calls {
				c, _ := raw.(map[string]any)
				fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\t%v\n",
					c["call_id"], c["type"], c["direction"], c["number"], c["state"], c["conference_state"], c["video_state"])
			}
			return w.Flush()
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <call-id>",
		Short: "Show one call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := callID(args[0])
			if err != nil {
				return err
			}
			resp, err := call("GetCallInfo", map[string]any{"call_id": id})
			if err != nil {
				return err
			}
			c, _ := resp["call"].(map[string]any)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, k := range []string{"call_id", "type", "direction", "slot_id", "number", "contact", "state",
				"running_state", "conference_state", "video_state", "emergency", "muted", "rtt", "ended", "created_at"} {
				if v, ok := c[k]; ok {
					fmt.Fprintf(w, "%s:\t%v\n", k, v)
				}
			}
			return w.Flush()
		},
	}
}

func conferenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conference <call-id>",
		Short: "List the calls in the conference of a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := callID(args[0])
			if err != nil {
				return err
			}
			resp, err := call("GetCallIDListForConference", map[string]any{"call_id": id})
			if err != nil {
				return err
			}
			ids, _ := resp["call_ids"].([]any)
			parts := make([]string, 0, len(ids))
			for _, v := range ids {
				parts = append(parts, fmt.Sprint(v))
			}
			fmt.Printf("Conference members: %s\n", strings.Join(parts, ", "))
			return nil
		},
	}
}

// --- Slot settings ---

func setCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change slot settings",
	}

	slotSetting := func(use, short, method string, nargs int, build func(args []string) (map[string]any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(nargs),
			RunE: func(cmd *cobra.Command, args []string) error {
				slot, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid slot %q", args[0])
				}
				req, err := build(args[1:])
				if err != nil {
					return err
				}
				req["slot_id"] = slot
				if _, err := call(method, req); err != nil {
					return err
				}
				fmt.Printf("%s slot %d: ok\n", method, slot)
				return nil
			},
		}
	}

	cmd.AddCommand(
		slotSetting("waiting <slot> <on|off>", "Call waiting", "SetCallWaiting", 2, func(args []string) (map[string]any, error) {
			on, err := onOff(args[0])
			return map[string]any{"enabled": on}, err
		}),
		slotSetting("restriction <slot> <value>", "Call barring", "SetCallRestriction", 2, func(args []string) (map[string]any, error) {
			return map[string]any{"value": args[0]}, nil
		}),
		slotSetting("transfer <slot> <number>", "Call forwarding target", "SetCallTransfer", 2, func(args []string) (map[string]any, error) {
			return map[string]any{"number": args[0]}, nil
		}),
		slotSetting("preference <slot> <1-4>", "Voice domain preference (1 CS only, 2 CS preferred, 3 IMS preferred, 4 IMS only)", "SetCallPreferenceMode", 2, func(args []string) (map[string]any, error) {
			mode, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, fmt.Errorf("invalid preference mode %q", args[0])
			}
			return map[string]any{"mode": mode}, nil
		}),
		slotSetting("ims-feature <slot> <voice|video|ut> <on|off>", "Toggle an IMS feature", "SetImsFeatureValue", 3, func(args []string) (map[string]any, error) {
			feature, ok := map[string]int{"voice": 0, "video": 1, "ut": 2}[strings.ToLower(args[0])]
			if !ok {
				return nil, fmt.Errorf("unknown IMS feature %q", args[0])
			}
			value, err := switchValue(args[1])
			return map[string]any{"feature": feature, "value": value}, err
		}),
		slotSetting("vonr <slot> <on|off>", "Voice over NR", "SetVoNRState", 2, func(args []string) (map[string]any, error) {
			state, err := switchValue(args[0])
			return map[string]any{"state": state}, err
		}),
	)
	return cmd
}

// --- Tokens ---

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a control API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, _ := cmd.Flags().GetString("secret")
			if secret == "" {
				return fmt.Errorf("--secret is required")
			}
			subject, _ := cmd.Flags().GetString("subject")
			perms, _ := cmd.Flags().GetStringSlice("perms")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			signed, err := ipc.IssueToken([]byte(secret), subject, perms, ttl)
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}
	cmd.Flags().String("secret", os.Getenv("CALLSVC_JWT_SECRET"), "Signing secret (defaults to $CALLSVC_JWT_SECRET)")
	cmd.Flags().String("subject", "callctl", "Token subject")
	cmd.Flags().StringSlice("perms", ipc.AllPermissions, "Granted permissions")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
