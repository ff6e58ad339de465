package ipc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sebas/callservice/internal/callservice/callerr"
	"github.com/sebas/callservice/internal/callservice/conference"
	"github.com/sebas/callservice/internal/callservice/control"
	"github.com/sebas/callservice/internal/callservice/listener"
	"github.com/sebas/callservice/internal/callservice/policy"
	"github.com/sebas/callservice/internal/callservice/registry"
	"github.com/sebas/callservice/internal/callservice/transport"
)

const testSecret = "test-secret"

// startServer runs a manager backed by the simulator behind a loopback
// gRPC server and returns its address.
func startServer(t *testing.T, auth *Authenticator) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	loop := control.NewLoop(0)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(ctx)
	}()
	for !loop.Running() {
		time.Sleep(time.Millisecond)
	}

	calls := registry.New(registry.DefaultLimits())
	sim := transport.NewSimulator(transport.SimulatorConfig{AutoAnswer: true})
	m := control.New(control.Config{}, control.Deps{
		Calls:       calls,
		Conferences: conference.NewEngines(5, 5),
		Env: policy.NewStaticEnvironment([]policy.SlotStatus{
			{SIMPresent: true, InService: true, IMSRegistered: true},
		}, false),
		Hub:    listener.NewHub(),
		Router: transport.NewRouter(sim),
		Loop:   loop,
	})
	sim.SetReporter(m)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	srv := NewServer(m, auth)
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		_ = srv.Serve(lis)
	}()

	t.Cleanup(func() {
		srv.Stop()
		<-serveDone
		cancel()
		<-loopDone
		calls.Close()
	})
	return lis.Addr().String()
}

func newClient(t *testing.T, addr, token string) *Client {
	t.Helper()
	c, err := NewClient(addr, token)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDialAndList(t *testing.T) {
	addr := startServer(t, nil)
	c := newClient(t, addr, "")
	ctx := context.Background()

	id, err := c.Dial(ctx, map[string]any{"number": "10086", "slot_id": 0, "call_type": "cs"})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if id != 1 {
		t.Errorf("Dial() id = %d, want 1", id)
	}

	calls, err := c.ListCalls(ctx)
	if err != nil {
		t.Fatalf("ListCalls() error = %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("ListCalls() = %d calls, want 1", len(calls))
	}
	if calls[0]["number"] != "10086" || calls[0]["type"] != "CS" {
		t.Errorf("call = %v", calls[0])
	}

	resp, err := c.Call(ctx, "GetCallInfo", map[string]any{"call_id": id})
	if err != nil {
		t.Fatalf("GetCallInfo() error = %v", err)
	}
	info, _ := resp["call"].(map[string]any)
	if info["direction"] != "outgoing" {
		t.Errorf("direction = %v, want outgoing", info["direction"])
	}
}

func TestCoreErrorsSurviveTheWire(t *testing.T) {
	addr := startServer(t, nil)
	c := newClient(t, addr, "")
	ctx := context.Background()

	tests := []struct {
		name   string
		method string
		req    map[string]any
		kind   callerr.Kind
		reason string
	}{
		{"unknown call", "HangUp", map[string]any{"call_id": 99}, callerr.KindNotFound, callerr.ReasonCallNotExist},
		{"missing call id", "Hold", nil, callerr.KindArgumentInvalid, callerr.ReasonInvalidArgument},
		{"bad call type", "Dial", map[string]any{"number": "1", "call_type": "pigeon"}, callerr.KindArgumentInvalid, callerr.ReasonInvalidArgument},
		{"empty number", "Dial", map[string]any{"number": ""}, callerr.KindArgumentInvalid, callerr.ReasonInvalidNumber},
		{"bad slot", "SetCallWaiting", map[string]any{"slot_id": 9, "enabled": true}, callerr.KindArgumentInvalid, callerr.ReasonInvalidSlot},
		{"empty invite", "InviteToConference", map[string]any{"call_id": 1}, callerr.KindArgumentInvalid, callerr.ReasonInvalidNumber},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Call(ctx, tt.method, tt.req)
			if got := callerr.KindOf(err); got != tt.kind {
				t.Errorf("kind = %s, want %s (err %v)", got, tt.kind, err)
			}
			if got := callerr.ReasonOf(err); got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestAuthentication(t *testing.T) {
	addr := startServer(t, NewAuthenticator(testSecret))
	ctx := context.Background()

	t.Run("missing token", func(t *testing.T) {
		c := newClient(t, addr, "")
		_, err := c.ListCalls(ctx)
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("code = %s, want Unauthenticated", status.Code(err))
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := IssueToken([]byte("other"), "ui", AllPermissions, time.Minute)
		if err != nil {
			t.Fatalf("IssueToken() error = %v", err)
		}
		_, err = newClient(t, addr, token).ListCalls(ctx)
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("code = %s, want Unauthenticated", status.Code(err))
		}
	})

	t.Run("missing permission", func(t *testing.T) {
		token, err := IssueToken([]byte(testSecret), "viewer", []string{PermReadCalls}, time.Minute)
		if err != nil {
			t.Fatalf("IssueToken() error = %v", err)
		}
		c := newClient(t, addr, token)
		if _, err := c.ListCalls(ctx); err != nil {
			t.Errorf("ListCalls() error = %v", err)
		}
		_, err = c.Dial(ctx, map[string]any{"number": "10086"})
		if callerr.KindOf(err) != callerr.KindPermissionDenied {
			t.Errorf("Dial() error = %v, want PermissionDenied", err)
		}
	})

	t.Run("operator", func(t *testing.T) {
		token, err := IssueToken([]byte(testSecret), "operator", AllPermissions, time.Minute)
		if err != nil {
			t.Fatalf("IssueToken() error = %v", err)
		}
		if _, err := newClient(t, addr, token).Dial(ctx, map[string]any{"number": "10086"}); err != nil {
			t.Errorf("Dial() error = %v", err)
		}
	})
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	a := NewAuthenticator(testSecret)
	token, err := IssueToken([]byte(testSecret), "ui", AllPermissions, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := a.Verify(token); err == nil {
		t.Error("Verify() accepted an expired token")
	}
}

func TestNewAuthenticatorDisabled(t *testing.T) {
	if NewAuthenticator("") != nil {
		t.Error("empty secret should disable authentication")
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{callerr.New("op", callerr.KindArgumentInvalid, callerr.ReasonInvalidNumber), codes.InvalidArgument},
		{callerr.New("op", callerr.KindNotFound, callerr.ReasonCallNotExist), codes.NotFound},
		{callerr.New("op", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState), codes.FailedPrecondition},
		{callerr.New("op", callerr.KindCapacityExceeded, callerr.ReasonCallCountExceeded), codes.ResourceExhausted},
		{callerr.New("op", callerr.KindPermissionDenied, callerr.ReasonPermission), codes.PermissionDenied},
		{callerr.New("op", callerr.KindUninitialized, callerr.ReasonNotStarted), codes.Unavailable},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(toStatus(tt.err)); got != tt.code {
			t.Errorf("toStatus(%v) code = %s, want %s", tt.err, got, tt.code)
		}
	}
}

func TestEveryMethodHasPermission(t *testing.T) {
	seen := make(map[string]bool)
	for _, m := range methods {
		if seen[m.name] {
			t.Errorf("duplicate method %s", m.name)
		}
		seen[m.name] = true
		if p, ok := permissionFor(FullMethod(m.name)); !ok || p == "" {
			t.Errorf("method %s has no permission", m.name)
		}
	}
}

func TestArgsIntRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want int
		ok   bool
	}{
		{"small", float64(7), 7, true},
		{"negative", float64(-1), -1, true},
		{"fraction", 1.5, 0, false},
		{"huge", 1e300, 0, false},
		{"past int32", float64(1 << 40), 0, false},
		{"string", "7", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := args{"callId": tt.v}.int("callId")
			if tt.ok {
				if err != nil || got != tt.want {
					t.Errorf("int() = %d, %v; want %d", got, err, tt.want)
				}
				return
			}
			if callerr.KindOf(err) != callerr.KindArgumentInvalid {
				t.Errorf("int() error = %v, want ArgumentInvalid", err)
			}
		})
	}
}
