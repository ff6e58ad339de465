// Package ipc exposes the control layer over gRPC. Messages are
// google.protobuf.Struct values so the service needs no generated code;
// the method table below is the whole contract.
package ipc

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/callerr"
	"github.com/sebas/callservice/internal/callservice/control"
	"github.com/sebas/callservice/internal/callservice/policy"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "telephony.callcontrol.v1.CallControl"

// FullMethod returns the gRPC path of a method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// args wraps a decoded request.
type args map[string]any

func badArg(key string) error {
	return callerr.Wrap("ipc", callerr.KindArgumentInvalid, callerr.ReasonInvalidArgument, fmt.Errorf("bad or missing %q", key))
}

func (a args) int(key string) (int, error) {
	v, ok := a[key].(float64)
	if !ok || v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
		return 0, badArg(key)
	}
	return int(v), nil
}

func (a args) intOr(key string, def int) (int, error) {
	if _, ok := a[key]; !ok {
		return def, nil
	}
	return a.int(key)
}

func (a args) str(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a args) boolean(key string) bool {
	b, _ := a[key].(bool)
	return b
}

func (a args) strings(key string) ([]string, error) {
	raw, ok := a[key]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, badArg(key)
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, badArg(key)
		}
		out = append(out, s)
	}
	return out, nil
}

func (a args) callType(key string, def call.CallType) (call.CallType, error) {
	s := a.str(key)
	if s == "" {
		return def, nil
	}
	t, ok := call.ParseCallType(strings.ToUpper(s))
	if !ok {
		return 0, badArg(key)
	}
	return t, nil
}

func (a args) videoState(key string) (call.VideoState, error) {
	s := a.str(key)
	if s == "" {
		return call.VideoVoice, nil
	}
	v, ok := call.ParseVideoState(strings.ToUpper(s))
	if !ok {
		return 0, badArg(key)
	}
	return v, nil
}

// parseNamed matches s against the String forms of first..last.
func parseNamed[T ~int](s string, first, last T, name func(T) string) (T, bool) {
	for v := first; v <= last; v++ {
		if strings.EqualFold(name(v), s) {
			return v, true
		}
	}
	return first, false
}

type handler func(ctx context.Context, m *control.Manager, a args) (map[string]any, error)

type method struct {
	name string
	perm string
	call handler
}

// callOp adapts a control operation that takes only a call id.
func callOp(fn func(*control.Manager, context.Context, int) error) handler {
	return func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		id, err := a.int("call_id")
		if err != nil {
			return nil, err
		}
		return nil, fn(m, ctx, id)
	}
}

var methods = []method{
	{"Dial", PermPlaceCall, dial},
	{"Answer", PermAnswerCall, func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		id, err := a.int("call_id")
		if err != nil {
			return nil, err
		}
		video, err := a.videoState("video_state")
		if err != nil {
			return nil, err
		}
		return nil, m.Answer(ctx, id, video)
	}},
	{"Reject", PermAnswerCall, func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		id, err := a.int("call_id")
		if err != nil {
			return nil, err
		}
		return nil, m.Reject(ctx, id, a.boolean("send_sms"), a.str("content"))
	}},
	{"HangUp", PermAnswerCall, callOp((*control.Manager).HangUp)},
	{"HangUpConference", PermAnswerCall, callOp((*control.Manager).HangUpConference)},
	{"Hold", PermAnswerCall, callOp((*control.Manager).Hold)},
	{"UnHold", PermAnswerCall, callOp((*control.Manager).UnHold)},
	{"Switch", PermAnswerCall, callOp((*control.Manager).Switch)},
	{"Combine", PermAnswerCall, callOp((*control.Manager).Combine)},
	{"Separate", PermAnswerCall, callOp((*control.Manager).Separate)},
	{"KickOut", PermAnswerCall, callOp((*control.Manager).KickOut)},
	{"InviteToConference", PermPlaceCall, func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		id, err := a.int("call_id")
		if err != nil {
			return nil, err
		}
		numbers, err := a.strings("numbers")
		if err != nil {
			return nil, err
		}
		return nil, m.InviteToConference(ctx, id, numbers)
	}},
	{"SetMuted", PermAnswerCall, func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		id, err := a.int("call_id")
		if err != nil {
			return nil, err
		}
		return nil, m.SetMuted(ctx, id, a.boolean("muted"))
	}},
	{"StartRtt", PermAnswerCall, func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		id, err := a.int("call_id")
		if err != nil {
			return nil, err
		}
		return nil, m.StartRtt(ctx, id, a.str("message"))
	}},
	{"StopRtt", PermAnswerCall, callOp((*control.Manager).StopRtt)},
	{"UpdateImsCallMode", PermAnswerCall, func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		id, err := a.int("call_id")
		if err != nil {
			return nil, err
		}
		mode, err := a.videoState("video_state")
		if err != nil {
			return nil, err
		}
		return nil, m.UpdateImsCallMode(ctx, id, mode)
	}},
	{"SetCallWaiting", PermSetSettings, func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		slot, err := a.int("slot_id")
		if err != nil {
			return nil, err
		}
		return nil, m.SetCallWaiting(ctx, slot, a.boolean("enabled"))
	}},
	{"SetCallRestriction", PermSetSettings, func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		slot, err := a.int("slot_id")
		if err != nil {
			return nil, err
		}
		return nil, m.SetCallRestriction(ctx, slot, a.str("value"))
	}},
	{"SetCallTransfer", PermSetSettings, func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		slot, err := a.int("slot_id")
		if err != nil {
			return nil, err
		}
		return nil, m.SetCallTransfer(ctx, slot, a.str("number"))
	}},
	{"SetCallPreferenceMode", PermSetSettings, func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		slot, err := a.int("slot_id")
		if err != nil {
			return nil, err
		}
		mode, err := a.int("mode")
		if err != nil {
			return nil, err
		}
		return nil, m.SetCallPreferenceMode(ctx, slot, policy.PreferenceMode(mode))
	}},
	{"SetImsFeatureValue", PermSetSettings, func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		slot, err := a.int("slot_id")
		if err != nil {
			return nil, err
		}
		feature, err := a.int("feature")
		if err != nil {
			return nil, err
		}
		value, err := a.int("value")
		if err != nil {
			return nil, err
		}
		return nil, m.SetImsFeatureValue(ctx, slot, policy.ImsFeature(feature), policy.Switch(value))
	}},
	{"SetVoNRState", PermSetSettings, func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		slot, err := a.int("slot_id")
		if err != nil {
			return nil, err
		}
		state, err := a.int("state")
		if err != nil {
			return nil, err
		}
		return nil, m.SetVoNRState(ctx, slot, policy.Switch(state))
	}},
	{"ListCalls", PermReadCalls, func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		infos, err := m.ListCalls(ctx)
		if err != nil {
			return nil, err
		}
		list := make([]any, 0, len(infos))
		for _, info := range infos {
			list = append(list, infoMap(info))
		}
		return map[string]any{"calls": list}, nil
	}},
	{"GetCallInfo", PermReadCalls, func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		id, err := a.int("call_id")
		if err != nil {
			return nil, err
		}
		info, err := m.GetCallInfo(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"call": infoMap(info)}, nil
	}},
	{"GetCallIDListForConference", PermReadCalls, func(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
		id, err := a.int("call_id")
		if err != nil {
			return nil, err
		}
		ids, err := m.GetCallIDListForConference(ctx, id)
		if err != nil {
			return nil, err
		}
		list := make([]any, 0, len(ids))
		for _, id := range ids {
			list = append(list, id)
		}
		return map[string]any{"call_ids": list}, nil
	}},
}

func dial(ctx context.Context, m *control.Manager, a args) (map[string]any, error) {
	slot, err := a.intOr("slot_id", 0)
	if err != nil {
		return nil, err
	}
	callType, err := a.callType("call_type", call.TypeCS)
	if err != nil {
		return nil, err
	}
	video, err := a.videoState("video_state")
	if err != nil {
		return nil, err
	}
	opts := policy.DialOptions{SlotID: slot, CallType: callType, VideoState: video}
	if s := a.str("dial_type"); s != "" {
		t, ok := parseNamed(s, policy.DialCarrier, policy.DialOTT, policy.DialType.String)
		if !ok {
			return nil, badArg("dial_type")
		}
		opts.DialType = t
	}
	if s := a.str("dial_scene"); s != "" {
		scene, ok := parseNamed(s, policy.SceneNormal, policy.SceneEmergency, policy.DialScene.String)
		if !ok {
			return nil, badArg("dial_scene")
		}
		opts.DialScene = scene
	}

	id, err := m.Dial(ctx, a.str("number"), opts)
	if err != nil {
		return nil, err
	}
	return map[string]any{"call_id": id}, nil
}

func infoMap(info call.Info) map[string]any {
	out := map[string]any{
		"call_id":          info.ID,
		"type":             info.Type.String(),
		"direction":        info.Direction.String(),
		"slot_id":          info.SlotID,
		"number":           info.Number,
		"state":            info.TelState.String(),
		"running_state":    info.RunningState.String(),
		"conference_state": info.ConferenceState.String(),
		"video_state":      info.VideoState.String(),
		"emergency":        info.IsEmergency,
		"muted":            info.Muted,
		"rtt":              info.RttEnabled,
		"ended":            info.EndedType.String(),
		"created_at":       info.CreatedAt.Format(time.RFC3339),
	}
	if info.Contact.Name != "" {
		out["contact"] = info.Contact.Name
	}
	return out
}

var permissions = func() map[string]string {
	out := make(map[string]string, len(methods))
	for _, m := range methods {
		out[FullMethod(m.name)] = m.perm
	}
	return out
}()

func permissionFor(fullMethod string) (string, bool) {
	p, ok := permissions[fullMethod]
	return p, ok
}

// callControlServer is the handler type registered with grpc.
type callControlServer interface {
	invoke(ctx context.Context, m method, req *structpb.Struct) (*structpb.Struct, error)
}

func serviceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*callControlServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "telephony/callcontrol/v1/callcontrol.proto",
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.name,
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				s := srv.(callControlServer)
				if interceptor == nil {
					return s.invoke(ctx, m, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(m.name)}
				return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
					return s.invoke(ctx, m, req.(*structpb.Struct))
				})
			},
		})
	}
	return desc
}
