// Package transport defines the boundary between the call core and the
// signaling stacks that actually place and tear down calls. Adapters report
// results asynchronously through a Reporter; they never touch the registry.
package transport

import (
	"context"
	"sync"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/callerr"
	"github.com/sebas/callservice/internal/callservice/listener"
)

// Reporter receives transport-side events. Every method except
// ReportIncomingCall returns immediately; the error is for logging only.
type Reporter interface {
	// ReportIncomingCall registers a new incoming call and returns its id.
	ReportIncomingCall(ctx context.Context, attrs call.Attributes) (int, error)
	ReportStateChange(callID int, state call.TelCallState) error
	ReportDisconnected(callID int, reason call.EndedType, message string) error
	ReportConferenceEvent(callID int, joined bool) error
	ReportCallEvent(ev listener.CallEvent) error
}

// DialRequest describes an outgoing call that has already been registered.
type DialRequest struct {
	CallID      int
	Number      string
	SlotID      int
	Type        call.CallType
	VideoState  call.VideoState
	IsEmergency bool
}

// Setting names for ApplySetting.
const (
	SettingCallWaiting     = "call_waiting"
	SettingCallRestriction = "call_restriction"
	SettingCallTransfer    = "call_transfer"
	SettingPreferenceMode  = "preference_mode"
	SettingImsFeature      = "ims_feature"
	SettingVoNR            = "vonr"
)

// Setting is a per-slot supplementary service change.
type Setting struct {
	SlotID int
	Name   string
	Value  string
}

// Adapter performs signaling for one family of call types.
type Adapter interface {
	Dial(ctx context.Context, req DialRequest) error
	Answer(ctx context.Context, callID int, video call.VideoState) error
	Reject(ctx context.Context, callID int, sendSms bool, content string) error
	HangUp(ctx context.Context, callID int) error
	Hold(ctx context.Context, callID int) error
	UnHold(ctx context.Context, callID int) error
	Switch(ctx context.Context, callID int) error
	Combine(ctx context.Context, mainCallID int) error
	Separate(ctx context.Context, callID int) error
	KickOut(ctx context.Context, callID int) error
	InviteToConference(ctx context.Context, mainCallID int, numbers []string) error
	SetMute(ctx context.Context, callID int, muted bool) error
	StartRtt(ctx context.Context, callID int, message string) error
	StopRtt(ctx context.Context, callID int) error
	UpdateImsCallMode(ctx context.Context, callID int, mode call.VideoState) error
	ApplySetting(ctx context.Context, s Setting) error
}

func unsupported(op string, callID int) error {
	return callerr.ForCall(op, callerr.KindIllegalOperation, callerr.ReasonUnsupported, callID)
}

// Unsupported refuses every optional operation. Adapters embed it and
// override what they implement.
type Unsupported struct{}

func (Unsupported) Hold(_ context.Context, id int) error   { return unsupported("Hold", id) }
func (Unsupported) UnHold(_ context.Context, id int) error { return unsupported("UnHold", id) }
func (Unsupported) Switch(_ context.Context, id int) error { return unsupported("Switch", id) }
func (Unsupported) Combine(_ context.Context, id int) error {
	return unsupported("Combine", id)
}
func (Unsupported) Separate(_ context.Context, id int) error {
	return unsupported("Separate", id)
}
func (Unsupported) KickOut(_ context.Context, id int) error { return unsupported("KickOut", id) }
func (Unsupported) InviteToConference(_ context.Context, id int, _ []string) error {
	return unsupported("InviteToConference", id)
}
func (Unsupported) SetMute(_ context.Context, id int, _ bool) error {
	return unsupported("SetMute", id)
}
func (Unsupported) StartRtt(_ context.Context, id int, _ string) error {
	return unsupported("StartRtt", id)
}
func (Unsupported) StopRtt(_ context.Context, id int) error { return unsupported("StopRtt", id) }
func (Unsupported) UpdateImsCallMode(_ context.Context, id int, _ call.VideoState) error {
	return unsupported("UpdateImsCallMode", id)
}
func (Unsupported) ApplySetting(context.Context, Setting) error {
	return unsupported("ApplySetting", 0)
}

// Router selects the adapter responsible for a call type.
type Router struct {
	mu       sync.RWMutex
	adapters map[call.CallType]Adapter
	fallback Adapter
}

// NewRouter creates a Router. fallback serves every type without an explicit
// registration; it may be nil.
func NewRouter(fallback Adapter) *Router {
	return &Router{
		adapters: make(map[call.CallType]Adapter),
		fallback: fallback,
	}
}

// Register routes t to a.
func (r *Router) Register(t call.CallType, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[t] = a
}

// For returns the adapter for t.
func (r *Router) For(t call.CallType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[t]; ok {
		return a, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, callerr.New("Router.For", callerr.KindIllegalOperation, callerr.ReasonUnsupported)
}
