// Package policy holds the precondition checks consulted before every
// mutating call operation. Checks read the registry and conference state but
// never change it; a nil error means the operation may proceed.
package policy

import (
	"fmt"
	"log/slog"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/callerr"
	"github.com/sebas/callservice/internal/callservice/registry"
)

// MaxNumberLength bounds a dialable phone number.
const MaxNumberLength = 100

// DialType selects how a dial request is routed.
type DialType int

const (
	DialCarrier DialType = iota
	DialVoicemail
	DialOTT
)

// String returns the string representation of the dial type
func (d DialType) String() string {
	switch d {
	case DialCarrier:
		return "CARRIER"
	case DialVoicemail:
		return "VOICEMAIL"
	case DialOTT:
		return "OTT"
	default:
		return fmt.Sprintf("Unknown(%d)", int(d))
	}
}

// DialScene is the privilege level of a dial request.
type DialScene int

const (
	SceneNormal DialScene = iota
	ScenePrivileged
	SceneEmergency
)

// String returns the string representation of the dial scene
func (s DialScene) String() string {
	switch s {
	case SceneNormal:
		return "NORMAL"
	case ScenePrivileged:
		return "PRIVILEGED"
	case SceneEmergency:
		return "EMERGENCY"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// DialOptions are the caller-supplied parameters of a dial request.
type DialOptions struct {
	SlotID     int
	DialType   DialType
	CallType   call.CallType
	DialScene  DialScene
	VideoState call.VideoState
}

// Calls is the registry view the checks need. *registry.Registry satisfies it.
type Calls interface {
	GetOneCallObject(callID int) (*call.Call, bool)
	Infos() []call.Info
	Limits() registry.Limits
	LiveCallCount() int
	CarrierCallCount() int
	HasRingingMaximum() bool
	HasDialingMaximum() bool
	HasEmergencyCall() bool
}

// Conferences answers membership questions for conference checks.
type Conferences interface {
	IsMainCall(callID int) bool
	IsMember(callID int) bool
}

// Notifier tells the user why a dial was refused.
type Notifier interface {
	NotifyDialFailure(reason string, number string)
}

// NoopNotifier discards dial failure notices.
type NoopNotifier struct{}

func (NoopNotifier) NotifyDialFailure(string, string) {}

// Policy runs precondition checks against live state.
type Policy struct {
	calls  Calls
	confs  Conferences
	env    Environment
	notify Notifier
}

// New creates a Policy. A nil notifier discards notices.
func New(calls Calls, confs Conferences, env Environment, notify Notifier) *Policy {
	if notify == nil {
		notify = NoopNotifier{}
	}
	return &Policy{calls: calls, confs: confs, env: env, notify: notify}
}

func invalid(op, reason string) error {
	return callerr.New(op, callerr.KindArgumentInvalid, reason)
}

func illegal(op, reason string, callID int) error {
	return callerr.ForCall(op, callerr.KindIllegalOperation, reason, callID)
}

func (p *Policy) lookup(op string, callID int) (call.Info, error) {
	c, ok := p.calls.GetOneCallObject(callID)
	if !ok {
		return call.Info{}, callerr.ForCall(op, callerr.KindNotFound, callerr.ReasonCallNotExist, callID)
	}
	return c.Info(), nil
}

func (p *Policy) validSlot(slotID int) bool {
	return slotID >= 0 && slotID < p.env.SlotCount()
}

// DialPolicy checks an outgoing dial. Checks run in a fixed order and the
// first failure is returned.
func (p *Policy) DialPolicy(number string, opts DialOptions, isEmergency bool) error {
	const op = "DialPolicy"

	if number == "" || len(number) > MaxNumberLength {
		return invalid(op, callerr.ReasonInvalidNumber)
	}

	// Voicemail is carrier-routed, so it needs a slot like a carrier dial.
	switch opts.DialType {
	case DialCarrier, DialVoicemail:
		if !p.validSlot(opts.SlotID) {
			return invalid(op, callerr.ReasonInvalidSlot)
		}
	case DialOTT:
	default:
		return invalid(op, callerr.ReasonInvalidDialType)
	}

	switch opts.CallType {
	case call.TypeCS, call.TypeIMS, call.TypeOTT, call.TypeSatellite:
	default:
		return invalid(op, callerr.ReasonInvalidCallType)
	}

	switch opts.DialScene {
	case SceneNormal:
		if isEmergency {
			return invalid(op, callerr.ReasonInvalidDialScene)
		}
	case ScenePrivileged:
	case SceneEmergency:
		if !isEmergency || opts.DialType == DialVoicemail {
			return invalid(op, callerr.ReasonInvalidDialScene)
		}
	default:
		return invalid(op, callerr.ReasonInvalidDialScene)
	}

	if !opts.VideoState.IsDialable() {
		return invalid(op, callerr.ReasonInvalidVideoState)
	}

	if p.calls.HasRingingMaximum() {
		return callerr.New(op, callerr.KindCapacityExceeded, callerr.ReasonRingingExceeded)
	}
	if p.calls.HasDialingMaximum() {
		return callerr.New(op, callerr.KindCapacityExceeded, callerr.ReasonDialingExceeded)
	}
	if p.calls.LiveCallCount() >= p.calls.Limits().MaxLiveCalls {
		return callerr.New(op, callerr.KindCapacityExceeded, callerr.ReasonCallCountExceeded)
	}

	if isEmergency {
		return nil
	}
	if p.calls.HasEmergencyCall() {
		return p.refuse(op, callerr.ReasonEmergencyCallOngoing, number)
	}
	if opts.DialType == DialOTT {
		return nil
	}
	switch {
	case !p.env.HasSIM(opts.SlotID):
		return p.refuse(op, callerr.ReasonNoSIM, number)
	case p.env.IsAirplaneMode():
		return p.refuse(op, callerr.ReasonAirplaneMode, number)
	case !p.env.IsInService(opts.SlotID):
		return p.refuse(op, callerr.ReasonNotInService, number)
	case p.env.RequiresIMS(opts.SlotID) && !p.env.IsIMSRegistered(opts.SlotID):
		return p.refuse(op, callerr.ReasonIMSNotRegistered, number)
	}
	return nil
}

func (p *Policy) refuse(op, reason, number string) error {
	slog.Info("[Policy] Dial refused", "reason", reason)
	p.notify.NotifyDialFailure(reason, number)
	return callerr.New(op, callerr.KindIllegalOperation, reason)
}

// AnswerCallPolicy checks that callID is ringing and may be answered with
// videoState.
func (p *Policy) AnswerCallPolicy(callID int, videoState call.VideoState) error {
	const op = "AnswerCallPolicy"
	if !videoState.IsDialable() {
		return invalid(op, callerr.ReasonInvalidVideoState)
	}
	return p.ringingCall(op, callID)
}

// RejectCallPolicy checks that callID is ringing.
func (p *Policy) RejectCallPolicy(callID int) error {
	return p.ringingCall("RejectCallPolicy", callID)
}

func (p *Policy) ringingCall(op string, callID int) error {
	info, err := p.lookup(op, callID)
	if err != nil {
		return err
	}
	if info.TelState != call.StateIncoming && info.TelState != call.StateWaiting {
		return illegal(op, callerr.ReasonIllegalCallState, callID)
	}
	return nil
}

// HoldCallPolicy requires the call to be exactly ACTIVE.
func (p *Policy) HoldCallPolicy(callID int) error {
	return p.runningIs("HoldCallPolicy", callID, call.RunningActive)
}

// UnHoldCallPolicy requires the call to be exactly HOLD.
func (p *Policy) UnHoldCallPolicy(callID int) error {
	return p.runningIs("UnHoldCallPolicy", callID, call.RunningHold)
}

func (p *Policy) runningIs(op string, callID int, want call.RunningState) error {
	info, err := p.lookup(op, callID)
	if err != nil {
		return err
	}
	if info.RunningState != want {
		return illegal(op, callerr.ReasonIllegalCallState, callID)
	}
	return nil
}

// HangUpPolicy requires a call that is neither idle nor already ending.
func (p *Policy) HangUpPolicy(callID int) error {
	const op = "HangUpPolicy"
	info, err := p.lookup(op, callID)
	if err != nil {
		return err
	}
	switch info.TelState {
	case call.StateIdle, call.StateDisconnecting, call.StateDisconnected:
		return illegal(op, callerr.ReasonIllegalCallState, callID)
	}
	return nil
}

// SwitchCallPolicy checks that the held call callID can be swapped with the
// active one.
func (p *Policy) SwitchCallPolicy(callID int) error {
	const op = "SwitchCallPolicy"
	info, err := p.lookup(op, callID)
	if err != nil {
		return err
	}
	if p.calls.CarrierCallCount() < 2 {
		return illegal(op, callerr.ReasonInsufficientCalls, callID)
	}
	if info.TelState != call.StateHolding {
		return illegal(op, callerr.ReasonIllegalCallState, callID)
	}
	for _, other := range p.calls.Infos() {
		if other.TelState == call.StateDialing || other.TelState == call.StateAlerting {
			return illegal(op, callerr.ReasonDialingInProgress, callID)
		}
	}
	return nil
}

// InviteToConferencePolicy checks a request to add numbers to the
// conference whose main call is callID.
func (p *Policy) InviteToConferencePolicy(callID int, numbers []string) error {
	const op = "InviteToConferencePolicy"
	if len(numbers) == 0 {
		return invalid(op, callerr.ReasonInvalidNumber)
	}
	for _, n := range numbers {
		if n == "" || len(n) > MaxNumberLength {
			return invalid(op, callerr.ReasonInvalidNumber)
		}
	}
	if _, err := p.lookup(op, callID); err != nil {
		return err
	}
	if !p.confs.IsMainCall(callID) {
		return illegal(op, callerr.ReasonNotMainCall, callID)
	}
	return nil
}

// CombineConferencePolicy checks that the active call callID can be merged
// with the other live carrier calls.
func (p *Policy) CombineConferencePolicy(callID int) error {
	const op = "CombineConferencePolicy"
	info, err := p.lookup(op, callID)
	if err != nil {
		return err
	}
	if info.Type != call.TypeCS && info.Type != call.TypeIMS {
		return illegal(op, callerr.ReasonUnsupported, callID)
	}
	if info.TelState != call.StateActive {
		return illegal(op, callerr.ReasonIllegalCallState, callID)
	}
	if p.calls.CarrierCallCount() < 2 {
		return illegal(op, callerr.ReasonInsufficientCalls, callID)
	}
	return nil
}

// SeparateConferencePolicy checks that callID can be split out of its
// conference into a private call.
func (p *Policy) SeparateConferencePolicy(callID int) error {
	return p.memberCall("SeparateConferencePolicy", callID)
}

// KickOutFromConferencePolicy checks that callID can be dropped from its
// conference.
func (p *Policy) KickOutFromConferencePolicy(callID int) error {
	return p.memberCall("KickOutFromConferencePolicy", callID)
}

func (p *Policy) memberCall(op string, callID int) error {
	info, err := p.lookup(op, callID)
	if err != nil {
		return err
	}
	if !p.confs.IsMember(callID) {
		return callerr.ForCall(op, callerr.KindNotFound, callerr.ReasonNotInConference, callID)
	}
	if info.TelState.IsTerminal() || info.TelState == call.StateDisconnecting {
		return illegal(op, callerr.ReasonIllegalCallState, callID)
	}
	return nil
}
