package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/callerr"
	"github.com/sebas/callservice/internal/callservice/listener"
)

// SimulatorConfig controls how the simulated network answers.
type SimulatorConfig struct {
	// AlertDelay is the time from dial to ALERTING. Zero reports at once.
	AlertDelay time.Duration
	// AnswerDelay is the time from ALERTING to ACTIVE when AutoAnswer is set.
	AnswerDelay time.Duration
	// AutoAnswer makes the remote party answer every dialed call.
	AutoAnswer bool
}

// Op records one adapter request, for inspection in tests and callctl.
type Op struct {
	Name   string
	CallID int
	Arg    string
}

type simCall struct {
	typ   call.CallType
	state call.TelCallState
}

// Simulator is an in-memory modem. It answers every request the way a
// cooperative network would, reporting back through the Reporter.
type Simulator struct {
	mu       sync.Mutex
	cfg      SimulatorConfig
	reporter Reporter
	calls    map[int]*simCall
	ops      []Op
	failures map[string]error
	index    int
}

var _ Adapter = (*Simulator)(nil)

// NewSimulator creates a simulator. SetReporter must be called before use.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	return &Simulator{
		cfg:      cfg,
		calls:    make(map[int]*simCall),
		failures: make(map[string]error),
	}
}

// SetReporter attaches the core that receives reports.
func (s *Simulator) SetReporter(r Reporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reporter = r
}

// FailNext makes the next request named op return err.
func (s *Simulator) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// Ops returns the requests seen so far.
func (s *Simulator) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Op, len(s.ops))
	copy(out, s.ops)
	return out
}

// record logs the request and returns an injected failure, if any.
func (s *Simulator) record(name string, callID int, arg string) (Reporter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, Op{Name: name, CallID: callID, Arg: arg})
	if err, ok := s.failures[name]; ok {
		delete(s.failures, name)
		return nil, err
	}
	if s.reporter == nil {
		return nil, callerr.New("Simulator."+name, callerr.KindUninitialized, callerr.ReasonNotStarted)
	}
	return s.reporter, nil
}

func (s *Simulator) setState(callID int, state call.TelCallState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.calls[callID]; ok {
		sc.state = state
	}
}

func (s *Simulator) state(callID int) (call.TelCallState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.calls[callID]
	if !ok {
		return call.StateUnknown, false
	}
	return sc.state, true
}

func (s *Simulator) report(r Reporter, callID int, state call.TelCallState) {
	s.setState(callID, state)
	if err := r.ReportStateChange(callID, state); err != nil {
		slog.Warn("[Simulator] State report failed", "call_id", callID, "state", state, "error", err)
	}
}

func (s *Simulator) disconnect(r Reporter, callID int, reason call.EndedType, msg string) {
	s.mu.Lock()
	delete(s.calls, callID)
	s.mu.Unlock()
	if err := r.ReportDisconnected(callID, reason, msg); err != nil {
		slog.Warn("[Simulator] Disconnect report failed", "call_id", callID, "error", err)
	}
}

func (s *Simulator) event(r Reporter, ev listener.CallEvent) {
	if err := r.ReportCallEvent(ev); err != nil {
		slog.Warn("[Simulator] Event report failed", "kind", ev.Kind, "error", err)
	}
}

// peers returns the simulated calls of type t other than exclude.
func (s *Simulator) peers(t call.CallType, exclude int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.calls))
	for id, sc := range s.calls {
		if id != exclude && sc.typ == t {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

func (s *Simulator) typeOf(callID int) call.CallType {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.calls[callID]; ok {
		return sc.typ
	}
	return call.TypeError
}

func (s *Simulator) Dial(ctx context.Context, req DialRequest) error {
	r, err := s.record("Dial", req.CallID, req.Number)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.calls[req.CallID] = &simCall{typ: req.Type, state: call.StateDialing}
	cfg := s.cfg
	s.mu.Unlock()

	slog.Debug("[Simulator] Dialing", "call_id", req.CallID, "type", req.Type)
	time.AfterFunc(cfg.AlertDelay, func() {
		if st, ok := s.state(req.CallID); !ok || st != call.StateDialing {
			return
		}
		s.report(r, req.CallID, call.StateAlerting)
		if !cfg.AutoAnswer {
			return
		}
		time.AfterFunc(cfg.AnswerDelay, func() {
			if st, ok := s.state(req.CallID); ok && st == call.StateAlerting {
				s.report(r, req.CallID, call.StateActive)
			}
		})
	})
	return nil
}

// Ring simulates a call arriving from the network.
func (s *Simulator) Ring(ctx context.Context, attrs call.Attributes) (int, error) {
	s.mu.Lock()
	r := s.reporter
	if attrs.Index == 0 {
		s.index++
		attrs.Index = s.index
	}
	s.mu.Unlock()
	if r == nil {
		return 0, callerr.New("Simulator.Ring", callerr.KindUninitialized, callerr.ReasonNotStarted)
	}

	attrs.Direction = call.DirectionIncoming
	id, err := r.ReportIncomingCall(ctx, attrs)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.calls[id] = &simCall{typ: attrs.Type, state: call.StateIncoming}
	s.mu.Unlock()
	return id, nil
}

// RemoteAnswer simulates the far end picking up a dialed call.
func (s *Simulator) RemoteAnswer(callID int) error {
	s.mu.Lock()
	r := s.reporter
	s.mu.Unlock()
	if _, ok := s.state(callID); !ok || r == nil {
		return callerr.ForCall("RemoteAnswer", callerr.KindNotFound, callerr.ReasonCallNotExist, callID)
	}
	s.report(r, callID, call.StateActive)
	return nil
}

// RemoteHangUp simulates the far end ending a call.
func (s *Simulator) RemoteHangUp(callID int) error {
	s.mu.Lock()
	r := s.reporter
	s.mu.Unlock()
	if _, ok := s.state(callID); !ok || r == nil {
		return callerr.ForCall("RemoteHangUp", callerr.KindNotFound, callerr.ReasonCallNotExist, callID)
	}
	s.disconnect(r, callID, call.EndedRemoteHangup, "remote hangup")
	return nil
}

func (s *Simulator) Answer(ctx context.Context, callID int, video call.VideoState) error {
	r, err := s.record("Answer", callID, video.String())
	if err != nil {
		return err
	}
	s.report(r, callID, call.StateActive)
	return nil
}

func (s *Simulator) Reject(ctx context.Context, callID int, sendSms bool, content string) error {
	r, err := s.record("Reject", callID, content)
	if err != nil {
		return err
	}
	s.disconnect(r, callID, call.EndedRejected, "rejected")
	return nil
}

func (s *Simulator) HangUp(ctx context.Context, callID int) error {
	r, err := s.record("HangUp", callID, "")
	if err != nil {
		return err
	}
	s.disconnect(r, callID, call.EndedLocalHangup, "local hangup")
	return nil
}

func (s *Simulator) Hold(ctx context.Context, callID int) error {
	r, err := s.record("Hold", callID, "")
	if err != nil {
		return err
	}
	s.report(r, callID, call.StateHolding)
	return nil
}

func (s *Simulator) UnHold(ctx context.Context, callID int) error {
	r, err := s.record("UnHold", callID, "")
	if err != nil {
		return err
	}
	s.report(r, callID, call.StateActive)
	return nil
}

// Switch holds every active call of the same type and resumes callID.
func (s *Simulator) Switch(ctx context.Context, callID int) error {
	r, err := s.record("Switch", callID, "")
	if err != nil {
		return err
	}
	for _, id := range s.peers(s.typeOf(callID), callID) {
		if st, _ := s.state(id); st == call.StateActive {
			s.report(r, id, call.StateHolding)
		}
	}
	s.report(r, callID, call.StateActive)
	return nil
}

// Combine merges every connected call of the main call's type.
func (s *Simulator) Combine(ctx context.Context, mainCallID int) error {
	r, err := s.record("Combine", mainCallID, "")
	if err != nil {
		return err
	}
	members := append([]int{mainCallID}, s.peers(s.typeOf(mainCallID), mainCallID)...)
	for _, id := range members {
		st, _ := s.state(id)
		if st == call.StateHolding {
			s.report(r, id, call.StateActive)
			st = call.StateActive
		}
		if st != call.StateActive {
			continue
		}
		if err := r.ReportConferenceEvent(id, true); err != nil {
			slog.Warn("[Simulator] Conference report failed", "call_id", id, "error", err)
		}
	}
	return nil
}

func (s *Simulator) Separate(ctx context.Context, callID int) error {
	r, err := s.record("Separate", callID, "")
	if err != nil {
		return err
	}
	if err := r.ReportConferenceEvent(callID, false); err != nil {
		slog.Warn("[Simulator] Conference report failed", "call_id", callID, "error", err)
	}
	return nil
}

func (s *Simulator) KickOut(ctx context.Context, callID int) error {
	r, err := s.record("KickOut", callID, "")
	if err != nil {
		return err
	}
	if err := r.ReportConferenceEvent(callID, false); err != nil {
		slog.Warn("[Simulator] Conference report failed", "call_id", callID, "error", err)
	}
	s.disconnect(r, callID, call.EndedLocalHangup, "kicked out")
	return nil
}

func (s *Simulator) InviteToConference(ctx context.Context, mainCallID int, numbers []string) error {
	_, err := s.record("InviteToConference", mainCallID, fmt.Sprint(numbers))
	return err
}

func (s *Simulator) SetMute(ctx context.Context, callID int, muted bool) error {
	r, err := s.record("SetMute", callID, strconv.FormatBool(muted))
	if err != nil {
		return err
	}
	s.event(r, listener.CallEvent{CallID: callID, Kind: listener.EventMuteChanged, Detail: strconv.FormatBool(muted)})
	return nil
}

func (s *Simulator) StartRtt(ctx context.Context, callID int, message string) error {
	r, err := s.record("StartRtt", callID, message)
	if err != nil {
		return err
	}
	s.event(r, listener.CallEvent{CallID: callID, Kind: listener.EventRttStarted})
	return nil
}

func (s *Simulator) StopRtt(ctx context.Context, callID int) error {
	r, err := s.record("StopRtt", callID, "")
	if err != nil {
		return err
	}
	s.event(r, listener.CallEvent{CallID: callID, Kind: listener.EventRttStopped})
	return nil
}

func (s *Simulator) UpdateImsCallMode(ctx context.Context, callID int, mode call.VideoState) error {
	r, err := s.record("UpdateImsCallMode", callID, mode.String())
	if err != nil {
		return err
	}
	s.event(r, listener.CallEvent{CallID: callID, Kind: listener.EventMediaModeChanged, Detail: mode.String()})
	return nil
}

func (s *Simulator) ApplySetting(ctx context.Context, set Setting) error {
	r, err := s.record("ApplySetting", 0, set.Name+"="+set.Value)
	if err != nil {
		return err
	}
	s.event(r, listener.CallEvent{SlotID: set.SlotID, Kind: listener.EventSettingChanged, Detail: set.Name + "=" + set.Value})
	return nil
}
