// Package control is the front door of the call core. Application requests
// and transport reports are applied one at a time on a Loop: policy check,
// then the registry, call and conference mutation, then listener
// notifications. Signaling requests to transport adapters run afterwards,
// off the loop.
package control

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/callerr"
	"github.com/sebas/callservice/internal/callservice/conference"
	"github.com/sebas/callservice/internal/callservice/listener"
	"github.com/sebas/callservice/internal/callservice/policy"
	"github.com/sebas/callservice/internal/callservice/registry"
	"github.com/sebas/callservice/internal/callservice/transport"
)

const (
	// DefaultTransportTimeout bounds one signaling request.
	DefaultTransportTimeout = 10 * time.Second
	// DefaultMaxTransportRequests bounds concurrent signaling requests.
	DefaultMaxTransportRequests = 8
)

// Config tunes the manager.
type Config struct {
	// RingTimeout rejects incoming calls that are not answered in time.
	// Zero disables it.
	RingTimeout          time.Duration
	TransportTimeout     time.Duration
	MaxTransportRequests int64
	// EmergencyNumbers are dialed with emergency handling.
	EmergencyNumbers []string
}

// Deps are the core components the manager drives.
type Deps struct {
	Calls       *registry.Registry
	Conferences *conference.Engines
	Env         policy.Environment
	Hub         *listener.Hub
	Router      *transport.Router
	Loop        *Loop
}

// Manager translates requests into core transactions and signaling.
type Manager struct {
	cfg       Config
	calls     *registry.Registry
	confs     *conference.Engines
	policy    *policy.Policy
	hub       *listener.Hub
	router    *transport.Router
	loop      *Loop
	sem       *semaphore.Weighted
	emergency map[string]struct{}

	// ringTimers is only touched from loop tasks.
	ringTimers map[int]*time.Timer
}

var _ transport.Reporter = (*Manager)(nil)

// New wires a manager. The loop must be running before requests arrive.
func New(cfg Config, deps Deps) *Manager {
	if cfg.TransportTimeout <= 0 {
		cfg.TransportTimeout = DefaultTransportTimeout
	}
	if cfg.MaxTransportRequests <= 0 {
		cfg.MaxTransportRequests = DefaultMaxTransportRequests
	}

	m := &Manager{
		cfg:        cfg,
		calls:      deps.Calls,
		confs:      deps.Conferences,
		hub:        deps.Hub,
		router:     deps.Router,
		loop:       deps.Loop,
		sem:        semaphore.NewWeighted(cfg.MaxTransportRequests),
		emergency:  make(map[string]struct{}, len(cfg.EmergencyNumbers)),
		ringTimers: make(map[int]*time.Timer),
	}
	for _, n := range cfg.EmergencyNumbers {
		m.emergency[n] = struct{}{}
	}
	m.policy = policy.New(deps.Calls, deps.Conferences, deps.Env, dialFailureNotifier{hub: deps.Hub})
	deps.Calls.SetMembershipGuard(deps.Conferences.IsMember)
	return m
}

// Policy returns the policy engine the manager consults.
func (m *Manager) Policy() *policy.Policy {
	return m.policy
}

// dialFailureNotifier turns refused dials into dial_failed events.
type dialFailureNotifier struct {
	hub *listener.Hub
}

func (n dialFailureNotifier) NotifyDialFailure(reason string, number string) {
	n.hub.CallEventUpdated(listener.CallEvent{Kind: listener.EventDialFailed, Detail: reason})
}

// txn collects the notifications of one mutation. They are delivered in
// order once the mutation returns, with no core lock held.
type txn struct {
	notes []func()
}

func (t *txn) notify(fn func()) {
	t.notes = append(t.notes, fn)
}

func (t *txn) flush() {
	for _, fn := range t.notes {
		fn()
	}
}

// apply runs fn on the loop and waits for it.
func (m *Manager) apply(ctx context.Context, fn func(t *txn) error) error {
	return m.loop.Sync(ctx, func() error {
		t := &txn{}
		err := fn(t)
		t.flush()
		return err
	})
}

// post runs fn on the loop without waiting. Failures are only logged.
func (m *Manager) post(op string, callID int, fn func(t *txn) error) error {
	return m.loop.Post(func() {
		t := &txn{}
		if err := fn(t); err != nil {
			if callerr.IsSoft(err) {
				slog.Debug("[Control] Report absorbed", "op", op, "call_id", callID, "error", err)
			} else {
				slog.Warn("[Control] Report failed", "op", op, "call_id", callID, "error", err)
			}
		}
		t.flush()
	})
}

// signal sends one request to the adapter serving type typ.
func (m *Manager) signal(ctx context.Context, op string, callID int, typ call.CallType, fn func(context.Context, transport.Adapter) error) error {
	adapter, err := m.router.For(typ)
	if err != nil {
		return err
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.sem.Release(1)

	rctx, cancel := context.WithTimeout(ctx, m.cfg.TransportTimeout)
	defer cancel()
	if err := fn(rctx, adapter); err != nil {
		slog.Warn("[Control] Transport request failed", "op", op, "call_id", callID, "type", typ, "error", err)
		return err
	}
	slog.Debug("[Control] Transport request sent", "op", op, "call_id", callID, "type", typ)
	return nil
}

func (m *Manager) lookup(op string, callID int) (*call.Call, error) {
	c, ok := m.calls.GetOneCallObject(callID)
	if !ok {
		return nil, callerr.ForCall(op, callerr.KindNotFound, callerr.ReasonCallNotExist, callID)
	}
	return c, nil
}

// setState moves c to next and queues the resulting notifications.
func (m *Manager) setState(t *txn, c *call.Call, next call.TelCallState) error {
	prior := c.GetTelCallState()
	if err := c.SetTelCallState(next); err != nil {
		return err
	}
	info := c.Info()
	t.notify(func() { m.hub.CallStateUpdated(info, prior) })
	if prior.IsRinging() && (next == call.StateAnswered || next == call.StateActive) {
		t.notify(func() { m.hub.IncomingCallActivated(info) })
	}
	return nil
}

// finish drives c to DISCONNECTED and unregisters it. Conference membership
// is dropped first since the registry refuses to delete members.
func (m *Manager) finish(t *txn, c *call.Call, ended call.EndedType, message string) error {
	id := c.ID()
	m.stopRingTimer(id)
	if c.GetEndedType() == call.EndedUnknown {
		c.SetEndedType(ended, message)
	}
	m.leaveConference(t, c, call.ConferenceDisconnected)
	if err := m.setState(t, c, call.StateDisconnected); err != nil && !callerr.IsSoft(err) {
		return err
	}
	info := c.Info()
	if err := m.calls.DeleteOneCallObject(id); err != nil {
		return err
	}
	t.notify(func() { m.hub.CallDestroyed(info) })
	return nil
}

func (m *Manager) leaveConference(t *txn, c *call.Call, next call.ConferenceState) bool {
	id := c.ID()
	conf, ok := m.confs.Of(id)
	if !ok {
		return false
	}
	if err := conf.LeaveFromConference(id); err != nil {
		slog.Warn("[Control] Conference leave failed", "call_id", id, "error", err)
		return false
	}
	_ = c.SetConferenceState(next)
	ev := listener.CallEvent{CallID: id, SlotID: c.SlotID(), Kind: listener.EventConferenceLeft}
	t.notify(func() { m.hub.CallEventUpdated(ev) })
	return true
}

// abort ends a call whose signaling failed.
func (m *Manager) abort(callID int, kind listener.EventKind, cause error) {
	err := m.apply(context.Background(), func(t *txn) error {
		c, ok := m.calls.GetOneCallObject(callID)
		if !ok {
			return nil
		}
		if kind != "" {
			ev := listener.CallEvent{CallID: callID, SlotID: c.SlotID(), Kind: kind, Detail: callerr.ReasonOf(cause)}
			t.notify(func() { m.hub.CallEventUpdated(ev) })
		}
		return m.finish(t, c, call.EndedFailed, cause.Error())
	})
	if err != nil {
		slog.Warn("[Control] Abort failed", "call_id", callID, "error", err)
	}
}

// failed reports a signaling failure that leaves the call in place.
func (m *Manager) failed(callID int, kind listener.EventKind, cause error) {
	err := m.apply(context.Background(), func(t *txn) error {
		ev := listener.CallEvent{CallID: callID, Kind: kind, Detail: callerr.ReasonOf(cause)}
		if c, ok := m.calls.GetOneCallObject(callID); ok {
			ev.SlotID = c.SlotID()
		}
		t.notify(func() { m.hub.CallEventUpdated(ev) })
		return nil
	})
	if err != nil {
		slog.Warn("[Control] Failure event dropped", "call_id", callID, "kind", kind, "error", err)
	}
}

func (m *Manager) isEmergency(number string) bool {
	_, ok := m.emergency[number]
	return ok
}

// Dial places an outgoing call and returns its id.
func (m *Manager) Dial(ctx context.Context, number string, opts policy.DialOptions) (int, error) {
	if _, err := m.router.For(opts.CallType); err != nil {
		return 0, err
	}
	emergency := m.isEmergency(number)

	var req transport.DialRequest
	err := m.apply(ctx, func(t *txn) error {
		if err := m.policy.DialPolicy(number, opts, emergency); err != nil {
			return err
		}
		c := call.New(call.Attributes{
			Type:        opts.CallType,
			Direction:   call.DirectionOutgoing,
			Number:      number,
			SlotID:      opts.SlotID,
			VideoState:  opts.VideoState,
			IsEmergency: emergency,
		})
		id, err := m.calls.AddOneCallObject(c)
		if err != nil {
			return err
		}
		created := c.Info()
		t.notify(func() { m.hub.NewCallCreated(created) })
		if err := m.setState(t, c, call.StateDialing); err != nil {
			return err
		}
		req = transport.DialRequest{
			CallID:      id,
			Number:      number,
			SlotID:      opts.SlotID,
			Type:        opts.CallType,
			VideoState:  opts.VideoState,
			IsEmergency: emergency,
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Info("[Control] Dialing", "call_id", req.CallID, "type", req.Type, "slot", req.SlotID, "emergency", emergency)
	if err := m.signal(ctx, "Dial", req.CallID, req.Type, func(ctx context.Context, a transport.Adapter) error {
		return a.Dial(ctx, req)
	}); err != nil {
		m.abort(req.CallID, listener.EventDialFailed, err)
		return 0, err
	}
	return req.CallID, nil
}

// Answer accepts a ringing call.
func (m *Manager) Answer(ctx context.Context, callID int, video call.VideoState) error {
	var typ call.CallType
	err := m.apply(ctx, func(t *txn) error {
		if err := m.policy.AnswerCallPolicy(callID, video); err != nil {
			return err
		}
		c, err := m.lookup("Answer", callID)
		if err != nil {
			return err
		}
		m.stopRingTimer(callID)
		c.SetAnswerType(call.AnswerByUser)
		c.SetVideoState(video)
		typ = c.Type()
		return m.setState(t, c, call.StateAnswered)
	})
	if err != nil {
		return err
	}

	if err := m.signal(ctx, "Answer", callID, typ, func(ctx context.Context, a transport.Adapter) error {
		return a.Answer(ctx, callID, video)
	}); err != nil {
		m.abort(callID, "", err)
		return err
	}
	return nil
}

// Reject declines a ringing call, optionally replying by SMS.
func (m *Manager) Reject(ctx context.Context, callID int, sendSms bool, content string) error {
	var typ call.CallType
	err := m.apply(ctx, func(t *txn) error {
		if err := m.policy.RejectCallPolicy(callID); err != nil {
			return err
		}
		c, err := m.lookup("Reject", callID)
		if err != nil {
			return err
		}
		m.stopRingTimer(callID)
		c.SetEndedType(call.EndedRejected, "rejected")
		typ = c.Type()
		if err := m.setState(t, c, call.StateDisconnecting); err != nil {
			return err
		}
		info := c.Info()
		t.notify(func() { m.hub.IncomingCallHungUp(info, sendSms, content) })
		return nil
	})
	if err != nil {
		return err
	}

	if err := m.signal(ctx, "Reject", callID, typ, func(ctx context.Context, a transport.Adapter) error {
		return a.Reject(ctx, callID, sendSms, content)
	}); err != nil {
		m.abort(callID, "", err)
		return err
	}
	return nil
}

// HangUp ends a call in any live state.
func (m *Manager) HangUp(ctx context.Context, callID int) error {
	var typ call.CallType
	err := m.apply(ctx, func(t *txn) error {
		if err := m.policy.HangUpPolicy(callID); err != nil {
			return err
		}
		c, err := m.lookup("HangUp", callID)
		if err != nil {
			return err
		}
		m.stopRingTimer(callID)
		c.SetEndedType(call.EndedLocalHangup, "local hangup")
		typ = c.Type()
		return m.setState(t, c, call.StateDisconnecting)
	})
	if err != nil {
		return err
	}

	if err := m.signal(ctx, "HangUp", callID, typ, func(ctx context.Context, a transport.Adapter) error {
		return a.HangUp(ctx, callID)
	}); err != nil {
		// The user asked for the call to end; finish it locally.
		m.abort(callID, "", err)
		return err
	}
	return nil
}

// HangUpConference tears down the conference callID belongs to and hangs
// up every member.
func (m *Manager) HangUpConference(ctx context.Context, callID int) error {
	var (
		typ     call.CallType
		members []int
	)
	err := m.apply(ctx, func(t *txn) error {
		if err := m.policy.HangUpPolicy(callID); err != nil {
			return err
		}
		c, err := m.lookup("HangUpConference", callID)
		if err != nil {
			return err
		}
		conf, ok := m.confs.Of(callID)
		if !ok {
			return callerr.ForCall("HangUpConference", callerr.KindNotFound, callerr.ReasonNotInConference, callID)
		}
		if err := conf.DisconnectConference(); err != nil {
			return err
		}
		typ = c.Type()
		members = conf.GetSubCallIDList()
		for _, id := range members {
			mc, ok := m.calls.GetOneCallObject(id)
			if !ok {
				continue
			}
			_ = mc.SetConferenceState(call.ConferenceDisconnecting)
			mc.SetEndedType(call.EndedLocalHangup, "conference hangup")
			if err := m.setState(t, mc, call.StateDisconnecting); err != nil && !callerr.IsSoft(err) {
				slog.Warn("[Control] Member not disconnecting", "call_id", id, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	var firstErr error
	for _, id := range members {
		if err := m.signal(ctx, "HangUp", id, typ, func(ctx context.Context, a transport.Adapter) error {
			return a.HangUp(ctx, id)
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		// Release whatever is left so members can be finished locally.
		_ = m.apply(context.Background(), func(t *txn) error {
			conf, err := m.confs.For(typ)
			if err != nil {
				return err
			}
			for _, id := range conf.ConferenceDisconnected() {
				if c, ok := m.calls.GetOneCallObject(id); ok {
					if err := m.finish(t, c, call.EndedFailed, firstErr.Error()); err != nil {
						slog.Warn("[Control] Member cleanup failed", "call_id", id, "error", err)
					}
				}
			}
			return nil
		})
		return firstErr
	}
	return nil
}

// Hold puts an active call on hold. The state changes when the transport
// confirms.
func (m *Manager) Hold(ctx context.Context, callID int) error {
	return m.request(ctx, "Hold", callID, listener.EventHoldFailed, m.policy.HoldCallPolicy,
		func(ctx context.Context, a transport.Adapter) error { return a.Hold(ctx, callID) })
}

// UnHold resumes a held call.
func (m *Manager) UnHold(ctx context.Context, callID int) error {
	return m.request(ctx, "UnHold", callID, listener.EventHoldFailed, m.policy.UnHoldCallPolicy,
		func(ctx context.Context, a transport.Adapter) error { return a.UnHold(ctx, callID) })
}

// Switch swaps the held call callID with the active one.
func (m *Manager) Switch(ctx context.Context, callID int) error {
	return m.request(ctx, "Switch", callID, listener.EventSwapFailed, m.policy.SwitchCallPolicy,
		func(ctx context.Context, a transport.Adapter) error { return a.Switch(ctx, callID) })
}

// request runs a policy-gated signaling request that mutates nothing
// locally; the transport reports the outcome.
func (m *Manager) request(ctx context.Context, op string, callID int, failKind listener.EventKind,
	check func(int) error, send func(context.Context, transport.Adapter) error) error {
	var typ call.CallType
	err := m.apply(ctx, func(t *txn) error {
		if err := check(callID); err != nil {
			return err
		}
		c, err := m.lookup(op, callID)
		if err != nil {
			return err
		}
		typ = c.Type()
		return nil
	})
	if err != nil {
		return err
	}
	if err := m.signal(ctx, op, callID, typ, send); err != nil {
		if failKind != "" {
			m.failed(callID, failKind, err)
		}
		return err
	}
	return nil
}

// Combine merges the other live calls of the same type into a conference
// with mainCallID as its main call.
func (m *Manager) Combine(ctx context.Context, mainCallID int) error {
	var (
		typ   call.CallType
		begun bool
	)
	err := m.apply(ctx, func(t *txn) error {
		if err := m.policy.CombineConferencePolicy(mainCallID); err != nil {
			return err
		}
		c, err := m.lookup("Combine", mainCallID)
		if err != nil {
			return err
		}
		typ = c.Type()
		conf, err := m.confs.For(typ)
		if err != nil {
			return err
		}
		if err := conf.CanCombineConference(); err != nil {
			return err
		}
		if conf.State() == conference.StateIdle {
			if err := conf.BeginConference(mainCallID); err != nil {
				return err
			}
			begun = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := m.signal(ctx, "Combine", mainCallID, typ, func(ctx context.Context, a transport.Adapter) error {
		return a.Combine(ctx, mainCallID)
	}); err != nil {
		if begun {
			m.rollbackConference(typ, mainCallID)
		}
		m.failed(mainCallID, listener.EventCombineFailed, err)
		return err
	}
	return nil
}

// rollbackConference undoes a BeginConference nobody joined.
func (m *Manager) rollbackConference(typ call.CallType, mainCallID int) {
	_ = m.apply(context.Background(), func(t *txn) error {
		conf, err := m.confs.For(typ)
		if err != nil {
			return err
		}
		if conf.State() != conference.StateCreating || !conf.IsMainCall(mainCallID) {
			return nil
		}
		return conf.LeaveFromConference(mainCallID)
	})
}

// Separate splits callID out of its conference into a private call.
func (m *Manager) Separate(ctx context.Context, callID int) error {
	var typ call.CallType
	err := m.apply(ctx, func(t *txn) error {
		if err := m.policy.SeparateConferencePolicy(callID); err != nil {
			return err
		}
		c, err := m.lookup("Separate", callID)
		if err != nil {
			return err
		}
		if c.GetTelCallState() != call.StateActive {
			return callerr.ForCall("Separate", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState, callID)
		}
		conf, _ := m.confs.Of(callID)
		if err := conf.CanSeparateConference(); err != nil {
			return err
		}
		typ = c.Type()
		return nil
	})
	if err != nil {
		return err
	}
	if err := m.signal(ctx, "Separate", callID, typ, func(ctx context.Context, a transport.Adapter) error {
		return a.Separate(ctx, callID)
	}); err != nil {
		m.failed(callID, listener.EventSeparateFailed, err)
		return err
	}
	return nil
}

// KickOut drops callID from its conference and ends it.
func (m *Manager) KickOut(ctx context.Context, callID int) error {
	var typ call.CallType
	err := m.apply(ctx, func(t *txn) error {
		if err := m.policy.KickOutFromConferencePolicy(callID); err != nil {
			return err
		}
		c, err := m.lookup("KickOut", callID)
		if err != nil {
			return err
		}
		conf, _ := m.confs.Of(callID)
		if err := conf.CanKickOutFromConference(); err != nil {
			return err
		}
		typ = c.Type()
		return nil
	})
	if err != nil {
		return err
	}
	if err := m.signal(ctx, "KickOut", callID, typ, func(ctx context.Context, a transport.Adapter) error {
		return a.KickOut(ctx, callID)
	}); err != nil {
		m.failed(callID, listener.EventSeparateFailed, err)
		return err
	}
	return nil
}

// InviteToConference asks the network to add numbers to the conference led
// by mainCallID.
func (m *Manager) InviteToConference(ctx context.Context, mainCallID int, numbers []string) error {
	check := func(id int) error { return m.policy.InviteToConferencePolicy(id, numbers) }
	return m.request(ctx, "InviteToConference", mainCallID, "", check,
		func(ctx context.Context, a transport.Adapter) error {
			return a.InviteToConference(ctx, mainCallID, numbers)
		})
}

// SetMuted mutes or unmutes the uplink of a live call.
func (m *Manager) SetMuted(ctx context.Context, callID int, muted bool) error {
	check := func(id int) error {
		c, err := m.lookup("SetMuted", id)
		if err != nil {
			return err
		}
		if !c.Info().IsLive() {
			return callerr.ForCall("SetMuted", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState, id)
		}
		return nil
	}
	return m.request(ctx, "SetMute", callID, "", check,
		func(ctx context.Context, a transport.Adapter) error { return a.SetMute(ctx, callID, muted) })
}

// StartRtt enables real-time text on an active IMS call.
func (m *Manager) StartRtt(ctx context.Context, callID int, message string) error {
	return m.request(ctx, "StartRtt", callID, "", m.policy.StartRttPolicy,
		func(ctx context.Context, a transport.Adapter) error { return a.StartRtt(ctx, callID, message) })
}

// StopRtt disables real-time text.
func (m *Manager) StopRtt(ctx context.Context, callID int) error {
	return m.request(ctx, "StopRtt", callID, "", m.policy.StopRttPolicy,
		func(ctx context.Context, a transport.Adapter) error { return a.StopRtt(ctx, callID) })
}

// UpdateImsCallMode requests a media upgrade or downgrade.
func (m *Manager) UpdateImsCallMode(ctx context.Context, callID int, mode call.VideoState) error {
	check := func(id int) error { return m.policy.UpdateImsCallModePolicy(id, mode) }
	return m.request(ctx, "UpdateImsCallMode", callID, "", check,
		func(ctx context.Context, a transport.Adapter) error { return a.UpdateImsCallMode(ctx, callID, mode) })
}

// ListCalls returns snapshots of every registered call.
func (m *Manager) ListCalls(ctx context.Context) ([]call.Info, error) {
	var infos []call.Info
	err := m.loop.Sync(ctx, func() error {
		infos = m.calls.Infos()
		return nil
	})
	return infos, err
}

// GetCallInfo returns a snapshot of one call.
func (m *Manager) GetCallInfo(ctx context.Context, callID int) (call.Info, error) {
	var info call.Info
	err := m.loop.Sync(ctx, func() error {
		c, err := m.lookup("GetCallInfo", callID)
		if err != nil {
			return err
		}
		info = c.Info()
		return nil
	})
	return info, err
}

// GetCallIDListForConference returns the members of callID's conference.
func (m *Manager) GetCallIDListForConference(ctx context.Context, callID int) ([]int, error) {
	var ids []int
	err := m.loop.Sync(ctx, func() error {
		conf, ok := m.confs.Of(callID)
		if !ok {
			return callerr.ForCall("GetCallIDListForConference", callerr.KindNotFound, callerr.ReasonNotInConference, callID)
		}
		var err error
		ids, err = conf.GetCallIDListForConference(callID)
		return err
	})
	return ids, err
}
