package control

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/callerr"
	"github.com/sebas/callservice/internal/callservice/conference"
	"github.com/sebas/callservice/internal/callservice/listener"
	"github.com/sebas/callservice/internal/callservice/transport"
)

// resolve returns the call a report refers to. A report for a call that
// was destroyed moments ago returns ok=false with a nil error.
func (m *Manager) resolve(op string, callID int) (*call.Call, bool, error) {
	if c, ok := m.calls.GetOneCallObject(callID); ok {
		return c, true, nil
	}
	if info, ok := m.calls.Recent(callID); ok {
		slog.Debug("[Control] Late report for ended call", "op", op, "call_id", callID, "ended", info.EndedType)
		return nil, false, nil
	}
	return nil, false, callerr.ForCall(op, callerr.KindNotFound, callerr.ReasonCallNotExist, callID)
}

// ReportIncomingCall registers an inbound offer and returns its call id. A
// repeated offer with the same transport id returns the existing call.
func (m *Manager) ReportIncomingCall(ctx context.Context, attrs call.Attributes) (int, error) {
	const op = "ReportIncomingCall"
	if attrs.Type == call.TypeError {
		return 0, callerr.New(op, callerr.KindArgumentInvalid, callerr.ReasonInvalidCallType)
	}

	var id int
	err := m.apply(ctx, func(t *txn) error {
		if attrs.TransportID != "" {
			if c, ok := m.calls.GetOneCallObjectByTransportID(attrs.TransportID); ok {
				id = c.ID()
				return nil
			}
		}
		if attrs.Type != call.TypeVoIP && m.calls.HasRingingMaximum() {
			return callerr.New(op, callerr.KindCapacityExceeded, callerr.ReasonRingingExceeded)
		}

		waiting := m.calls.HasCallExist()
		attrs.Direction = call.DirectionIncoming
		c := call.New(attrs)
		newID, err := m.calls.AddOneCallObject(c)
		if err != nil {
			return err
		}
		created := c.Info()
		t.notify(func() { m.hub.NewCallCreated(created) })

		next := call.StateIncoming
		if waiting {
			next = call.StateWaiting
		}
		if err := m.setState(t, c, next); err != nil {
			return err
		}
		m.startRingTimer(newID)
		id = newID
		return nil
	})
	if err != nil {
		slog.Warn("[Control] Incoming call refused", "type", attrs.Type, "slot", attrs.SlotID, "error", err)
		return 0, err
	}
	slog.Info("[Control] Incoming call", "call_id", id, "type", attrs.Type, "slot", attrs.SlotID)
	return id, nil
}

// ReportStateChange applies a state change observed by the transport.
func (m *Manager) ReportStateChange(callID int, state call.TelCallState) error {
	const op = "ReportStateChange"
	return m.post(op, callID, func(t *txn) error {
		c, ok, err := m.resolve(op, callID)
		if !ok {
			return err
		}
		prior := c.GetTelCallState()
		if state == call.StateDisconnected {
			ended := call.EndedRemoteHangup
			if prior.IsRinging() {
				ended = call.EndedMissed
			}
			return m.finish(t, c, ended, "")
		}
		if err := m.setState(t, c, state); err != nil {
			return err
		}
		if !state.IsRinging() {
			m.stopRingTimer(callID)
		}
		if prior.IsRinging() && state == call.StateActive && c.GetAnswerType() == call.AnswerNone {
			c.SetAnswerType(call.AnswerRemote)
		}
		m.syncConferenceHold(c, prior, state)
		return nil
	})
}

// syncConferenceHold mirrors a member's hold state onto its conference.
func (m *Manager) syncConferenceHold(c *call.Call, prior, next call.TelCallState) {
	id := c.ID()
	conf, ok := m.confs.Of(id)
	if !ok {
		return
	}
	var err error
	switch {
	case next == call.StateHolding:
		_ = c.SetConferenceState(call.ConferenceHolding)
		err = conf.HoldConference(id)
	case prior == call.StateHolding && next == call.StateActive:
		_ = c.SetConferenceState(call.ConferenceActive)
		err = conf.UnHoldConference(id)
	}
	if err != nil {
		slog.Debug("[Control] Conference hold not mirrored", "call_id", id, "error", err)
	}
}

// ReportDisconnected finishes a call the transport has released.
func (m *Manager) ReportDisconnected(callID int, reason call.EndedType, message string) error {
	const op = "ReportDisconnected"
	return m.post(op, callID, func(t *txn) error {
		c, ok, err := m.resolve(op, callID)
		if !ok {
			return err
		}
		slog.Info("[Control] Call disconnected", "call_id", callID, "reason", reason, "message", message)
		return m.finish(t, c, reason, message)
	})
}

// ReportConferenceEvent records a call joining or leaving its conference.
// The first join of an idle conference makes the call its main call.
func (m *Manager) ReportConferenceEvent(callID int, joined bool) error {
	const op = "ReportConferenceEvent"
	return m.post(op, callID, func(t *txn) error {
		c, ok, err := m.resolve(op, callID)
		if !ok {
			return err
		}
		if !joined {
			if !m.leaveConference(t, c, call.ConferenceIdle) {
				return callerr.ForCall(op, callerr.KindNotFound, callerr.ReasonNotInConference, callID)
			}
			return nil
		}

		conf, err := m.confs.For(c.Type())
		if err != nil {
			return err
		}
		if conf.State() == conference.StateIdle {
			err = conf.BeginConference(callID)
		} else {
			err = conf.JoinToConference(callID)
		}
		if err != nil && !callerr.IsSoft(err) {
			return err
		}
		if err := c.SetConferenceState(call.ConferenceActive); err != nil {
			return err
		}
		ev := listener.CallEvent{CallID: callID, SlotID: c.SlotID(), Kind: listener.EventConferenceJoined}
		t.notify(func() { m.hub.CallEventUpdated(ev) })
		return nil
	})
}

// ReportCallEvent records an out-of-band event and forwards it to
// listeners.
func (m *Manager) ReportCallEvent(ev listener.CallEvent) error {
	const op = "ReportCallEvent"
	return m.post(op, ev.CallID, func(t *txn) error {
		if ev.CallID != 0 {
			c, ok, err := m.resolve(op, ev.CallID)
			if !ok {
				return err
			}
			ev.SlotID = c.SlotID()
			switch ev.Kind {
			case listener.EventMuteChanged:
				muted, err := strconv.ParseBool(ev.Detail)
				if err != nil {
					return callerr.Wrap(op, callerr.KindArgumentInvalid, callerr.ReasonInvalidArgument, err)
				}
				c.SetMuted(muted)
			case listener.EventRttStarted:
				c.SetRttEnabled(true)
			case listener.EventRttStopped:
				c.SetRttEnabled(false)
			case listener.EventMediaModeChanged:
				if v, ok := call.ParseVideoState(ev.Detail); ok {
					c.SetVideoState(v)
				}
			}
		}
		t.notify(func() { m.hub.CallEventUpdated(ev) })
		return nil
	})
}

func (m *Manager) startRingTimer(callID int) {
	if m.cfg.RingTimeout <= 0 {
		return
	}
	m.ringTimers[callID] = time.AfterFunc(m.cfg.RingTimeout, func() {
		if err := m.loop.Post(func() { m.ringTimeout(callID) }); err != nil {
			slog.Warn("[Control] Ring timeout dropped", "call_id", callID, "error", err)
		}
	})
}

func (m *Manager) stopRingTimer(callID int) {
	if tm, ok := m.ringTimers[callID]; ok {
		tm.Stop()
		delete(m.ringTimers, callID)
	}
}

// ringTimeout runs on the loop when an incoming call rang too long.
func (m *Manager) ringTimeout(callID int) {
	if _, ok := m.ringTimers[callID]; !ok {
		return
	}
	delete(m.ringTimers, callID)

	c, ok := m.calls.GetOneCallObject(callID)
	if !ok || !c.GetTelCallState().IsRinging() {
		return
	}
	slog.Info("[Control] Ring timeout", "call_id", callID, "timeout", m.cfg.RingTimeout)

	t := &txn{}
	ev := listener.CallEvent{CallID: callID, SlotID: c.SlotID(), Kind: listener.EventRingTimeout}
	t.notify(func() { m.hub.CallEventUpdated(ev) })
	typ := c.Type()
	if err := m.finish(t, c, call.EndedMissed, "ring timeout"); err != nil {
		slog.Warn("[Control] Ring timeout cleanup failed", "call_id", callID, "error", err)
	}
	t.flush()

	go func() {
		_ = m.signal(context.Background(), "Reject", callID, typ, func(ctx context.Context, a transport.Adapter) error {
			return a.Reject(ctx, callID, false, "")
		})
	}()
}

// Close cancels pending ring timers.
func (m *Manager) Close(ctx context.Context) error {
	return m.loop.Sync(ctx, func() error {
		for id := range m.ringTimers {
			m.stopRingTimer(id)
		}
		return nil
	})
}
