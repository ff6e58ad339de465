// Package listener fans call lifecycle notifications out to registered
// observers.
package listener

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/sebas/callservice/internal/callservice/call"
)

// EventKind identifies a call event that is not a state change.
type EventKind string

const (
	EventDialFailed       EventKind = "dial_failed"
	EventHoldFailed       EventKind = "hold_failed"
	EventSwapFailed       EventKind = "swap_failed"
	EventCombineFailed    EventKind = "combine_failed"
	EventSeparateFailed   EventKind = "separate_failed"
	EventMuteChanged      EventKind = "mute_changed"
	EventRttStarted       EventKind = "rtt_started"
	EventRttStopped       EventKind = "rtt_stopped"
	EventMediaModeChanged EventKind = "media_mode_changed"
	EventSettingChanged   EventKind = "setting_changed"
	EventConferenceJoined EventKind = "conference_joined"
	EventConferenceLeft   EventKind = "conference_left"
	EventRingTimeout      EventKind = "ring_timeout"
)

// CallEvent is an out-of-band event about a call (or a slot when CallID is 0).
type CallEvent struct {
	CallID int
	SlotID int
	Kind   EventKind
	Detail string
}

// Observer receives call lifecycle notifications. Implementations must be
// comparable (typically pointers) and must not block.
type Observer interface {
	NewCallCreated(info call.Info)
	CallDestroyed(info call.Info)
	CallStateUpdated(info call.Info, prior call.TelCallState)
	IncomingCallHungUp(info call.Info, sendSms bool, content string)
	IncomingCallActivated(info call.Info)
	CallEventUpdated(ev CallEvent)
}

// Base implements Observer with no-ops. Embed it to handle a subset.
type Base struct{}

func (Base) NewCallCreated(call.Info) {}
func (Base) CallDestroyed(call.Info) {}
func (Base) CallStateUpdated(call.Info, call.TelCallState) {}
func (Base) IncomingCallHungUp(call.Info, bool, string) {}
func (Base) IncomingCallActivated(call.Info) {}
func (Base) CallEventUpdated(CallEvent) {}

// Hub is the observer registry.
type Hub struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// AddOneObserver registers o. Adding a registered observer is a no-op
// success.
func (h *Hub) AddOneObserver(o Observer) bool {
	if o == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, existing := range h.observers {
		if existing == o {
			return true
		}
	}
	h.observers = append(h.observers, o)
	slog.Debug("[Listener] Observer added", "observer", fmt.Sprintf("%T", o), "count", len(h.observers))
	return true
}

// RemoveOneObserver unregisters o and reports whether it was registered.
func (h *Hub) RemoveOneObserver(o Observer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, existing := range h.observers {
		if existing == o {
			h.observers = append(h.observers[:i:i], h.observers[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveAllObserver clears the hub.
func (h *Hub) RemoveAllObserver() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = nil
}

// Len returns the number of registered observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

func (h *Hub) snapshot() []Observer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Observer, len(h.observers))
	copy(out, h.observers)
	return out
}

// each delivers to every observer in a snapshot. A panicking observer is
// logged and skipped.
func (h *Hub) each(method string, fn func(Observer)) {
	for _, o := range h.snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("[Listener] Observer panicked",
						"method", method,
						"observer", fmt.Sprintf("%T", o),
						"panic", r,
					)
				}
			}()
			fn(o)
		}()
	}
}

func (h *Hub) NewCallCreated(info call.Info) {
	h.each("NewCallCreated", func(o Observer) { o.NewCallCreated(info) })
}

func (h *Hub) CallDestroyed(info call.Info) {
	h.each("CallDestroyed", func(o Observer) { o.CallDestroyed(info) })
}

func (h *Hub) CallStateUpdated(info call.Info, prior call.TelCallState) {
	h.each("CallStateUpdated", func(o Observer) { o.CallStateUpdated(info, prior) })
}

func (h *Hub) IncomingCallHungUp(info call.Info, sendSms bool, content string) {
	h.each("IncomingCallHungUp", func(o Observer) { o.IncomingCallHungUp(info, sendSms, content) })
}

func (h *Hub) IncomingCallActivated(info call.Info) {
	h.each("IncomingCallActivated", func(o Observer) { o.IncomingCallActivated(info) })
}

func (h *Hub) CallEventUpdated(ev CallEvent) {
	h.each("CallEventUpdated", func(o Observer) { o.CallEventUpdated(ev) })
}
