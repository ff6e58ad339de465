// Package events turns call lifecycle notifications into serializable
// events and publishes them to out-of-process consumers.
package events

import (
	"encoding/json"
	"time"

	"github.com/sebas/callservice/internal/callservice/call"
)

// EventType identifies the type of call event
type EventType string

const (
	// CallCreated fires when a call is registered
	CallCreated EventType = "call.created"
	// CallStateChanged fires on every telephony state change
	CallStateChanged EventType = "call.state"
	// CallIncomingActivated fires when a ringing call is answered
	CallIncomingActivated EventType = "call.activated"
	// CallIncomingHungUp fires when a ringing call is rejected locally
	CallIncomingHungUp EventType = "call.hungup"
	// CallDetail carries out-of-band events (mute, RTT, failures)
	CallDetail EventType = "call.detail"
	// CallEnded fires when a call is destroyed
	CallEnded EventType = "call.ended"
)

// Event is the base interface for all call events
type Event interface {
	// Type returns the event type for routing/filtering
	Type() EventType
	// Subject returns the NATS subject this event should publish to
	Subject() string
	// Timestamp returns when the event occurred
	Timestamp() time.Time
	// CallID returns the call the event belongs to (0 for slot events)
	CallID() int
	// ID returns the unique event id used for deduplication
	ID() string
}

// BaseEvent contains fields common to all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	EventTime time.Time `json:"event_time"`
	Call      int       `json:"call_id"`
	// NodeID identifies the call service instance
	NodeID string `json:"node_id,omitempty"`
}

func (e *BaseEvent) Type() EventType      { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTime }
func (e *BaseEvent) CallID() int          { return e.Call }
func (e *BaseEvent) ID() string           { return e.EventID }

// Subject returns the NATS subject for routing
// Format: callservice.calls.<call_id>.<event_type_suffix>
func (e *BaseEvent) Subject() string {
	return CallSubject(e.Call, SubjectForEventType(e.EventType))
}

// CallSnapshot is the wire form of a call.
type CallSnapshot struct {
	ID              int    `json:"id"`
	Type            string `json:"type"`
	Direction       string `json:"direction"`
	Number          string `json:"number,omitempty"`
	ContactName     string `json:"contact_name,omitempty"`
	SlotID          int    `json:"slot_id"`
	TelState        string `json:"tel_state"`
	RunningState    string `json:"running_state"`
	ConferenceState string `json:"conference_state"`
	VideoState      string `json:"video_state"`
	Emergency       bool   `json:"emergency,omitempty"`
	Muted           bool   `json:"muted,omitempty"`
	Speakerphone    bool   `json:"speakerphone,omitempty"`
	Rtt             bool   `json:"rtt,omitempty"`
}

// NewSnapshot converts a call.Info to its wire form.
func NewSnapshot(i call.Info) CallSnapshot {
	return CallSnapshot{
		ID:              i.ID,
		Type:            i.Type.String(),
		Direction:       i.Direction.String(),
		Number:          i.Number,
		ContactName:     i.Contact.Name,
		SlotID:          i.SlotID,
		TelState:        i.TelState.String(),
		RunningState:    i.RunningState.String(),
		ConferenceState: i.ConferenceState.String(),
		VideoState:      i.VideoState.String(),
		Emergency:       i.IsEmergency,
		Muted:           i.Muted,
		Speakerphone:    i.SpeakerphoneOn,
		Rtt:             i.RttEnabled,
	}
}

// CallCreatedEvent fires when a call is registered
type CallCreatedEvent struct {
	BaseEvent
	Snapshot CallSnapshot `json:"call"`
}

// CallStateEvent fires on a telephony state change
type CallStateEvent struct {
	BaseEvent
	Prior    string       `json:"prior_state"`
	Snapshot CallSnapshot `json:"call"`
}

// IncomingHungUpEvent fires when an incoming call is rejected
type IncomingHungUpEvent struct {
	BaseEvent
	SendSms    bool         `json:"send_sms"`
	SmsContent string       `json:"sms_content,omitempty"`
	Snapshot   CallSnapshot `json:"call"`
}

// IncomingActivatedEvent fires when an incoming call is answered
type IncomingActivatedEvent struct {
	BaseEvent
	Snapshot CallSnapshot `json:"call"`
}

// CallDetailEvent carries an out-of-band call event
type CallDetailEvent struct {
	BaseEvent
	SlotID int    `json:"slot_id"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// CallEndedEvent fires when a call is destroyed
type CallEndedEvent struct {
	BaseEvent
	EndedType         string       `json:"ended_type"`
	DisconnectMessage string       `json:"disconnect_message,omitempty"`
	RingDurationMs    int64        `json:"ring_duration_ms"`
	TalkDurationMs    int64        `json:"talk_duration_ms"`
	TotalDurationMs   int64        `json:"total_duration_ms"`
	Disposition       string       `json:"disposition"`
	Snapshot          CallSnapshot `json:"call"`
}

// Disposition codes for ended calls
const (
	DispositionAnswered = "ANSWERED"
	DispositionNoAnswer = "NO_ANSWER"
	DispositionRejected = "REJECTED"
	DispositionFailed   = "FAILED"
)

// MarshalEvent encodes an event as JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
