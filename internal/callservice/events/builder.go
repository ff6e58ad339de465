package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/listener"
)

// Builder provides construction of call events with consistent defaults.
type Builder struct {
	nodeID string
	now    func() time.Time
}

// NewBuilder creates an event builder with global defaults.
func NewBuilder(nodeID string) *Builder {
	return &Builder{nodeID: nodeID, now: time.Now}
}

// newBase creates a BaseEvent with common fields populated.
func (b *Builder) newBase(eventType EventType, callID int) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		EventTime: b.now().UTC(),
		Call:      callID,
		NodeID:    b.nodeID,
	}
}

// CallCreated builds a CallCreatedEvent.
func (b *Builder) CallCreated(info call.Info) *CallCreatedEvent {
	return &CallCreatedEvent{
		BaseEvent: b.newBase(CallCreated, info.ID),
		Snapshot:  NewSnapshot(info),
	}
}

// CallStateChanged builds a CallStateEvent.
func (b *Builder) CallStateChanged(info call.Info, prior call.TelCallState) *CallStateEvent {
	return &CallStateEvent{
		BaseEvent: b.newBase(CallStateChanged, info.ID),
		Prior:     prior.String(),
		Snapshot:  NewSnapshot(info),
	}
}

// IncomingActivated builds an IncomingActivatedEvent.
func (b *Builder) IncomingActivated(info call.Info) *IncomingActivatedEvent {
	return &IncomingActivatedEvent{
		BaseEvent: b.newBase(CallIncomingActivated, info.ID),
		Snapshot:  NewSnapshot(info),
	}
}

// IncomingHungUp builds an IncomingHungUpEvent.
func (b *Builder) IncomingHungUp(info call.Info, sendSms bool, content string) *IncomingHungUpEvent {
	return &IncomingHungUpEvent{
		BaseEvent:  b.newBase(CallIncomingHungUp, info.ID),
		SendSms:    sendSms,
		SmsContent: content,
		Snapshot:   NewSnapshot(info),
	}
}

// CallDetail builds a CallDetailEvent.
func (b *Builder) CallDetail(ev listener.CallEvent) *CallDetailEvent {
	return &CallDetailEvent{
		BaseEvent: b.newBase(CallDetail, ev.CallID),
		SlotID:    ev.SlotID,
		Kind:      string(ev.Kind),
		Detail:    ev.Detail,
	}
}

// Subject routes slot-level details under the slot hierarchy.
func (e *CallDetailEvent) Subject() string {
	if e.Call == 0 {
		return SlotSubject(e.SlotID, SubjectCallDetail)
	}
	return e.BaseEvent.Subject()
}

// CallEndedBuilder constructs CallEndedEvent.
type CallEndedBuilder struct {
	event *CallEndedEvent
}

// CallEnded starts building a CallEndedEvent from the final call snapshot.
// Durations and disposition are derived from the snapshot timestamps.
func (b *Builder) CallEnded(info call.Info) *CallEndedBuilder {
	ev := &CallEndedEvent{
		BaseEvent:         b.newBase(CallEnded, info.ID),
		EndedType:         info.EndedType.String(),
		DisconnectMessage: info.DisconnectMessage,
		Snapshot:          NewSnapshot(info),
	}

	end := info.EndedAt
	if end.IsZero() {
		end = b.now()
	}
	ev.TotalDurationMs = durationMs(info.CreatedAt, end)
	if !info.RingBeginAt.IsZero() {
		ringEnd := end
		if !info.AnsweredAt.IsZero() {
			ringEnd = info.AnsweredAt
		}
		ev.RingDurationMs = durationMs(info.RingBeginAt, ringEnd)
	}

	switch {
	case !info.AnsweredAt.IsZero():
		ev.TalkDurationMs = durationMs(info.AnsweredAt, end)
		ev.Disposition = DispositionAnswered
	case info.EndedType == call.EndedRejected:
		ev.Disposition = DispositionRejected
	case info.EndedType == call.EndedFailed:
		ev.Disposition = DispositionFailed
	default:
		ev.Disposition = DispositionNoAnswer
	}
	return &CallEndedBuilder{event: ev}
}

// Disposition overrides the derived disposition.
func (cb *CallEndedBuilder) Disposition(code string) *CallEndedBuilder {
	cb.event.Disposition = code
	return cb
}

// Message overrides the disconnect message.
func (cb *CallEndedBuilder) Message(msg string) *CallEndedBuilder {
	cb.event.DisconnectMessage = msg
	return cb
}

func (cb *CallEndedBuilder) Build() *CallEndedEvent {
	return cb.event
}

func durationMs(from, to time.Time) int64 {
	if from.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from).Milliseconds()
}
