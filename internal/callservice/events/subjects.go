package events

import "fmt"

// Subject naming conventions for NATS.
//
// Hierarchy:
//   callservice.calls.<call_id>.<event_suffix>  - Per-call events
//   callservice.slots.<slot_id>.<event_suffix>  - Slot events (settings)
//
// Wildcard subscriptions:
//   callservice.calls.>                         - All call events
//   callservice.calls.*.ended                   - All call.ended events
//   callservice.calls.<call_id>.*               - All events for one call

const (
	// SubjectPrefix is the root of all call service subjects
	SubjectPrefix = "callservice"

	SubjectCalls = SubjectPrefix + ".calls"
	SubjectSlots = SubjectPrefix + ".slots"

	SubjectCallCreated   = "created"
	SubjectCallState     = "state"
	SubjectCallActivated = "activated"
	SubjectCallHungUp    = "hungup"
	SubjectCallDetail    = "detail"
	SubjectCallEnded     = "ended"
)

// CallSubject builds a subject for a specific call event.
// Example: CallSubject(3, "ended") => "callservice.calls.3.ended"
func CallSubject(callID int, eventSuffix string) string {
	return fmt.Sprintf("%s.%d.%s", SubjectCalls, callID, eventSuffix)
}

// SlotSubject builds a subject for slot events.
// Example: SlotSubject(0, "detail") => "callservice.slots.0.detail"
func SlotSubject(slotID int, eventSuffix string) string {
	return fmt.Sprintf("%s.%d.%s", SubjectSlots, slotID, eventSuffix)
}

// Subject patterns for common consumer configurations
var (
	// PatternAllCalls matches all call events
	PatternAllCalls = SubjectCalls + ".>"

	// PatternCallEnded matches all call.ended events (for call history)
	PatternCallEnded = SubjectCalls + ".*.ended"

	// PatternAllSlots matches all slot events
	PatternAllSlots = SubjectSlots + ".>"
)

// SubjectForEventType returns the suffix used for a given event type.
func SubjectForEventType(t EventType) string {
	switch t {
	case CallCreated:
		return SubjectCallCreated
	case CallStateChanged:
		return SubjectCallState
	case CallIncomingActivated:
		return SubjectCallActivated
	case CallIncomingHungUp:
		return SubjectCallHungUp
	case CallDetail:
		return SubjectCallDetail
	case CallEnded:
		return SubjectCallEnded
	default:
		return "unknown"
	}
}
