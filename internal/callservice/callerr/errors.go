// Package callerr defines the error taxonomy shared by the call service core.
package callerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure independent of the operation that produced it.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors outside the taxonomy.
	KindUnknown Kind = iota
	// KindArgumentInvalid means malformed input (bad enum, empty string, slot out of range).
	KindArgumentInvalid
	// KindNotFound means the referenced call or conference does not exist.
	KindNotFound
	// KindAlreadyInState means an idempotent no-op was attempted.
	KindAlreadyInState
	// KindIllegalOperation means a precondition on current state was violated.
	KindIllegalOperation
	// KindCapacityExceeded means a concurrent-call or membership limit was reached.
	KindCapacityExceeded
	// KindPermissionDenied means the caller lacks the required capability.
	KindPermissionDenied
	// KindUninitialized means the operation ran before its component was started.
	KindUninitialized
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindArgumentInvalid:
		return "ArgumentInvalid"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyInState:
		return "AlreadyInState"
	case KindIllegalOperation:
		return "IllegalOperation"
	case KindCapacityExceeded:
		return "CapacityExceeded"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindUninitialized:
		return "Uninitialized"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Sentinel errors for use with errors.Is.
var (
	ErrArgumentInvalid  = errors.New("argument invalid")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyInState   = errors.New("already in state")
	ErrIllegalOperation = errors.New("illegal operation")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUninitialized    = errors.New("uninitialized")
)

var sentinels = map[Kind]error{
	KindArgumentInvalid:  ErrArgumentInvalid,
	KindNotFound:         ErrNotFound,
	KindAlreadyInState:   ErrAlreadyInState,
	KindIllegalOperation: ErrIllegalOperation,
	KindCapacityExceeded: ErrCapacityExceeded,
	KindPermissionDenied: ErrPermissionDenied,
	KindUninitialized:    ErrUninitialized,
}

// Reason codes reported to IPC callers alongside the kind.
const (
	ReasonInvalidDialType      = "invalid_dial_type"
	ReasonInvalidCallType      = "invalid_call_type"
	ReasonInvalidDialScene     = "invalid_dial_scene"
	ReasonInvalidVideoState    = "invalid_video_state"
	ReasonInvalidSlot          = "invalid_slot_id"
	ReasonInvalidNumber        = "invalid_phone_number"
	ReasonInvalidArgument      = "invalid_argument"
	ReasonCallNotExist         = "call_not_exist"
	ReasonConferenceNotExist   = "conference_not_exist"
	ReasonNotInConference      = "not_in_conference"
	ReasonIllegalCallState     = "illegal_call_state"
	ReasonIllegalTransition    = "illegal_state_transition"
	ReasonCallCountExceeded    = "call_count_exceeded"
	ReasonRingingExceeded      = "ringing_call_exceeded"
	ReasonDialingExceeded      = "dialing_call_exceeded"
	ReasonConferenceFull       = "conference_members_exceeded"
	ReasonNoSIM                = "no_sim"
	ReasonAirplaneMode         = "airplane_mode"
	ReasonNotInService         = "network_not_in_service"
	ReasonIMSNotRegistered     = "ims_not_registered"
	ReasonUnsupported          = "unsupported_operation"
	ReasonInsufficientCalls    = "insufficient_calls"
	ReasonDialingInProgress    = "dialing_in_progress"
	ReasonNotMainCall          = "not_conference_main_call"
	ReasonPermission           = "permission_denied"
	ReasonNotStarted           = "not_started"
	ReasonQueueFull            = "queue_full"
	ReasonAlreadyInState       = "already_in_state"
	ReasonInvariantViolation   = "invariant_violation"
	ReasonEmergencyCallOngoing = "emergency_call_ongoing"
)

// Error is a classified failure produced by the core.
type Error struct {
	Op     string // operation that failed, e.g. "DialPolicy"
	Kind   Kind
	Reason string // machine-readable reason code
	CallID int    // 0 when not call-specific
	Err    error  // optional underlying error
}

// New creates an Error for op with the given kind and reason.
func New(op string, kind Kind, reason string) *Error {
	return &Error{Op: op, Kind: kind, Reason: reason}
}

// ForCall creates an Error bound to a call id.
func ForCall(op string, kind Kind, reason string, callID int) *Error {
	return &Error{Op: op, Kind: kind, Reason: reason, CallID: callID}
}

// Wrap creates an Error that carries an underlying cause.
func Wrap(op string, kind Kind, reason string, err error) *Error {
	return &Error{Op: op, Kind: kind, Reason: reason, Err: err}
}

// Error returns the error message.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Reason)
	if e.CallID != 0 {
		msg = fmt.Sprintf("%s: call %d: %s (%s)", e.Op, e.CallID, e.Kind, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf extracts the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindUnknown
}

// ReasonOf extracts the reason code of err, or the empty string.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsSoft reports whether err is a success-equivalent failure that the
// control layer absorbs.
func IsSoft(err error) bool {
	return errors.Is(err, ErrAlreadyInState)
}
