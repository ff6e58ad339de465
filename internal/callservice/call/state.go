package call

import "fmt"

// TelCallState is the detailed telephony state reported by transports.
type TelCallState int

const (
	StateUnknown TelCallState = iota
	StateIdle
	StateDialing
	StateAlerting
	StateIncoming
	StateWaiting
	StateAnswered
	StateActive
	StateHolding
	StateDisconnecting
	StateDisconnected
)

// String returns the string representation of the state
func (s TelCallState) String() string {
	switch s {
	case StateUnknown:
		return "UNKNOWN"
	case StateIdle:
		return "IDLE"
	case StateDialing:
		return "DIALING"
	case StateAlerting:
		return "ALERTING"
	case StateIncoming:
		return "INCOMING"
	case StateWaiting:
		return "WAITING"
	case StateAnswered:
		return "ANSWERED"
	case StateActive:
		return "ACTIVE"
	case StateHolding:
		return "HOLDING"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// ParseTelCallState parses the String form of a state.
func ParseTelCallState(s string) (TelCallState, bool) {
	for st := StateUnknown; st <= StateDisconnected; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return StateUnknown, false
}

// IsRinging reports whether the state is an unanswered incoming offer.
func (s TelCallState) IsRinging() bool {
	return s == StateIncoming || s == StateWaiting
}

// IsTerminal returns true if no further transitions are accepted.
func (s TelCallState) IsTerminal() bool {
	return s == StateDisconnected
}

// validTransitions lists the edges the control logic drives.
var validTransitions = map[TelCallState][]TelCallState{
	StateUnknown:       {StateIdle, StateDialing, StateIncoming, StateWaiting, StateActive, StateDisconnecting, StateDisconnected},
	StateIdle:          {StateDialing, StateIncoming, StateWaiting, StateActive, StateDisconnecting, StateDisconnected},
	StateDialing:       {StateAlerting, StateActive, StateDisconnecting, StateDisconnected},
	StateAlerting:      {StateActive, StateDisconnecting, StateDisconnected},
	StateIncoming:      {StateWaiting, StateAnswered, StateActive, StateDisconnecting, StateDisconnected},
	StateWaiting:       {StateIncoming, StateAnswered, StateActive, StateDisconnecting, StateDisconnected},
	StateAnswered:      {StateActive, StateHolding, StateDisconnecting, StateDisconnected},
	StateActive:        {StateHolding, StateDisconnecting, StateDisconnected},
	StateHolding:       {StateActive, StateDisconnecting, StateDisconnected},
	StateDisconnecting: {StateDisconnected},
	StateDisconnected:  {},
}

// CanTransitionTo checks if a transition from current state to next state is valid
func (s TelCallState) CanTransitionTo(next TelCallState) bool {
	for _, state := range validTransitions[s] {
		if state == next {
			return true
		}
	}
	return false
}

// RunningState is the coarse UI-facing projection of TelCallState.
type RunningState int

const (
	RunningCreate RunningState = iota
	RunningConnecting
	RunningDialing
	RunningRinging
	RunningActive
	RunningHold
	RunningEnding
	RunningEnded
)

// String returns the string representation of the running state
func (r RunningState) String() string {
	switch r {
	case RunningCreate:
		return "CREATE"
	case RunningConnecting:
		return "CONNECTING"
	case RunningDialing:
		return "DIALING"
	case RunningRinging:
		return "RINGING"
	case RunningActive:
		return "ACTIVE"
	case RunningHold:
		return "HOLD"
	case RunningEnding:
		return "ENDING"
	case RunningEnded:
		return "ENDED"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// DeriveRunningState maps a telephony state to its running state. States
// without a projection return prev unchanged.
func DeriveRunningState(s TelCallState, prev RunningState) RunningState {
	switch s {
	case StateDialing, StateAlerting:
		return RunningDialing
	case StateIncoming, StateWaiting:
		return RunningRinging
	case StateActive, StateAnswered:
		return RunningActive
	case StateHolding:
		return RunningHold
	case StateDisconnecting:
		return RunningEnding
	case StateDisconnected:
		return RunningEnded
	default:
		return prev
	}
}
