package conference

import "fmt"

// State is the lifecycle state of a conference.
type State int

const (
	StateIdle State = iota
	StateCreating
	StateActive
	StateHolding
	StateLeaving
	StateDisconnecting
	StateDisconnected
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCreating:
		return "CREATING"
	case StateActive:
		return "ACTIVE"
	case StateHolding:
		return "HOLDING"
	case StateLeaving:
		return "LEAVING"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// validTransitions defines allowed conference state transitions.
var validTransitions = map[State][]State{
	StateIdle:          {StateCreating, StateDisconnecting},
	StateCreating:      {StateActive, StateIdle, StateLeaving, StateDisconnecting},
	StateActive:        {StateHolding, StateLeaving, StateDisconnecting},
	StateHolding:       {StateActive, StateLeaving, StateDisconnecting},
	StateLeaving:       {StateActive, StateIdle, StateDisconnecting},
	StateDisconnecting: {StateDisconnected},
	StateDisconnected:  {StateIdle},
}

// CanTransitionTo checks if transition to target state is valid
func (s State) CanTransitionTo(target State) bool {
	for _, valid := range validTransitions[s] {
		if valid == target {
			return true
		}
	}
	return false
}
