package call

import "testing"

func TestTerminalStateHasNoEdges(t *testing.T) {
	for next := StateUnknown; next <= StateDisconnected; next++ {
		if StateDisconnected.CanTransitionTo(next) {
			t.Errorf("DISCONNECTED -> %s allowed", next)
		}
	}
}

func TestHangupPathFromEveryLiveState(t *testing.T) {
	for _, s := range []TelCallState{StateUnknown, StateIdle, StateDialing, StateAlerting, StateIncoming, StateWaiting, StateAnswered, StateActive, StateHolding} {
		if !s.CanTransitionTo(StateDisconnecting) {
			t.Errorf("%s -> DISCONNECTING not allowed", s)
		}
		if !s.CanTransitionTo(StateDisconnected) {
			t.Errorf("%s -> DISCONNECTED not allowed", s)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	for s := StateUnknown; s <= StateDisconnected; s++ {
		got, ok := ParseTelCallState(s.String())
		if !ok || got != s {
			t.Errorf("ParseTelCallState(%q) = %s, %v", s.String(), got, ok)
		}
	}
	if _, ok := ParseCallType("SATELLITE"); !ok {
		t.Error("ParseCallType(SATELLITE) failed")
	}
	if _, ok := ParseCallType("PSTN"); ok {
		t.Error("ParseCallType(PSTN) succeeded")
	}
}
