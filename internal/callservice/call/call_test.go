package call

import (
	"errors"
	"sync"
	"testing"

	"github.com/sebas/callservice/internal/callservice/callerr"
)

func newOutgoing() *Call {
	c := New(Attributes{Type: TypeCS, Direction: DirectionOutgoing, Number: "10086"})
	_ = c.BindID(1)
	return c
}

func TestDeriveRunningState(t *testing.T) {
	tests := []struct {
		state TelCallState
		want  RunningState
	}{
		{StateDialing, RunningDialing},
		{StateIncoming, RunningRinging},
		{StateWaiting, RunningRinging},
		{StateActive, RunningActive},
		{StateHolding, RunningHold},
		{StateDisconnected, RunningEnded},
		{StateDisconnecting, RunningEnding},
		{StateAlerting, RunningDialing},
		{StateAnswered, RunningActive},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			for prev := RunningCreate; prev <= RunningEnded; prev++ {
				if got := DeriveRunningState(tt.state, prev); got != tt.want {
					t.Errorf("DeriveRunningState(%s, %s) = %s, want %s", tt.state, prev, got, tt.want)
				}
			}
		})
	}

	t.Run("unmapped states keep previous", func(t *testing.T) {
		for _, s := range []TelCallState{StateUnknown, StateIdle} {
			if got := DeriveRunningState(s, RunningHold); got != RunningHold {
				t.Errorf("DeriveRunningState(%s, HOLD) = %s, want HOLD", s, got)
			}
		}
	})
}

func TestSetTelCallStateOutgoingPath(t *testing.T) {
	c := newOutgoing()

	for _, next := range []TelCallState{StateDialing, StateAlerting, StateActive} {
		if err := c.SetTelCallState(next); err != nil {
			t.Fatalf("SetTelCallState(%s) error: %v", next, err)
		}
		if got, want := c.GetRunningState(), DeriveRunningState(next, RunningCreate); got != want {
			t.Errorf("after %s running = %s, want %s", next, got, want)
		}
	}
	if c.GetRunningState() != RunningActive {
		t.Errorf("final running state = %s, want ACTIVE", c.GetRunningState())
	}

	if err := c.SetTelCallState(StateHolding); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if c.GetRunningState() != RunningHold {
		t.Errorf("running after hold = %s, want HOLD", c.GetRunningState())
	}
	if err := c.SetTelCallState(StateActive); err != nil {
		t.Fatalf("unhold: %v", err)
	}
}

func TestSetTelCallStateSameState(t *testing.T) {
	c := newOutgoing()
	if err := c.SetTelCallState(StateDialing); err != nil {
		t.Fatal(err)
	}
	before := c.Info()

	err := c.SetTelCallState(StateDialing)
	if !errors.Is(err, callerr.ErrAlreadyInState) {
		t.Fatalf("expected AlreadyInState, got %v", err)
	}
	after := c.Info()
	if before.TelState != after.TelState || before.RunningState != after.RunningState || before.StateChangedAt != after.StateChangedAt {
		t.Error("observable state changed on AlreadyInState")
	}
}

func TestSetTelCallStateTerminal(t *testing.T) {
	c := newOutgoing()
	_ = c.SetTelCallState(StateDialing)
	if err := c.SetTelCallState(StateDisconnected); err != nil {
		t.Fatalf("dial failure path: %v", err)
	}
	if c.GetRunningState() != RunningEnded {
		t.Errorf("running = %s, want ENDED", c.GetRunningState())
	}

	for _, next := range []TelCallState{StateActive, StateDialing, StateDisconnecting, StateIdle} {
		err := c.SetTelCallState(next)
		if callerr.KindOf(err) != callerr.KindIllegalOperation {
			t.Errorf("SetTelCallState(%s) from DISCONNECTED = %v, want IllegalOperation", next, err)
		}
	}
	if c.GetTelCallState() != StateDisconnected {
		t.Errorf("state = %s, want DISCONNECTED", c.GetTelCallState())
	}
}

func TestSetTelCallStateIllegalEdge(t *testing.T) {
	c := newOutgoing()
	_ = c.SetTelCallState(StateDialing)
	if err := c.SetTelCallState(StateHolding); callerr.KindOf(err) != callerr.KindIllegalOperation {
		t.Errorf("DIALING -> HOLDING = %v, want IllegalOperation", err)
	}
	if c.GetRunningState() != RunningDialing {
		t.Errorf("running changed on rejected transition: %s", c.GetRunningState())
	}
}

func TestIncomingTimestamps(t *testing.T) {
	c := New(Attributes{Type: TypeIMS, Direction: DirectionIncoming, Number: "12345"})
	_ = c.BindID(2)
	_ = c.SetTelCallState(StateIncoming)
	_ = c.SetTelCallState(StateAnswered)
	_ = c.SetTelCallState(StateActive)

	info := c.Info()
	if info.RingBeginAt.IsZero() || info.AnsweredAt.IsZero() {
		t.Error("ring/answer timestamps not recorded")
	}
	if !info.EndedAt.IsZero() {
		t.Error("ended timestamp set on live call")
	}
	if !info.IsLive() {
		t.Error("active call reported not live")
	}
}

func TestDirectionDefaultsToUnknown(t *testing.T) {
	c := New(Attributes{Type: TypeCS})
	if got := c.Direction(); got != DirectionUnknown {
		t.Errorf("Direction() = %s, want unknown", got)
	}
	if got := c.Info().Direction.String(); got != "unknown" {
		t.Errorf("Info().Direction = %q, want unknown", got)
	}
}

func TestBindIDOnce(t *testing.T) {
	c := New(Attributes{Type: TypeCS})
	if err := c.BindID(0); callerr.KindOf(err) != callerr.KindArgumentInvalid {
		t.Errorf("BindID(0) = %v, want ArgumentInvalid", err)
	}
	if err := c.BindID(5); err != nil {
		t.Fatalf("BindID(5): %v", err)
	}
	if err := c.BindID(6); err == nil {
		t.Error("second BindID succeeded")
	}
	if c.ID() != 5 {
		t.Errorf("ID() = %d, want 5", c.ID())
	}
}

func TestSecondaryAttributes(t *testing.T) {
	c := newOutgoing()
	c.SetPolicyFlag(PolicyFlagRing | PolicyFlagSpeaker)
	c.SetMuted(true)
	c.SetSpeakerphoneOn(true)
	c.SetContactInfo(ContactInfo{Name: "Alice", Number: "10086"})
	c.SetNumberMarkInfo(NumberMarkInfo{MarkType: 2, MarkContent: "delivery"})
	c.SetEndedType(EndedLocalHangup, "user")

	info := c.Info()
	if info.PolicyFlags&PolicyFlagSpeaker == 0 || !info.Muted || !info.SpeakerphoneOn {
		t.Errorf("flags not captured: %+v", info)
	}
	if info.Contact.Name != "Alice" || info.NumberMark.MarkContent != "delivery" {
		t.Errorf("identity not captured: %+v", info)
	}
	if info.EndedType != EndedLocalHangup || info.DisconnectMessage != "user" {
		t.Errorf("ended type not captured: %+v", info)
	}
}

func TestConcurrentStateAccess(t *testing.T) {
	c := newOutgoing()
	_ = c.SetTelCallState(StateDialing)
	_ = c.SetTelCallState(StateActive)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.SetTelCallState(StateHolding)
			_ = c.SetTelCallState(StateActive)
		}()
		go func() {
			defer wg.Done()
			info := c.Info()
			if info.RunningState != DeriveRunningState(info.TelState, RunningCreate) {
				t.Errorf("inconsistent snapshot: %s / %s", info.TelState, info.RunningState)
			}
		}()
	}
	wg.Wait()
}
