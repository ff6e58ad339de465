package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/callerr"
)

func newCS(number string) *call.Call {
	return call.New(call.Attributes{Type: call.TypeCS, Direction: call.DirectionOutgoing, Number: number})
}

// hangUp drives a registered call to DISCONNECTED so it can be deleted.
func hangUp(t *testing.T, r *Registry, id int) {
	t.Helper()
	c, ok := r.GetOneCallObject(id)
	if !ok {
		t.Fatalf("GetOneCallObject(%d) not found", id)
	}
	if err := c.SetTelCallState(call.StateDisconnected); err != nil {
		t.Fatalf("SetTelCallState(DISCONNECTED) error = %v", err)
	}
}

func TestAddAssignsMonotonicIDs(t *testing.T) {
	r := New(DefaultLimits())
	defer r.Close()

	for want := 1; want <= 3; want++ {
		id, err := r.AddOneCallObject(newCS("10086"))
		if err != nil {
			t.Fatalf("AddOneCallObject() error = %v", err)
		}
		if id != want {
			t.Errorf("id = %d, want %d", id, want)
		}
	}

	hangUp(t, r, 3)
	if err := r.DeleteOneCallObject(3); err != nil {
		t.Fatalf("DeleteOneCallObject(3) error = %v", err)
	}
	id, _ := r.AddOneCallObject(newCS("10086"))
	if id != 4 {
		t.Errorf("id after delete = %d, want 4 (ids are not reused)", id)
	}
}

func TestVoIPIDsUseReservedBase(t *testing.T) {
	r := New(DefaultLimits())
	defer r.Close()

	voip := call.New(call.Attributes{Type: call.TypeVoIP, Direction: call.DirectionIncoming})
	id, err := r.AddOneCallObject(voip)
	if err != nil {
		t.Fatalf("AddOneCallObject() error = %v", err)
	}
	if id != call.VoIPIDBase {
		t.Errorf("VoIP id = %d, want %d", id, call.VoIPIDBase)
	}

	cs, _ := r.AddOneCallObject(newCS("1"))
	if cs != 1 {
		t.Errorf("CS id = %d, want 1", cs)
	}
}

func TestAddRejectsRegisteredOrNil(t *testing.T) {
	r := New(DefaultLimits())
	defer r.Close()

	if _, err := r.AddOneCallObject(nil); !errors.Is(err, callerr.ErrArgumentInvalid) {
		t.Errorf("AddOneCallObject(nil) error = %v, want ArgumentInvalid", err)
	}
	c := newCS("1")
	if _, err := r.AddOneCallObject(c); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddOneCallObject(c); !errors.Is(err, callerr.ErrIllegalOperation) {
		t.Errorf("second add error = %v, want IllegalOperation", err)
	}
}

func TestLiveCallCapBoundary(t *testing.T) {
	limits := Limits{MaxLiveCalls: 3, MaxRinging: 1, MaxDialing: 1}
	r := New(limits)
	defer r.Close()

	for i := 0; i < limits.MaxLiveCalls-1; i++ {
		if _, err := r.AddOneCallObject(newCS("1")); err != nil {
			t.Fatalf("add %d error = %v", i, err)
		}
	}

	// At limit-1 the next add is accepted.
	if _, err := r.AddOneCallObject(newCS("1")); err != nil {
		t.Fatalf("add at limit-1 error = %v", err)
	}
	// At the limit it is rejected.
	_, err := r.AddOneCallObject(newCS("1"))
	if !errors.Is(err, callerr.ErrCapacityExceeded) {
		t.Fatalf("add at limit error = %v, want CapacityExceeded", err)
	}
	if r.Count() != limits.MaxLiveCalls {
		t.Errorf("Count() = %d, want %d", r.Count(), limits.MaxLiveCalls)
	}

	// A disconnected call no longer counts.
	c, _ := r.GetOneCallObject(1)
	if err := c.SetTelCallState(call.StateDisconnected); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddOneCallObject(newCS("1")); err != nil {
		t.Errorf("add after disconnect error = %v", err)
	}
}

func TestConcurrentAddProducesDistinctIDs(t *testing.T) {
	const n = 64
	r := New(Limits{MaxLiveCalls: n, MaxRinging: 1, MaxDialing: 1})
	defer r.Close()

	ids := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.AddOneCallObject(newCS("1"))
			if err != nil {
				t.Errorf("AddOneCallObject() error = %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("got %d ids, want %d", len(seen), n)
	}
	for id := range seen {
		c, ok := r.GetOneCallObject(id)
		if !ok || c.ID() != id {
			t.Errorf("GetOneCallObject(%d) mismatch", id)
		}
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	r := New(DefaultLimits())
	defer r.Close()

	id, _ := r.AddOneCallObject(newCS("10086"))
	hangUp(t, r, id)
	if err := r.DeleteOneCallObject(id); err != nil {
		t.Fatalf("first delete error = %v", err)
	}
	if err := r.DeleteOneCallObject(id); !errors.Is(err, callerr.ErrNotFound) {
		t.Errorf("second delete error = %v, want NotFound", err)
	}
	info, ok := r.Recent(id)
	if !ok || info.ID != id {
		t.Errorf("Recent(%d) = %+v, %v", id, info, ok)
	}
	if _, ok := r.GetOneCallObject(id); ok {
		t.Error("deleted call still resolvable")
	}
}

func TestDeleteRefusesConferenceMember(t *testing.T) {
	r := New(DefaultLimits())
	defer r.Close()

	id, _ := r.AddOneCallObject(newCS("1"))
	r.SetMembershipGuard(func(callID int) bool { return callID == id })
	hangUp(t, r, id)

	if err := r.DeleteOneCallObject(id); !errors.Is(err, callerr.ErrIllegalOperation) {
		t.Errorf("delete member error = %v, want IllegalOperation", err)
	}
	if _, ok := r.GetOneCallObject(id); !ok {
		t.Error("member was deleted")
	}
}

func TestDeleteRefusesLiveCall(t *testing.T) {
	r := New(DefaultLimits())
	defer r.Close()

	c := newCS("10086")
	id, _ := r.AddOneCallObject(c)
	if err := c.SetTelCallState(call.StateDialing); err != nil {
		t.Fatalf("SetTelCallState(DIALING) error = %v", err)
	}

	err := r.DeleteOneCallObject(id)
	if !errors.Is(err, callerr.ErrIllegalOperation) || callerr.ReasonOf(err) != callerr.ReasonIllegalCallState {
		t.Errorf("delete DIALING call error = %v, want IllegalOperation/IllegalCallState", err)
	}
	if _, ok := r.GetOneCallObject(id); !ok {
		t.Fatal("live call was deleted")
	}

	hangUp(t, r, id)
	if err := r.DeleteOneCallObject(id); err != nil {
		t.Errorf("delete after hangup error = %v", err)
	}
}

func TestQueries(t *testing.T) {
	r := New(DefaultLimits())
	defer r.Close()

	a := newCS("10086")
	b := call.New(call.Attributes{Type: call.TypeIMS, Direction: call.DirectionIncoming, Number: "10010", IsEmergency: true, TransportID: "sip-1"})
	r.AddOneCallObject(a)
	r.AddOneCallObject(b)

	a.SetTelCallState(call.StateDialing)
	b.SetTelCallState(call.StateIncoming)

	t.Run("by number", func(t *testing.T) {
		c, ok := r.GetOneCallObjectByNumber("10010")
		if !ok || c != b {
			t.Errorf("GetOneCallObjectByNumber(10010) = %v, %v", c, ok)
		}
		if _, ok := r.GetOneCallObjectByNumber("999"); ok {
			t.Error("unexpected match for 999")
		}
	})

	t.Run("by running state", func(t *testing.T) {
		c, ok := r.GetOneCallObjectByRunningState(call.RunningDialing)
		if !ok || c != a {
			t.Errorf("GetOneCallObjectByRunningState(DIALING) = %v, %v", c, ok)
		}
	})

	t.Run("by type and state", func(t *testing.T) {
		c, ok := r.GetOneCallObjectByTypeAndState(call.TypeIMS, call.StateIncoming)
		if !ok || c != b {
			t.Errorf("GetOneCallObjectByTypeAndState = %v, %v", c, ok)
		}
		if _, ok := r.GetOneCallObjectByTypeAndState(call.TypeCS, call.StateIncoming); ok {
			t.Error("unexpected CS INCOMING match")
		}
	})

	t.Run("by transport id", func(t *testing.T) {
		c, ok := r.GetOneCallObjectByTransportID("sip-1")
		if !ok || c != b {
			t.Errorf("GetOneCallObjectByTransportID = %v, %v", c, ok)
		}
		if _, ok := r.GetOneCallObjectByTransportID(""); ok {
			t.Error("empty transport id matched")
		}
	})

	t.Run("predicates", func(t *testing.T) {
		if !r.HasRingingMaximum() {
			t.Error("HasRingingMaximum() = false with one ringing IMS call")
		}
		if !r.HasDialingMaximum() {
			t.Error("HasDialingMaximum() = false with one dialing CS call")
		}
		if !r.HasEmergencyCall() {
			t.Error("HasEmergencyCall() = false")
		}
		if !r.HasCallExist() {
			t.Error("HasCallExist() = false")
		}
		if r.IsNewCallAllowedCreate() {
			t.Error("IsNewCallAllowedCreate() = true while dialing")
		}
		if got := r.CarrierCallCount(); got != 2 {
			t.Errorf("CarrierCallCount() = %d, want 2", got)
		}
	})

	t.Run("list is ordered", func(t *testing.T) {
		infos := r.Infos()
		if len(infos) != 2 || infos[0].ID != 1 || infos[1].ID != 2 {
			t.Errorf("Infos() ids = %v", infos)
		}
	})
}

func TestVoIPRingingDoesNotCountTowardMaximum(t *testing.T) {
	r := New(DefaultLimits())
	defer r.Close()

	v := call.New(call.Attributes{Type: call.TypeVoIP, Direction: call.DirectionIncoming})
	r.AddOneCallObject(v)
	v.SetTelCallState(call.StateIncoming)

	if r.HasRingingMaximum() {
		t.Error("HasRingingMaximum() = true for a ringing VoIP call")
	}
}
