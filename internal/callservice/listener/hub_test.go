package listener

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sebas/callservice/internal/callservice/call"
)

type counter struct {
	Base
	created   atomic.Int32
	updated   atomic.Int32
	destroyed atomic.Int32
	events    atomic.Int32
}

func (c *counter) NewCallCreated(call.Info) { c.created.Add(1) }
func (c *counter) CallStateUpdated(call.Info, call.TelCallState) { c.updated.Add(1) }
func (c *counter) CallDestroyed(call.Info) { c.destroyed.Add(1) }
func (c *counter) CallEventUpdated(CallEvent) { c.events.Add(1) }

type panicker struct{ Base }

func (panicker) NewCallCreated(call.Info) { panic("boom") }

func TestAddRemoveSetSemantics(t *testing.T) {
	h := NewHub()
	o := &counter{}

	if !h.AddOneObserver(o) || !h.AddOneObserver(o) {
		t.Fatal("AddOneObserver() = false")
	}
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}
	if h.AddOneObserver(nil) {
		t.Error("AddOneObserver(nil) = true")
	}

	if !h.RemoveOneObserver(o) {
		t.Error("RemoveOneObserver() = false")
	}
	if h.RemoveOneObserver(o) {
		t.Error("second RemoveOneObserver() = true")
	}

	h.NewCallCreated(call.Info{ID: 1})
	if o.created.Load() != 0 {
		t.Error("removed observer notified")
	}
}

func TestFanOut(t *testing.T) {
	h := NewHub()
	a, b := &counter{}, &counter{}
	h.AddOneObserver(a)
	h.AddOneObserver(b)

	info := call.Info{ID: 1, TelState: call.StateActive}
	h.NewCallCreated(info)
	h.CallStateUpdated(info, call.StateAlerting)
	h.CallDestroyed(info)
	h.CallEventUpdated(CallEvent{CallID: 1, Kind: EventMuteChanged})
	h.IncomingCallActivated(info)
	h.IncomingCallHungUp(info, false, "")

	for name, c := range map[string]*counter{"a": a, "b": b} {
		if c.created.Load() != 1 || c.updated.Load() != 1 || c.destroyed.Load() != 1 || c.events.Load() != 1 {
			t.Errorf("%s counts = %d/%d/%d/%d", name, c.created.Load(), c.updated.Load(), c.destroyed.Load(), c.events.Load())
		}
	}

	h.RemoveAllObserver()
	if h.Len() != 0 {
		t.Errorf("Len() after RemoveAllObserver = %d", h.Len())
	}
}

func TestPanickingObserverIsolated(t *testing.T) {
	h := NewHub()
	before, after := &counter{}, &counter{}
	h.AddOneObserver(before)
	h.AddOneObserver(panicker{})
	h.AddOneObserver(after)

	h.NewCallCreated(call.Info{ID: 1})

	if before.created.Load() != 1 || after.created.Load() != 1 {
		t.Errorf("delivery interrupted: before=%d after=%d", before.created.Load(), after.created.Load())
	}
}

// reentrant removes itself from the hub during delivery.
type reentrant struct {
	Base
	hub *Hub
}

func (r *reentrant) NewCallCreated(call.Info) { r.hub.RemoveOneObserver(r) }

func TestObserverMayReenterHub(t *testing.T) {
	h := NewHub()
	r := &reentrant{hub: h}
	h.AddOneObserver(r)

	h.NewCallCreated(call.Info{ID: 1})
	if h.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.Len())
	}
}

func TestConcurrentNotifyAndMutate(t *testing.T) {
	h := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			o := &counter{}
			for j := 0; j < 100; j++ {
				h.AddOneObserver(o)
				h.RemoveOneObserver(o)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.CallStateUpdated(call.Info{ID: j}, call.StateIdle)
			}
		}()
	}
	wg.Wait()
}
