// Package registry is the authoritative owner of every live call. Other
// components hold call ids and resolve them here on each use.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/callerr"
	"github.com/sebas/callservice/internal/callservice/store"
)

const (
	// TombstoneTTL is how long a destroyed call stays resolvable for late
	// transport callbacks.
	TombstoneTTL = 30 * time.Second
	// TombstoneSweepInterval is how often expired tombstones are dropped.
	TombstoneSweepInterval = 10 * time.Second
)

// Limits bound concurrent calls.
type Limits struct {
	MaxLiveCalls int // live (non-disconnected) calls of any type
	MaxRinging   int // simultaneously ringing non-VoIP calls
	MaxDialing   int // simultaneously dialing non-VoIP calls
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxLiveCalls: 6, MaxRinging: 1, MaxDialing: 1}
}

// Registry maps call id to call. A single RWMutex guards the map; entity
// locks are only ever taken while holding it, never the reverse.
type Registry struct {
	mu sync.RWMutex

	calls      map[int]*call.Call
	lastID     int
	lastVoIPID int
	limits     Limits

	// inUse reports whether a call is referenced by a conference; such calls
	// cannot be deleted.
	inUse func(callID int) bool

	tombstones *store.TTLStore[int, call.Info]
}

// New creates an empty registry.
func New(limits Limits) *Registry {
	r := &Registry{
		calls:      make(map[int]*call.Call),
		lastVoIPID: call.VoIPIDBase - 1,
		limits:     limits,
		tombstones: store.NewTTLStore[int, call.Info](TombstoneSweepInterval),
	}
	r.tombstones.SetOnEvict(func(id int, info call.Info) {
		slog.Debug("[Registry] Tombstone expired", "call_id", id, "ended", info.EndedType)
	})
	return r
}

// Limits returns the configured limits.
func (r *Registry) Limits() Limits {
	return r.limits
}

// SetMembershipGuard installs the conference membership check consulted by
// DeleteOneCallObject.
func (r *Registry) SetMembershipGuard(fn func(callID int) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inUse = fn
}

// AddOneCallObject assigns an id to c and registers it. It fails with
// CapacityExceeded when the live-call cap is already reached.
func (r *Registry) AddOneCallObject(c *call.Call) (int, error) {
	if c == nil {
		return 0, callerr.New("AddOneCallObject", callerr.KindArgumentInvalid, callerr.ReasonInvalidArgument)
	}
	if c.ID() != 0 {
		return 0, callerr.ForCall("AddOneCallObject", callerr.KindIllegalOperation, callerr.ReasonInvalidArgument, c.ID())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if live := r.liveCountLocked(); live >= r.limits.MaxLiveCalls {
		slog.Warn("[Registry] Live call cap reached", "live", live, "max", r.limits.MaxLiveCalls)
		return 0, callerr.New("AddOneCallObject", callerr.KindCapacityExceeded, callerr.ReasonCallCountExceeded)
	}

	id, ok := r.allocateIDLocked(c.Type())
	if !ok {
		return 0, callerr.New("AddOneCallObject", callerr.KindCapacityExceeded, callerr.ReasonCallCountExceeded)
	}
	if err := c.BindID(id); err != nil {
		return 0, err
	}
	r.calls[id] = c

	slog.Info("[Registry] Call added", "call_id", id, "type", c.Type(), "direction", c.Direction(), "total", len(r.calls))
	return id, nil
}

// allocateIDLocked returns the next free id for the call type. Ids grow
// monotonically and skip any id still present in the map.
func (r *Registry) allocateIDLocked(t call.CallType) (int, bool) {
	if t == call.TypeVoIP {
		for i := 0; i < len(r.calls)+1; i++ {
			r.lastVoIPID++
			if r.lastVoIPID <= call.VoIPIDBase-1 {
				r.lastVoIPID = call.VoIPIDBase
			}
			if _, taken := r.calls[r.lastVoIPID]; !taken {
				return r.lastVoIPID, true
			}
		}
		return 0, false
	}
	for i := 0; i < call.VoIPIDBase; i++ {
		r.lastID++
		if r.lastID >= call.VoIPIDBase {
			r.lastID = 1
		}
		if _, taken := r.calls[r.lastID]; !taken {
			return r.lastID, true
		}
	}
	return 0, false
}

// DeleteOneCallObject unregisters a call. Only ended calls can be deleted.
// Deleting an absent id returns NotFound and is otherwise harmless.
func (r *Registry) DeleteOneCallObject(callID int) error {
	r.mu.Lock()
	c, ok := r.calls[callID]
	if !ok {
		r.mu.Unlock()
		if _, recent := r.tombstones.Get(callID); recent {
			slog.Debug("[Registry] Call already deleted", "call_id", callID)
		} else {
			slog.Warn("[Registry] Delete of unknown call", "call_id", callID)
		}
		return callerr.ForCall("DeleteOneCallObject", callerr.KindNotFound, callerr.ReasonCallNotExist, callID)
	}
	if r.inUse != nil && r.inUse(callID) {
		r.mu.Unlock()
		slog.Warn("[Registry] Refusing to delete conference member", "call_id", callID)
		return callerr.ForCall("DeleteOneCallObject", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState, callID)
	}
	if info := c.Info(); info.IsLive() {
		r.mu.Unlock()
		slog.Warn("[Registry] Refusing to delete live call", "call_id", callID, "state", info.TelState)
		return callerr.ForCall("DeleteOneCallObject", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState, callID)
	}
	delete(r.calls, callID)
	remaining := len(r.calls)
	r.mu.Unlock()

	r.tombstones.Set(callID, c.Info(), TombstoneTTL)
	slog.Info("[Registry] Call deleted", "call_id", callID, "remaining", remaining)
	return nil
}

// Recent returns the final snapshot of a recently deleted call.
func (r *Registry) Recent(callID int) (call.Info, bool) {
	return r.tombstones.Get(callID)
}

// GetOneCallObject resolves a call id.
func (r *Registry) GetOneCallObject(callID int) (*call.Call, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[callID]
	return c, ok
}

// GetOneCallObjectByNumber returns the lowest-id live call with the number.
func (r *Registry) GetOneCallObjectByNumber(number string) (*call.Call, bool) {
	return r.find(func(i call.Info) bool { return i.Number == number && i.IsLive() })
}

// GetOneCallObjectByRunningState returns the lowest-id call in state.
func (r *Registry) GetOneCallObjectByRunningState(state call.RunningState) (*call.Call, bool) {
	return r.find(func(i call.Info) bool { return i.RunningState == state })
}

// GetOneCallObjectByTypeAndState returns the lowest-id call matching both.
func (r *Registry) GetOneCallObjectByTypeAndState(t call.CallType, state call.TelCallState) (*call.Call, bool) {
	return r.find(func(i call.Info) bool { return i.Type == t && i.TelState == state })
}

// GetOneCallObjectByIndex resolves a transport index on a slot.
func (r *Registry) GetOneCallObjectByIndex(t call.CallType, slotID, index int) (*call.Call, bool) {
	return r.find(func(i call.Info) bool { return i.Type == t && i.SlotID == slotID && i.Index == index })
}

// GetOneCallObjectByTransportID resolves a transport correlation id.
func (r *Registry) GetOneCallObjectByTransportID(transportID string) (*call.Call, bool) {
	if transportID == "" {
		return nil, false
	}
	return r.find(func(i call.Info) bool { return i.TransportID == transportID })
}

func (r *Registry) find(match func(call.Info) bool) (*call.Call, bool) {
	for _, c := range r.List() {
		if match(c.Info()) {
			return c, true
		}
	}
	return nil, false
}

// List returns a snapshot of all calls ordered by id. The registry lock is
// released before the slice is returned.
func (r *Registry) List() []*call.Call {
	r.mu.RLock()
	out := make([]*call.Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Infos returns value snapshots of all calls ordered by id.
func (r *Registry) Infos() []call.Info {
	calls := r.List()
	out := make([]call.Info, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Info())
	}
	return out
}

// Count returns the number of registered calls.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// Close stops background tombstone cleanup.
func (r *Registry) Close() {
	r.tombstones.Close()
}

func (r *Registry) liveCountLocked() int {
	n := 0
	for _, c := range r.calls {
		if c.Info().IsLive() {
			n++
		}
	}
	return n
}
