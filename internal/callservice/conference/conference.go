// Package conference tracks multi-party call membership. CS and IMS
// conferences share one state machine and differ only in their Variant.
package conference

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/callerr"
)

// None is the main call id of a conference with no members.
const None = -1

// Variant captures the per-technology differences between conferences.
type Variant struct {
	Name             string
	CallType         call.CallType
	MaxSubCalls      int
	JoinWhileHolding bool // calls may join a held conference
	SupportsHold     bool // the network supports holding the whole conference
}

// CSVariant is the circuit-switched conference.
func CSVariant(maxSubCalls int) Variant {
	return Variant{Name: "CS", CallType: call.TypeCS, MaxSubCalls: maxSubCalls, JoinWhileHolding: true, SupportsHold: true}
}

// IMSVariant is the IMS conference. Hold is negotiated per call by the
// network, not on the conference.
func IMSVariant(maxSubCalls int) Variant {
	return Variant{Name: "IMS", CallType: call.TypeIMS, MaxSubCalls: maxSubCalls}
}

// Conference is one conference instance. Every mutation happens under mu
// and is followed by an invariant check.
type Conference struct {
	mu sync.Mutex

	variant    Variant
	state      State
	mainCallID int
	subCallIDs map[int]struct{}
	beginTime  time.Time

	strict bool
	now    func() time.Time
}

// New creates an idle conference.
func New(v Variant) *Conference {
	return &Conference{
		variant:    v,
		state:      StateIdle,
		mainCallID: None,
		subCallIDs: make(map[int]struct{}),
		now:        time.Now,
	}
}

// SetStrict makes invariant violations panic instead of resetting.
func (c *Conference) SetStrict(strict bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strict = strict
}

// Variant returns the conference variant.
func (c *Conference) Variant() Variant {
	return c.variant
}

func (c *Conference) fail(op string, kind callerr.Kind, reason string, callID int) error {
	return callerr.ForCall(c.variant.Name+"."+op, kind, reason, callID)
}

// BeginConference starts a conference with mainCallID as its first member.
func (c *Conference) BeginConference(mainCallID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if mainCallID <= 0 {
		return c.fail("BeginConference", callerr.KindArgumentInvalid, callerr.ReasonInvalidArgument, mainCallID)
	}
	if c.state != StateIdle {
		return c.fail("BeginConference", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState, mainCallID)
	}

	c.state = StateCreating
	c.mainCallID = mainCallID
	c.subCallIDs[mainCallID] = struct{}{}
	c.beginTime = c.now()
	c.checkLocked("BeginConference")

	slog.Info("[Conference] Created", "variant", c.variant.Name, "main_call_id", mainCallID)
	return nil
}

// JoinToConference adds callID to the conference.
func (c *Conference) JoinToConference(callID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateCreating, StateActive, StateLeaving:
	case StateHolding:
		if !c.variant.JoinWhileHolding {
			return c.fail("JoinToConference", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState, callID)
		}
	default:
		return c.fail("JoinToConference", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState, callID)
	}
	if _, ok := c.subCallIDs[callID]; ok {
		return c.fail("JoinToConference", callerr.KindAlreadyInState, callerr.ReasonAlreadyInState, callID)
	}
	if len(c.subCallIDs) >= c.variant.MaxSubCalls {
		slog.Warn("[Conference] Member limit reached", "variant", c.variant.Name, "call_id", callID, "max", c.variant.MaxSubCalls)
		return c.fail("JoinToConference", callerr.KindCapacityExceeded, callerr.ReasonConferenceFull, callID)
	}

	c.subCallIDs[callID] = struct{}{}
	c.state = StateActive
	if c.beginTime.IsZero() {
		c.beginTime = c.now()
	}
	c.checkLocked("JoinToConference")

	slog.Info("[Conference] Call joined", "variant", c.variant.Name, "call_id", callID, "members", len(c.subCallIDs))
	return nil
}

// LeaveFromConference removes callID. When the main call leaves the lowest
// remaining id becomes main; when the last call leaves the conference
// resets to IDLE.
func (c *Conference) LeaveFromConference(callID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subCallIDs[callID]; !ok {
		return c.fail("LeaveFromConference", callerr.KindNotFound, callerr.ReasonNotInConference, callID)
	}
	delete(c.subCallIDs, callID)

	if len(c.subCallIDs) == 0 {
		c.resetLocked()
		c.checkLocked("LeaveFromConference")
		slog.Info("[Conference] Last call left", "variant", c.variant.Name, "call_id", callID)
		return nil
	}

	if callID == c.mainCallID {
		c.mainCallID = c.lowestMemberLocked()
		slog.Info("[Conference] Main call reassigned", "variant", c.variant.Name, "from", callID, "to", c.mainCallID)
	}
	// LEAVING only exists inside the critical section.
	if c.state != StateDisconnecting {
		c.state = StateActive
	}
	c.checkLocked("LeaveFromConference")

	slog.Info("[Conference] Call left", "variant", c.variant.Name, "call_id", callID, "members", len(c.subCallIDs))
	return nil
}

// HoldConference puts the whole conference on hold.
func (c *Conference) HoldConference(callID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.variant.SupportsHold {
		return c.fail("HoldConference", callerr.KindIllegalOperation, callerr.ReasonUnsupported, callID)
	}
	if c.state == StateHolding {
		return nil
	}
	if _, ok := c.subCallIDs[callID]; !ok {
		if len(c.subCallIDs) == 0 {
			c.resetLocked()
		}
		return c.fail("HoldConference", callerr.KindNotFound, callerr.ReasonNotInConference, callID)
	}
	if !c.state.CanTransitionTo(StateHolding) {
		return c.fail("HoldConference", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState, callID)
	}
	c.state = StateHolding
	c.checkLocked("HoldConference")
	return nil
}

// UnHoldConference resumes a held conference.
func (c *Conference) UnHoldConference(callID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.variant.SupportsHold {
		return c.fail("UnHoldConference", callerr.KindIllegalOperation, callerr.ReasonUnsupported, callID)
	}
	if c.state == StateActive {
		return nil
	}
	if _, ok := c.subCallIDs[callID]; !ok {
		return c.fail("UnHoldConference", callerr.KindNotFound, callerr.ReasonNotInConference, callID)
	}
	if c.state != StateHolding {
		return c.fail("UnHoldConference", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState, callID)
	}
	c.state = StateActive
	c.checkLocked("UnHoldConference")
	return nil
}

// DisconnectConference marks the conference as being torn down. Members
// stay until they leave or ConferenceDisconnected is called.
func (c *Conference) DisconnectConference() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle:
		return c.fail("DisconnectConference", callerr.KindNotFound, callerr.ReasonConferenceNotExist, 0)
	case StateDisconnecting:
		return c.fail("DisconnectConference", callerr.KindAlreadyInState, callerr.ReasonAlreadyInState, 0)
	}
	c.state = StateDisconnecting
	c.checkLocked("DisconnectConference")
	slog.Info("[Conference] Disconnecting", "variant", c.variant.Name, "members", len(c.subCallIDs))
	return nil
}

// ConferenceDisconnected finishes teardown and returns the ids that were
// still members.
func (c *Conference) ConferenceDisconnected() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		return nil
	}
	released := c.sortedMembersLocked()
	c.state = StateDisconnected
	c.resetLocked()
	c.checkLocked("ConferenceDisconnected")
	slog.Info("[Conference] Disconnected", "variant", c.variant.Name, "released", released)
	return released
}

// CanCombineConference reports whether another call may be merged in.
func (c *Conference) CanCombineConference() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.subCallIDs) >= c.variant.MaxSubCalls {
		return c.fail("CanCombineConference", callerr.KindCapacityExceeded, callerr.ReasonConferenceFull, 0)
	}
	if c.state == StateDisconnecting || c.state == StateDisconnected {
		return c.fail("CanCombineConference", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState, 0)
	}
	return nil
}

// CanSeparateConference reports whether a member may be split out.
func (c *Conference) CanSeparateConference() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.subCallIDs) == 0 {
		return c.fail("CanSeparateConference", callerr.KindNotFound, callerr.ReasonConferenceNotExist, 0)
	}
	if c.state != StateActive {
		return c.fail("CanSeparateConference", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState, 0)
	}
	return nil
}

// CanKickOutFromConference reports whether a member may be dropped.
func (c *Conference) CanKickOutFromConference() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.subCallIDs) == 0 {
		return c.fail("CanKickOutFromConference", callerr.KindNotFound, callerr.ReasonConferenceNotExist, 0)
	}
	if c.state != StateActive && c.state != StateHolding {
		return c.fail("CanKickOutFromConference", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState, 0)
	}
	return nil
}

// State returns the conference state.
func (c *Conference) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MainCallID returns the main call id, or None.
func (c *Conference) MainCallID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mainCallID
}

// BeginTime returns when the conference was created.
func (c *Conference) BeginTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beginTime
}

// IsMember reports whether callID is in the conference.
func (c *Conference) IsMember(callID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subCallIDs[callID]
	return ok
}

// IsMainCall reports whether callID is the main call.
func (c *Conference) IsMainCall(callID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mainCallID != None && c.mainCallID == callID
}

// GetSubCallIDList returns the members in ascending order.
func (c *Conference) GetSubCallIDList() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedMembersLocked()
}

// GetCallIDListForConference returns all members of the conference callID
// belongs to.
func (c *Conference) GetCallIDListForConference(callID int) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subCallIDs[callID]; !ok {
		return nil, c.fail("GetCallIDListForConference", callerr.KindNotFound, callerr.ReasonNotInConference, callID)
	}
	return c.sortedMembersLocked(), nil
}

func (c *Conference) sortedMembersLocked() []int {
	ids := make([]int, 0, len(c.subCallIDs))
	for id := range c.subCallIDs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (c *Conference) lowestMemberLocked() int {
	lowest := None
	for id := range c.subCallIDs {
		if lowest == None || id < lowest {
			lowest = id
		}
	}
	return lowest
}

func (c *Conference) resetLocked() {
	c.state = StateIdle
	c.mainCallID = None
	c.subCallIDs = make(map[int]struct{})
	c.beginTime = time.Time{}
}

// checkLocked enforces: no members iff IDLE with no main call, and a main
// call, when set, is a member.
func (c *Conference) checkLocked(op string) {
	empty := len(c.subCallIDs) == 0
	idle := c.state == StateIdle && c.mainCallID == None
	_, mainIsMember := c.subCallIDs[c.mainCallID]

	if empty == idle && (empty || mainIsMember) {
		return
	}

	msg := fmt.Sprintf("conference %s after %s: state=%s main=%d members=%d",
		c.variant.Name, op, c.state, c.mainCallID, len(c.subCallIDs))
	if c.strict {
		panic("invariant violated: " + msg)
	}
	slog.Error("[Conference] Invariant violated, resetting", "detail", msg)
	c.resetLocked()
}
