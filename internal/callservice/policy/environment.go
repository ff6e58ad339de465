package policy

import (
	"sync"

	"github.com/sebas/callservice/internal/callservice/callerr"
)

// Environment is the radio and SIM state consulted by dial checks.
type Environment interface {
	SlotCount() int
	HasSIM(slotID int) bool
	IsAirplaneMode() bool
	IsInService(slotID int) bool
	IsIMSRegistered(slotID int) bool
	// RequiresIMS reports whether the carrier on the slot only supports
	// voice over IMS.
	RequiresIMS(slotID int) bool
}

// SlotStatus is the radio state of one SIM slot.
type SlotStatus struct {
	SIMPresent    bool `yaml:"sim_present"`
	InService     bool `yaml:"in_service"`
	IMSRegistered bool `yaml:"ims_registered"`
	IMSRequired   bool `yaml:"ims_required"`
}

// StaticEnvironment is an Environment backed by configured values. The
// simulator transport and the IPC layer update it at runtime.
type StaticEnvironment struct {
	mu       sync.RWMutex
	slots    []SlotStatus
	airplane bool
}

// NewStaticEnvironment creates an environment with the given slots.
func NewStaticEnvironment(slots []SlotStatus, airplane bool) *StaticEnvironment {
	cp := make([]SlotStatus, len(slots))
	copy(cp, slots)
	return &StaticEnvironment{slots: cp, airplane: airplane}
}

func (e *StaticEnvironment) SlotCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.slots)
}

func (e *StaticEnvironment) slot(id int) (SlotStatus, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if id < 0 || id >= len(e.slots) {
		return SlotStatus{}, false
	}
	return e.slots[id], true
}

func (e *StaticEnvironment) HasSIM(slotID int) bool {
	s, ok := e.slot(slotID)
	return ok && s.SIMPresent
}

func (e *StaticEnvironment) IsAirplaneMode() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.airplane
}

func (e *StaticEnvironment) IsInService(slotID int) bool {
	s, ok := e.slot(slotID)
	return ok && s.InService
}

func (e *StaticEnvironment) IsIMSRegistered(slotID int) bool {
	s, ok := e.slot(slotID)
	return ok && s.IMSRegistered
}

func (e *StaticEnvironment) RequiresIMS(slotID int) bool {
	s, ok := e.slot(slotID)
	return ok && s.IMSRequired
}

// SetAirplaneMode toggles airplane mode.
func (e *StaticEnvironment) SetAirplaneMode(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.airplane = on
}

// SetSlot replaces the status of an existing slot.
func (e *StaticEnvironment) SetSlot(slotID int, s SlotStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if slotID < 0 || slotID >= len(e.slots) {
		return callerr.New("SetSlot", callerr.KindArgumentInvalid, callerr.ReasonInvalidSlot)
	}
	e.slots[slotID] = s
	return nil
}

// Slot returns the status of a slot.
func (e *StaticEnvironment) Slot(slotID int) (SlotStatus, bool) {
	return e.slot(slotID)
}
