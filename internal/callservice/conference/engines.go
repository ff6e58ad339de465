package conference

import (
	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/callerr"
)

// Engines holds the CS and IMS conferences. A call belongs to at most one.
type Engines struct {
	CS  *Conference
	IMS *Conference
}

// NewEngines creates both conferences with their member limits.
func NewEngines(csLimit, imsLimit int) *Engines {
	return &Engines{
		CS:  New(CSVariant(csLimit)),
		IMS: New(IMSVariant(imsLimit)),
	}
}

// SetStrict applies SetStrict to both conferences.
func (e *Engines) SetStrict(strict bool) {
	e.CS.SetStrict(strict)
	e.IMS.SetStrict(strict)
}

// For returns the conference that handles calls of type t.
func (e *Engines) For(t call.CallType) (*Conference, error) {
	switch t {
	case call.TypeCS:
		return e.CS, nil
	case call.TypeIMS:
		return e.IMS, nil
	default:
		return nil, callerr.New("Conference", callerr.KindIllegalOperation, callerr.ReasonUnsupported)
	}
}

// Of returns the conference callID is a member of.
func (e *Engines) Of(callID int) (*Conference, bool) {
	for _, c := range []*Conference{e.CS, e.IMS} {
		if c.IsMember(callID) {
			return c, true
		}
	}
	return nil, false
}

// IsMember reports whether callID is in either conference.
func (e *Engines) IsMember(callID int) bool {
	_, ok := e.Of(callID)
	return ok
}

// IsMainCall reports whether callID is the main call of either conference.
func (e *Engines) IsMainCall(callID int) bool {
	return e.CS.IsMainCall(callID) || e.IMS.IsMainCall(callID)
}
