// Package call holds the per-call state model: identity, telephony state and
// its derived running state, conference participation and secondary flags.
package call

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/callservice/internal/callservice/callerr"
)

// VoIPIDBase is the first id handed to VoIP calls so they never collide with
// cellular and IMS ids.
const VoIPIDBase = 10000

// Attributes are the creation-time properties of a call.
type Attributes struct {
	Type        CallType
	Direction   Direction
	Number      string // remote party number
	SlotID      int    // SIM slot / account id
	VideoState  VideoState
	IsEmergency bool
	Index       int    // transport-side index (modem call index)
	TransportID string // transport correlation id, e.g. SIP Call-ID
	ContactName string
}

// Call is one call's mutable state. All fields are guarded by mu.
type Call struct {
	mu sync.RWMutex

	id          int
	callType    CallType
	direction   Direction
	slotID      int
	isEmergency bool
	index       int
	transportID string

	telState        TelCallState
	runningState    RunningState
	conferenceState ConferenceState
	videoState      VideoState

	accountNumber  string
	contactInfo    ContactInfo
	numberMarkInfo NumberMarkInfo

	policyFlags       PolicyFlag
	speakerphoneOn    bool
	muted             bool
	rttEnabled        bool
	answerType        AnswerType
	endedType         EndedType
	disconnectMessage string

	createdAt      time.Time
	stateChangedAt time.Time
	ringBeginAt    time.Time
	answeredAt     time.Time
	endedAt        time.Time
}

// New creates a call in the IDLE state. The id is assigned when the call is
// registered.
func New(attrs Attributes) *Call {
	now := time.Now()
	return &Call{
		callType:       attrs.Type,
		direction:      attrs.Direction,
		slotID:         attrs.SlotID,
		isEmergency:    attrs.IsEmergency,
		index:          attrs.Index,
		transportID:    attrs.TransportID,
		telState:       StateIdle,
		runningState:   RunningCreate,
		videoState:     attrs.VideoState,
		accountNumber:  attrs.Number,
		contactInfo:    ContactInfo{Name: attrs.ContactName, Number: attrs.Number},
		createdAt:      now,
		stateChangedAt: now,
	}
}

// BindID assigns the registry id. It succeeds exactly once.
func (c *Call) BindID(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id != 0 {
		return callerr.ForCall("BindID", callerr.KindIllegalOperation, callerr.ReasonInvalidArgument, c.id)
	}
	if id <= 0 {
		return callerr.New("BindID", callerr.KindArgumentInvalid, callerr.ReasonInvalidArgument)
	}
	c.id = id
	return nil
}

// ID returns the call id (0 until registered).
func (c *Call) ID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *Call) Type() CallType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callType
}

func (c *Call) Direction() Direction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.direction
}

func (c *Call) SlotID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slotID
}

func (c *Call) IsEmergency() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isEmergency
}

func (c *Call) TransportID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transportID
}

// SetTelCallState moves the call to next and re-derives the running state.
// Setting the current state returns AlreadyInState; leaving DISCONNECTED or
// taking an edge outside the state graph returns IllegalOperation.
func (c *Call) SetTelCallState(next TelCallState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.telState
	if next == cur {
		slog.Debug("[Call] State unchanged", "call_id", c.id, "state", cur)
		return callerr.ForCall("SetTelCallState", callerr.KindAlreadyInState, callerr.ReasonAlreadyInState, c.id)
	}
	if !cur.CanTransitionTo(next) {
		slog.Warn("[Call] Rejected state transition", "call_id", c.id, "from", cur, "to", next)
		return callerr.ForCall("SetTelCallState", callerr.KindIllegalOperation, callerr.ReasonIllegalTransition, c.id)
	}

	now := time.Now()
	c.telState = next
	c.runningState = DeriveRunningState(next, c.runningState)
	c.stateChangedAt = now
	switch next {
	case StateIncoming, StateWaiting:
		if c.ringBeginAt.IsZero() {
			c.ringBeginAt = now
		}
	case StateActive, StateAnswered:
		if c.answeredAt.IsZero() {
			c.answeredAt = now
		}
	case StateDisconnected:
		c.endedAt = now
	}

	slog.Debug("[Call] State changed", "call_id", c.id, "from", cur, "to", next, "running", c.runningState)
	return nil
}

// GetTelCallState returns the current telephony state
func (c *Call) GetTelCallState() TelCallState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.telState
}

// GetRunningState returns the derived running state
func (c *Call) GetRunningState() RunningState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runningState
}

// GetConferenceState returns the call's conference participation state
func (c *Call) GetConferenceState() ConferenceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conferenceState
}

// SetConferenceState updates conference participation.
func (c *Call) SetConferenceState(s ConferenceState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conferenceState == s {
		return callerr.ForCall("SetConferenceState", callerr.KindAlreadyInState, callerr.ReasonAlreadyInState, c.id)
	}
	c.conferenceState = s
	return nil
}

func (c *Call) GetVideoState() VideoState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.videoState
}

func (c *Call) SetVideoState(v VideoState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoState = v
}

// SetPolicyFlag replaces the policy bitset.
func (c *Call) SetPolicyFlag(flags PolicyFlag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policyFlags = flags
}

// GetPolicyFlag returns the policy bitset.
func (c *Call) GetPolicyFlag() PolicyFlag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policyFlags
}

func (c *Call) SetSpeakerphoneOn(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speakerphoneOn = on
}

func (c *Call) IsSpeakerphoneOn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speakerphoneOn
}

func (c *Call) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

func (c *Call) IsMuted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.muted
}

func (c *Call) SetRttEnabled(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rttEnabled = on
}

func (c *Call) IsRttEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rttEnabled
}

func (c *Call) SetAnswerType(t AnswerType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answerType = t
}

func (c *Call) GetAnswerType() AnswerType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.answerType
}

// SetEndedType records why the call ended; message is free-form detail.
func (c *Call) SetEndedType(t EndedType, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endedType = t
	c.disconnectMessage = message
}

func (c *Call) GetEndedType() EndedType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endedType
}

func (c *Call) GetAccountNumber() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accountNumber
}

func (c *Call) SetAccountNumber(number string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accountNumber = number
}

func (c *Call) SetContactInfo(info ContactInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contactInfo = info
}

func (c *Call) GetContactInfo() ContactInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.contactInfo
}

func (c *Call) SetNumberMarkInfo(info NumberMarkInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.numberMarkInfo = info
}

func (c *Call) GetNumberMarkInfo() NumberMarkInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.numberMarkInfo
}

// Info is a value snapshot of a call, safe to hand to observers.
type Info struct {
	ID                int
	Type              CallType
	Direction         Direction
	SlotID            int
	Index             int
	TransportID       string
	IsEmergency       bool
	TelState          TelCallState
	RunningState      RunningState
	ConferenceState   ConferenceState
	VideoState        VideoState
	Number            string
	Contact           ContactInfo
	NumberMark        NumberMarkInfo
	PolicyFlags       PolicyFlag
	SpeakerphoneOn    bool
	Muted             bool
	RttEnabled        bool
	AnswerType        AnswerType
	EndedType         EndedType
	DisconnectMessage string
	CreatedAt         time.Time
	StateChangedAt    time.Time
	RingBeginAt       time.Time
	AnsweredAt        time.Time
	EndedAt           time.Time
}

// Info returns a consistent snapshot of the call.
func (c *Call) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Info{
		ID:                c.id,
		Type:              c.callType,
		Direction:         c.direction,
		SlotID:            c.slotID,
		Index:             c.index,
		TransportID:       c.transportID,
		IsEmergency:       c.isEmergency,
		TelState:          c.telState,
		RunningState:      c.runningState,
		ConferenceState:   c.conferenceState,
		VideoState:        c.videoState,
		Number:            c.accountNumber,
		Contact:           c.contactInfo,
		NumberMark:        c.numberMarkInfo,
		PolicyFlags:       c.policyFlags,
		SpeakerphoneOn:    c.speakerphoneOn,
		Muted:             c.muted,
		RttEnabled:        c.rttEnabled,
		AnswerType:        c.answerType,
		EndedType:         c.endedType,
		DisconnectMessage: c.disconnectMessage,
		CreatedAt:         c.createdAt,
		StateChangedAt:    c.stateChangedAt,
		RingBeginAt:       c.ringBeginAt,
		AnsweredAt:        c.answeredAt,
		EndedAt:           c.endedAt,
	}
}

// IsLive reports whether the call still counts against concurrency limits.
func (i Info) IsLive() bool {
	return i.TelState != StateDisconnected && i.RunningState != RunningEnded
}
