package call

import "fmt"

// CallType identifies the transport family of a call. It is fixed at creation.
type CallType int

const (
	TypeCS CallType = iota
	TypeIMS
	TypeOTT
	TypeVoIP
	TypeSatellite
	TypeBluetooth
	TypeError
)

// String returns the string representation of the call type
func (t CallType) String() string {
	switch t {
	case TypeCS:
		return "CS"
	case TypeIMS:
		return "IMS"
	case TypeOTT:
		return "OTT"
	case TypeVoIP:
		return "VOIP"
	case TypeSatellite:
		return "SATELLITE"
	case TypeBluetooth:
		return "BLUETOOTH"
	case TypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// IsCarrier reports whether the call is carried by the cellular stack.
func (t CallType) IsCarrier() bool {
	return t == TypeCS || t == TypeIMS || t == TypeSatellite
}

// ParseCallType parses the String form of a call type.
func ParseCallType(s string) (CallType, bool) {
	for t := TypeCS; t <= TypeError; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return TypeError, false
}

// Direction is the call direction. It is fixed at creation; a call built
// without one stays DirectionUnknown.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionIncoming
	DirectionOutgoing
)

// String returns the string representation of the direction
func (d Direction) String() string {
	switch d {
	case DirectionIncoming:
		return "incoming"
	case DirectionOutgoing:
		return "outgoing"
	default:
		return "unknown"
	}
}

// VideoState describes the media capability of a call.
type VideoState int

const (
	VideoVoice VideoState = iota
	VideoSendOnly
	VideoReceiveOnly
	VideoBidirectional
)

// String returns the string representation of the video state
func (v VideoState) String() string {
	switch v {
	case VideoVoice:
		return "VOICE"
	case VideoSendOnly:
		return "SEND_ONLY"
	case VideoReceiveOnly:
		return "RECEIVE_ONLY"
	case VideoBidirectional:
		return "VIDEO"
	default:
		return fmt.Sprintf("Unknown(%d)", int(v))
	}
}

// ParseVideoState parses the String form of a video state.
func ParseVideoState(s string) (VideoState, bool) {
	for v := VideoVoice; v <= VideoBidirectional; v++ {
		if v.String() == s {
			return v, true
		}
	}
	return VideoVoice, false
}

// IsDialable reports whether v may be requested when dialing or answering.
func (v VideoState) IsDialable() bool {
	return v == VideoVoice || v == VideoBidirectional
}

// ConferenceState is the per-call view of conference participation.
type ConferenceState int

const (
	ConferenceIdle ConferenceState = iota
	ConferenceActive
	ConferenceHolding
	ConferenceDisconnecting
	ConferenceDisconnected
)

// String returns the string representation of the conference state
func (s ConferenceState) String() string {
	switch s {
	case ConferenceIdle:
		return "IDLE"
	case ConferenceActive:
		return "ACTIVE"
	case ConferenceHolding:
		return "HOLDING"
	case ConferenceDisconnecting:
		return "DISCONNECTING"
	case ConferenceDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// PolicyFlag is an opaque bitset interpreted by audio and ring side effects.
type PolicyFlag uint64

const (
	PolicyFlagRing PolicyFlag = 1 << iota
	PolicyFlagVibrate
	PolicyFlagSpeaker
	PolicyFlagHoldWaitHangup
	PolicyFlagMuteRinger
	PolicyFlagVideoRing
)

// AnswerType records how an incoming call was answered.
type AnswerType int

const (
	AnswerNone AnswerType = iota
	AnswerByUser
	AnswerAuto
	AnswerRemote
)

// EndedType records how a call ended.
type EndedType int

const (
	EndedUnknown EndedType = iota
	EndedLocalHangup
	EndedRemoteHangup
	EndedRejected
	EndedMissed
	EndedFailed
)

// String returns the string representation of the ended type
func (e EndedType) String() string {
	switch e {
	case EndedLocalHangup:
		return "local_hangup"
	case EndedRemoteHangup:
		return "remote_hangup"
	case EndedRejected:
		return "rejected"
	case EndedMissed:
		return "missed"
	case EndedFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ContactInfo is the display identity resolved for the remote party.
type ContactInfo struct {
	Name         string
	Number       string
	RingtonePath string
	PhotoPath    string
}

// NumberMarkInfo carries spam/yellow-page marking for the remote number.
type NumberMarkInfo struct {
	MarkType    int
	MarkContent string
	MarkCount   int
	MarkSource  string
}
