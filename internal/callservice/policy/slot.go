package policy

import (
	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/callerr"
)

// PreferenceMode is the voice domain preference of a slot.
type PreferenceMode int

const (
	PreferenceCSVoiceOnly PreferenceMode = iota + 1
	PreferenceCSVoicePreferred
	PreferenceIMSPSVoicePreferred
	PreferenceIMSPSVoiceOnly
)

// ImsFeature names a toggleable IMS capability.
type ImsFeature int

const (
	ImsFeatureVoice ImsFeature = iota
	ImsFeatureVideo
	ImsFeatureUT
)

// Switch is an on/off setting value.
type Switch int

const (
	SwitchOff Switch = iota
	SwitchOn
)

// SlotPolicy validates a slot id. Call waiting, restriction, transfer and
// IMS config requests need nothing more.
func (p *Policy) SlotPolicy(slotID int) error {
	if !p.validSlot(slotID) {
		return invalid("SlotPolicy", callerr.ReasonInvalidSlot)
	}
	return nil
}

// CallWaitingPolicy checks a call waiting change on slotID.
func (p *Policy) CallWaitingPolicy(slotID int) error { return p.SlotPolicy(slotID) }

// CallRestrictionPolicy checks a call barring change on slotID.
func (p *Policy) CallRestrictionPolicy(slotID int) error { return p.SlotPolicy(slotID) }

// CallTransferPolicy checks a call forwarding change on slotID.
func (p *Policy) CallTransferPolicy(slotID int) error { return p.SlotPolicy(slotID) }

// ImsConfigPolicy checks an IMS configuration change on slotID.
func (p *Policy) ImsConfigPolicy(slotID int) error { return p.SlotPolicy(slotID) }

// PreferenceModePolicy checks a voice domain preference change.
func (p *Policy) PreferenceModePolicy(slotID int, mode PreferenceMode) error {
	if err := p.SlotPolicy(slotID); err != nil {
		return err
	}
	if mode < PreferenceCSVoiceOnly || mode > PreferenceIMSPSVoiceOnly {
		return invalid("PreferenceModePolicy", callerr.ReasonInvalidArgument)
	}
	return nil
}

// ImsFeaturePolicy checks an IMS feature toggle.
func (p *Policy) ImsFeaturePolicy(slotID int, feature ImsFeature, value Switch) error {
	if err := p.SlotPolicy(slotID); err != nil {
		return err
	}
	if feature < ImsFeatureVoice || feature > ImsFeatureUT {
		return invalid("ImsFeaturePolicy", callerr.ReasonInvalidArgument)
	}
	if value != SwitchOff && value != SwitchOn {
		return invalid("ImsFeaturePolicy", callerr.ReasonInvalidArgument)
	}
	return nil
}

// VoNRPolicy checks a VoNR switch change.
func (p *Policy) VoNRPolicy(slotID int, state Switch) error {
	if err := p.SlotPolicy(slotID); err != nil {
		return err
	}
	if state != SwitchOff && state != SwitchOn {
		return invalid("VoNRPolicy", callerr.ReasonInvalidArgument)
	}
	return nil
}

// StartRttPolicy requires an active IMS call.
func (p *Policy) StartRttPolicy(callID int) error {
	return p.activeIMSCall("StartRttPolicy", callID)
}

// StopRttPolicy requires an active IMS call.
func (p *Policy) StopRttPolicy(callID int) error {
	return p.activeIMSCall("StopRttPolicy", callID)
}

// UpdateImsCallModePolicy checks a media mode change on an IMS call.
func (p *Policy) UpdateImsCallModePolicy(callID int, mode call.VideoState) error {
	const op = "UpdateImsCallModePolicy"
	if mode < call.VideoVoice || mode > call.VideoBidirectional {
		return invalid(op, callerr.ReasonInvalidVideoState)
	}
	return p.activeIMSCall(op, callID)
}

func (p *Policy) activeIMSCall(op string, callID int) error {
	info, err := p.lookup(op, callID)
	if err != nil {
		return err
	}
	if info.Type != call.TypeIMS {
		return illegal(op, callerr.ReasonUnsupported, callID)
	}
	if info.TelState != call.StateActive {
		return illegal(op, callerr.ReasonIllegalCallState, callID)
	}
	return nil
}
