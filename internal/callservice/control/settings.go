package control

import (
	"context"
	"strconv"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/policy"
	"github.com/sebas/callservice/internal/callservice/transport"
)

// Slot settings are supplementary services of the carrier network, so they
// go to the CS adapter. The outcome arrives as a setting_changed event.

func (m *Manager) applySetting(ctx context.Context, check func() error, set transport.Setting) error {
	if err := m.loop.Sync(ctx, check); err != nil {
		return err
	}
	return m.signal(ctx, "ApplySetting", 0, call.TypeCS, func(ctx context.Context, a transport.Adapter) error {
		return a.ApplySetting(ctx, set)
	})
}

// SetCallWaiting turns call waiting on or off for a slot.
func (m *Manager) SetCallWaiting(ctx context.Context, slotID int, enabled bool) error {
	return m.applySetting(ctx,
		func() error { return m.policy.CallWaitingPolicy(slotID) },
		transport.Setting{SlotID: slotID, Name: transport.SettingCallWaiting, Value: strconv.FormatBool(enabled)})
}

// SetCallRestriction changes call barring. value is the barring program,
// e.g. "all_outgoing" or "off".
func (m *Manager) SetCallRestriction(ctx context.Context, slotID int, value string) error {
	return m.applySetting(ctx,
		func() error { return m.policy.CallRestrictionPolicy(slotID) },
		transport.Setting{SlotID: slotID, Name: transport.SettingCallRestriction, Value: value})
}

// SetCallTransfer forwards calls to number; an empty number cancels
// forwarding.
func (m *Manager) SetCallTransfer(ctx context.Context, slotID int, number string) error {
	return m.applySetting(ctx,
		func() error { return m.policy.CallTransferPolicy(slotID) },
		transport.Setting{SlotID: slotID, Name: transport.SettingCallTransfer, Value: number})
}

// SetCallPreferenceMode selects the voice domain preference of a slot.
func (m *Manager) SetCallPreferenceMode(ctx context.Context, slotID int, mode policy.PreferenceMode) error {
	return m.applySetting(ctx,
		func() error { return m.policy.PreferenceModePolicy(slotID, mode) },
		transport.Setting{SlotID: slotID, Name: transport.SettingPreferenceMode, Value: strconv.Itoa(int(mode))})
}

// SetImsFeatureValue toggles one IMS capability.
func (m *Manager) SetImsFeatureValue(ctx context.Context, slotID int, feature policy.ImsFeature, value policy.Switch) error {
	return m.applySetting(ctx,
		func() error { return m.policy.ImsFeaturePolicy(slotID, feature, value) },
		transport.Setting{
			SlotID: slotID,
			Name:   transport.SettingImsFeature,
			Value:  strconv.Itoa(int(feature)) + ":" + strconv.Itoa(int(value)),
		})
}

// SetVoNRState switches voice over NR.
func (m *Manager) SetVoNRState(ctx context.Context, slotID int, state policy.Switch) error {
	return m.applySetting(ctx,
		func() error { return m.policy.VoNRPolicy(slotID, state) },
		transport.Setting{SlotID: slotID, Name: transport.SettingVoNR, Value: strconv.Itoa(int(state))})
}
