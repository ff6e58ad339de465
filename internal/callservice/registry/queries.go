package registry

import "github.com/sebas/callservice/internal/callservice/call"

// The predicates below are pure reads over a registry snapshot.

// CountCalls returns the number of calls whose snapshot satisfies pred.
func (r *Registry) CountCalls(pred func(call.Info) bool) int {
	n := 0
	for _, i := range r.Infos() {
		if pred(i) {
			n++
		}
	}
	return n
}

// LiveCallCount returns the number of calls that are not disconnected.
func (r *Registry) LiveCallCount() int {
	return r.CountCalls(call.Info.IsLive)
}

// CarrierCallCount returns the number of live CS, IMS and satellite calls.
func (r *Registry) CarrierCallCount() int {
	return r.CountCalls(func(i call.Info) bool { return i.IsLive() && i.Type.IsCarrier() })
}

// HasRingingMaximum reports whether the non-VoIP ringing slot is full.
func (r *Registry) HasRingingMaximum() bool {
	n := r.CountCalls(func(i call.Info) bool {
		return i.Type != call.TypeVoIP && i.RunningState == call.RunningRinging
	})
	return n >= r.limits.MaxRinging
}

// HasDialingMaximum reports whether the non-VoIP dialing slot is full.
func (r *Registry) HasDialingMaximum() bool {
	n := r.CountCalls(func(i call.Info) bool {
		return i.Type != call.TypeVoIP && i.RunningState == call.RunningDialing
	})
	return n >= r.limits.MaxDialing
}

// HasEmergencyCall reports whether a live emergency call exists.
func (r *Registry) HasEmergencyCall() bool {
	return r.CountCalls(func(i call.Info) bool { return i.IsLive() && i.IsEmergency }) > 0
}

// HasCallExist reports whether any live call exists.
func (r *Registry) HasCallExist() bool {
	return r.LiveCallCount() > 0
}

// HasStateCall reports whether a live call is in the telephony state.
func (r *Registry) HasStateCall(state call.TelCallState) bool {
	return r.CountCalls(func(i call.Info) bool { return i.TelState == state }) > 0
}

// IsNewCallAllowedCreate reports whether a new call may be created now.
func (r *Registry) IsNewCallAllowedCreate() bool {
	return r.LiveCallCount() < r.limits.MaxLiveCalls && !r.HasDialingMaximum()
}
