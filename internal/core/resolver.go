package core

import "offsetcore/pkg/domain"

// MostRecentVector resolves the vector an entry currently stands for,
// without consulting the default offset:
//
//  1. a confirmed working vector wins;
//  2. otherwise the existing offset, unless a reset is queued;
//  3. otherwise there is none.
func MostRecentVector(details OffsetDetails) (Vector3, bool) {
	state := details.State()
	confirmed := state.WorkingConfirmed()
	if v, ok := confirmed.Vector(); ok {
		return v, true
	}
	if state.Existing != nil && !confirmed.IsReset() {
		return state.Existing.Vector, true
	}
	return Vector3{}, false
}

// MostRecentVectorWithDefaultFallback resolves details and cascades to the
// default entry when details has no vector of its own or has a reset queued.
// The default itself never falls back further.
func MostRecentVectorWithDefaultFallback(details OffsetDetails, defaults DefaultOffsetDetails) (Vector3, bool) {
	if _, isDefault := details.(DefaultOffsetDetails); isDefault {
		return MostRecentVector(details)
	}
	if !details.State().WorkingConfirmed().IsReset() {
		if v, ok := MostRecentVector(details); ok {
			return v, true
		}
	}
	return MostRecentVector(defaults)
}

// EffectiveBaseline is the vector a fresh jog session at loc composes
// against: the cascaded most recent vector, or the identity.
func EffectiveBaseline(labware LabwareGeometryDetails, loc OffsetLocation) Vector3 {
	details, ok := labware.Lookup(loc)
	if !ok {
		return domain.IdentityVector
	}
	if v, ok := MostRecentVectorWithDefaultFallback(details, labware.Default); ok {
		return v
	}
	return domain.IdentityVector
}
