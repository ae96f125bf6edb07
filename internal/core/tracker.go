package core

import (
	"offsetcore/pkg/domain"
)

// RecordInitialPosition starts (or restarts) a jog session for loc. Any
// previously recorded final position is discarded; the confirmed vector is
// kept. The baseline in effect before the update is pinned on the working
// offset so a later final position composes against it.
//
// A location with no entry yields a stale-location warning and details is
// returned unchanged.
func RecordInitialPosition(details LabwareGeometryDetails, loc OffsetLocation, pos Vector3) (LabwareGeometryDetails, Result, error) {
	current, ok := details.Lookup(loc)
	if !ok {
		return details, staleLocation("record_initial_position", details.DefinitionURI, loc), nil
	}
	baseline := EffectiveBaseline(details, loc)
	state := current.State().Clone()
	if state.Working == nil {
		state.Working = &WorkingOffset{}
	}
	state.Working.InitialPosition = &pos
	state.Working.FinalPosition = nil
	state.Working.Baseline = &baseline

	updated, _ := details.WithState(loc, state)
	return updated, Result{}, nil
}

// RecordFinalPosition completes a jog session for loc. The confirmed vector
// becomes baseline adjusted by the jog delta, unless the working offset is
// the reset sentinel, which is preserved and only the final position stored.
//
// Recording a final position without an initial one is a caller error and
// yields *domain.MissingPositionError; the missing position is never treated
// as the identity.
func RecordFinalPosition(details LabwareGeometryDetails, loc OffsetLocation, pos Vector3, baseline Vector3) (LabwareGeometryDetails, Result, error) {
	current, ok := details.Lookup(loc)
	if !ok {
		return details, staleLocation("record_final_position", details.DefinitionURI, loc), nil
	}
	state := current.State().Clone()
	if state.Working == nil || state.Working.InitialPosition == nil {
		err := &domain.MissingPositionError{Location: loc, Field: "initial position"}
		return details, blocking("record_final_position", domain.CodeMissingPosition, details.DefinitionURI, loc, err), err
	}
	state.Working.FinalPosition = &pos
	if !state.Working.Confirmed.IsReset() {
		delta := domain.Difference(*state.Working.InitialPosition, pos)
		state.Working.Confirmed = domain.Confirmed(domain.Sum(baseline, delta))
	}

	updated, _ := details.WithState(loc, state)
	return updated, Result{}, nil
}

// PinnedBaseline returns the baseline captured when the jog session for loc
// started, falling back to a fresh resolution when none was pinned.
func PinnedBaseline(details LabwareGeometryDetails, loc OffsetLocation) Vector3 {
	if current, ok := details.Lookup(loc); ok {
		if w := current.State().Working; w != nil && w.Baseline != nil {
			return *w.Baseline
		}
	}
	return EffectiveBaseline(details, loc)
}
