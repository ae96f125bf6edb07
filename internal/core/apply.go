package core

import (
	"time"

	"offsetcore/pkg/domain"
)

// ApplyWorkingOffsets commits every confirmed working offset. Real vectors
// are promoted to new existing offsets stamped with now; a queued reset
// deletes the location-specific existing offset so the location cascades
// to the default again. Working offsets are cleared either way and entries
// without a working offset are left alone.
//
// If any confirmed vector lacks the data needed to persist it the whole
// apply fails with *domain.IncompleteCalibrationError and details is not
// modified. The returned value never aliases details.
func ApplyWorkingOffsets(details LabwareGeometryDetails, now time.Time) (LabwareGeometryDetails, error) {
	if err := validateConfirmed(details); err != nil {
		return details, err
	}
	out := details.Clone()
	out.Default.OffsetState = promote(out.Default.OffsetState, now, false)
	for i := range out.LocationSpecific {
		out.LocationSpecific[i].OffsetState = promote(out.LocationSpecific[i].OffsetState, now, true)
	}
	return out, nil
}

func promote(state OffsetState, now time.Time, allowReset bool) OffsetState {
	if state.Working == nil {
		return state
	}
	confirmed := state.Working.Confirmed
	if confirmed.IsReset() && allowReset {
		return OffsetState{}
	}
	if v, ok := confirmed.Vector(); ok {
		return OffsetState{Existing: &ExistingOffset{Vector: v, CreatedAt: now}}
	}
	// Nothing confirmed: the jog session is abandoned on apply.
	return OffsetState{Existing: state.Existing}
}

// ClearWorkingOffsets drops every working offset, leaving existing offsets
// untouched. Used when the operator cancels without saving.
func ClearWorkingOffsets(details LabwareGeometryDetails) LabwareGeometryDetails {
	out := details.Clone()
	out.Default.Working = nil
	for i := range out.LocationSpecific {
		out.LocationSpecific[i].Working = nil
	}
	return out
}

// ResetLocationToDefault queues the location-specific offset at loc for
// deletion. When the entry has no existing offset there is nothing to delete
// and its working offset is simply cleared.
//
// Default locations cannot be reset (domain.ErrResetUnsupported). Unknown
// locations produce a stale-location warning and details is returned as is.
func ResetLocationToDefault(details LabwareGeometryDetails, loc OffsetLocation) (LabwareGeometryDetails, Result, error) {
	if _, ok := loc.(DefaultLocation); ok {
		err := domain.ErrResetUnsupported
		return details, blocking("reset_location_to_default", domain.CodeResetUnsupported, details.DefinitionURI, loc, err), err
	}
	current, ok := details.Lookup(loc)
	if !ok {
		return details, staleLocation("reset_location_to_default", details.DefinitionURI, loc), nil
	}
	state := current.State().Clone()
	if state.Existing == nil {
		state.Working = nil
	} else {
		var initial *Vector3
		if state.Working != nil {
			initial = state.Working.InitialPosition
		}
		state.Working = &WorkingOffset{InitialPosition: initial, Confirmed: domain.ResetToDefault()}
	}
	updated, _ := details.WithState(loc, state)
	return updated, Result{}, nil
}

// PendingChanges builds the list handed to the persistence collaborator:
// one upsert per confirmed vector, and for each queued reset of a
// location-specific offset the location plus the ID of its known existing
// offset. It applies the same validation as ApplyWorkingOffsets.
func PendingChanges(details LabwareGeometryDetails) (domain.OffsetChangeSet, error) {
	if err := validateConfirmed(details); err != nil {
		return domain.OffsetChangeSet{}, err
	}
	var changes domain.OffsetChangeSet
	collect := func(loc OffsetLocation, state OffsetState, allowReset bool) {
		if state.Working == nil {
			return
		}
		if v, ok := state.Working.Confirmed.Vector(); ok {
			changes.Upserts = append(changes.Upserts, domain.OffsetApplyRequest{
				DefinitionURI: details.DefinitionURI,
				Location:      loc,
				Vector:        v,
			})
			return
		}
		if !state.Working.Confirmed.IsReset() || !allowReset {
			return
		}
		changes.Resets = append(changes.Resets, loc)
		if state.Existing != nil && state.Existing.ID != "" {
			changes.Deletes = append(changes.Deletes, state.Existing.ID)
		}
	}
	collect(details.Default.Location, details.Default.OffsetState, false)
	for _, entry := range details.LocationSpecific {
		collect(entry.Location, entry.OffsetState, true)
	}
	return changes, nil
}

// SupersededIDs adds to ids every persisted record at one of the reset
// locations, so older records a repository keeps as history are removed
// too. The result has no duplicates and keeps the order of ids first.
func SupersededIDs(ids []string, resets []OffsetLocation, persisted []domain.PersistedOffset) []string {
	keys := make(map[string]struct{}, len(resets))
	for _, loc := range resets {
		keys[loc.Key()] = struct{}{}
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	add := func(id string) {
		if _, dup := seen[id]; dup || id == "" {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range ids {
		add(id)
	}
	for _, p := range persisted {
		if p.Location == nil {
			continue
		}
		if _, ok := keys[p.Location.Key()]; ok {
			add(p.ID)
		}
	}
	return out
}

// RecordPersisted stamps the IDs and creation times reported by persistence
// onto the existing offsets they correspond to. Records for unknown
// locations, or whose vector no longer matches, are ignored.
func RecordPersisted(details LabwareGeometryDetails, persisted []domain.PersistedOffset) LabwareGeometryDetails {
	out := details
	for _, p := range persisted {
		if p.DefinitionURI != details.DefinitionURI || p.Location == nil {
			continue
		}
		current, ok := out.Lookup(p.Location)
		if !ok {
			continue
		}
		state := current.State().Clone()
		if state.Existing == nil || !state.Existing.Vector.Equal(p.Vector) {
			continue
		}
		state.Existing.ID = p.ID
		if !p.CreatedAt.IsZero() {
			state.Existing.CreatedAt = p.CreatedAt
		}
		out, _ = out.WithState(p.Location, state)
	}
	return out
}

func validateConfirmed(details LabwareGeometryDetails) error {
	var incomplete []domain.IncompleteEntry
	check := func(loc OffsetLocation, state OffsetState) {
		if state.Working == nil {
			return
		}
		if _, ok := state.Working.Confirmed.Vector(); !ok {
			return
		}
		var missing []string
		if loc.URI() == "" {
			missing = append(missing, "definition uri")
		}
		if state.Working.InitialPosition == nil {
			missing = append(missing, "initial position")
		}
		if state.Working.FinalPosition == nil {
			missing = append(missing, "final position")
		}
		if len(missing) > 0 {
			incomplete = append(incomplete, domain.IncompleteEntry{Location: loc, Missing: missing})
		}
	}
	check(details.Default.Location, details.Default.OffsetState)
	for _, entry := range details.LocationSpecific {
		check(entry.Location, entry.OffsetState)
	}
	if len(incomplete) > 0 {
		return &domain.IncompleteCalibrationError{URI: details.DefinitionURI, Entries: incomplete}
	}
	return nil
}
