package core

// Read projections over run snapshots. None of them mutate their input.

// MostRecentVectorForLocation resolves the vector shown for loc, cascading
// to the default offset. The boolean is false when neither the location nor
// the default has a vector, or when loc is unknown.
func MostRecentVectorForLocation(labware LabwareGeometryDetails, loc OffsetLocation) (Vector3, bool) {
	details, ok := labware.Lookup(loc)
	if !ok {
		return Vector3{}, false
	}
	return MostRecentVectorWithDefaultFallback(details, labware.Default)
}

// IsDefaultOffsetAbsent reports whether the labware has no default vector,
// neither persisted nor confirmed in the current session.
func IsDefaultOffsetAbsent(labware LabwareGeometryDetails) bool {
	_, ok := MostRecentVector(labware.Default)
	return !ok
}

// CountLocationSpecificOffsets counts the location-specific entries that
// resolve to a vector of their own. Entries that cascade to the default,
// including those with a queued reset, are not counted.
func CountLocationSpecificOffsets(labware LabwareGeometryDetails) int {
	n := 0
	for _, entry := range labware.LocationSpecific {
		if _, ok := MostRecentVector(entry); ok {
			n++
		}
	}
	return n
}

// WorkingOffsetsByURI groups the entries with a confirmed working offset
// (vector or reset) by labware URI. URIs with nothing to save are omitted,
// so an empty result means the save action has nothing to do.
func WorkingOffsetsByURI(run RunState) map[string][]OffsetDetails {
	out := make(map[string][]OffsetDetails)
	for _, uri := range run.URIs() {
		lw := run.Labware[uri]
		if hasConfirmed(lw.Default.OffsetState) {
			out[uri] = append(out[uri], lw.Default)
		}
		for _, entry := range lw.LocationSpecific {
			if hasConfirmed(entry.OffsetState) {
				out[uri] = append(out[uri], entry)
			}
		}
	}
	return out
}

// HasUnsavedChanges reports whether any labware in run has working state,
// confirmed or not, that an apply or clear would discard.
func HasUnsavedChanges(run RunState) bool {
	for _, lw := range run.Labware {
		if lw.Default.Working != nil {
			return true
		}
		for _, entry := range lw.LocationSpecific {
			if entry.Working != nil {
				return true
			}
		}
	}
	return false
}

func hasConfirmed(state OffsetState) bool {
	return state.WorkingConfirmed().IsSet()
}
