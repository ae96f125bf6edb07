package core

import (
	"fmt"

	"offsetcore/pkg/domain"
)

// SeedExisting loads previously persisted offsets into details as existing
// offsets. Location-specific records for locations the labware does not list
// yet are appended. When several records share a location the newest wins.
// Records for other URIs are rejected with domain.ErrURIMismatch.
func SeedExisting(details LabwareGeometryDetails, persisted []domain.PersistedOffset) (LabwareGeometryDetails, error) {
	out := details.Clone()
	for _, p := range persisted {
		if p.DefinitionURI != details.DefinitionURI || (p.Location != nil && p.Location.URI() != details.DefinitionURI) {
			return details, fmt.Errorf("persisted offset %s: %w", p.ID, domain.ErrURIMismatch)
		}
		existing := &ExistingOffset{ID: p.ID, Vector: p.Vector, CreatedAt: p.CreatedAt}
		switch loc := p.Location.(type) {
		case DefaultLocation:
			if newer(out.Default.Existing, existing) {
				out.Default.Existing = existing
			}
		case LocationSpecific:
			idx := out.FindLocationSpecific(loc)
			if idx < 0 {
				out.LocationSpecific = append(out.LocationSpecific, domain.LocationSpecificOffsetDetails{
					Location:    loc,
					OffsetState: OffsetState{Existing: existing},
				})
				continue
			}
			if newer(out.LocationSpecific[idx].Existing, existing) {
				out.LocationSpecific[idx].Existing = existing
			}
		default:
			return details, fmt.Errorf("persisted offset %s has no location", p.ID)
		}
	}
	return out, nil
}

func newer(current, candidate *ExistingOffset) bool {
	return current == nil || !candidate.CreatedAt.Before(current.CreatedAt)
}
