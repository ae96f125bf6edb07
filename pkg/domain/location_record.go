package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// LocationRecord is the flat, serializable form of an OffsetLocation.
type LocationRecord struct {
	Kind          LocationKind `json:"kind" yaml:"kind"`
	DefinitionURI string       `json:"definitionUri" yaml:"definitionUri"`
	SlotName      string       `json:"slotName,omitempty" yaml:"slotName,omitempty"`
	ModuleModel   string       `json:"moduleModel,omitempty" yaml:"moduleModel,omitempty"`
	AdapterID     string       `json:"adapterId,omitempty" yaml:"adapterId,omitempty"`
}

// RecordFor flattens loc. A nil location yields the zero record.
func RecordFor(loc OffsetLocation) LocationRecord {
	switch l := loc.(type) {
	case DefaultLocation:
		return LocationRecord{Kind: LocationKindDefault, DefinitionURI: l.DefinitionURI}
	case LocationSpecific:
		return LocationRecord{
			Kind:          LocationKindSpecific,
			DefinitionURI: l.DefinitionURI,
			SlotName:      l.SlotName,
			ModuleModel:   l.ModuleModel,
			AdapterID:     l.AdapterID,
		}
	default:
		return LocationRecord{}
	}
}

// Location rebuilds the typed location.
func (r LocationRecord) Location() (OffsetLocation, error) {
	if r.DefinitionURI == "" {
		return nil, ErrMissingDefinitionURI
	}
	switch r.Kind {
	case LocationKindDefault:
		return DefaultLocation{DefinitionURI: r.DefinitionURI}, nil
	case LocationKindSpecific:
		if r.SlotName == "" {
			return nil, fmt.Errorf("location-specific record for %s missing slot name", r.DefinitionURI)
		}
		return LocationSpecific{
			DefinitionURI: r.DefinitionURI,
			SlotName:      r.SlotName,
			ModuleModel:   r.ModuleModel,
			AdapterID:     r.AdapterID,
		}, nil
	default:
		return nil, fmt.Errorf("unknown location kind %q", r.Kind)
	}
}

type persistedOffsetJSON struct {
	ID            string         `json:"id"`
	DefinitionURI string         `json:"definitionUri"`
	Location      LocationRecord `json:"location"`
	Vector        Vector3        `json:"vector"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// MarshalJSON encodes the location through LocationRecord.
func (p PersistedOffset) MarshalJSON() ([]byte, error) {
	return json.Marshal(persistedOffsetJSON{
		ID:            p.ID,
		DefinitionURI: p.DefinitionURI,
		Location:      RecordFor(p.Location),
		Vector:        p.Vector,
		CreatedAt:     p.CreatedAt,
	})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (p *PersistedOffset) UnmarshalJSON(data []byte) error {
	var in persistedOffsetJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	loc, err := in.Location.Location()
	if err != nil {
		return fmt.Errorf("persisted offset %s: %w", in.ID, err)
	}
	*p = PersistedOffset{ID: in.ID, DefinitionURI: in.DefinitionURI, Location: loc, Vector: in.Vector, CreatedAt: in.CreatedAt}
	return nil
}

type selectedLabwareJSON struct {
	URI      string          `json:"uri"`
	ID       string          `json:"id"`
	Location *LocationRecord `json:"offsetLocationDetails"`
}

// MarshalJSON encodes a nil location as null.
func (s SelectedLabwareInfo) MarshalJSON() ([]byte, error) {
	out := selectedLabwareJSON{URI: s.URI, ID: s.ID}
	if s.Location != nil {
		rec := RecordFor(s.Location)
		out.Location = &rec
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (s *SelectedLabwareInfo) UnmarshalJSON(data []byte) error {
	var in selectedLabwareJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	out := SelectedLabwareInfo{URI: in.URI, ID: in.ID}
	if in.Location != nil {
		loc, err := in.Location.Location()
		if err != nil {
			return err
		}
		out.Location = loc
	}
	*s = out
	return nil
}

type offsetApplyRequestJSON struct {
	DefinitionURI string         `json:"definitionUri"`
	Location      LocationRecord `json:"location"`
	Vector        Vector3        `json:"vector"`
}

// MarshalJSON encodes the location through LocationRecord.
func (r OffsetApplyRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(offsetApplyRequestJSON{DefinitionURI: r.DefinitionURI, Location: RecordFor(r.Location), Vector: r.Vector})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (r *OffsetApplyRequest) UnmarshalJSON(data []byte) error {
	var in offsetApplyRequestJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	loc, err := in.Location.Location()
	if err != nil {
		return err
	}
	*r = OffsetApplyRequest{DefinitionURI: in.DefinitionURI, Location: loc, Vector: in.Vector}
	return nil
}
