// Package domain defines the labware offset data model, the diagnostics
// produced while reconciling it, and the persistence contracts used by
// offsetcore.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConfirmedKind enumerates the states of a working offset's confirmed vector.
type ConfirmedKind uint8

const (
	// ConfirmedNone means no vector has been derived yet.
	ConfirmedNone ConfirmedKind = iota
	// ConfirmedVectorKind carries a real correction vector.
	ConfirmedVectorKind
	// ConfirmedReset requests that the location-specific offset be discarded
	// so the location cascades to the default offset again.
	ConfirmedReset
)

// ConfirmedVector is the outcome of a working offset: unconfirmed, a real
// vector, or the reset-to-default request. The zero value is unconfirmed.
type ConfirmedVector struct {
	kind   ConfirmedKind
	vector Vector3
}

// Unconfirmed returns the empty confirmed vector.
func Unconfirmed() ConfirmedVector { return ConfirmedVector{} }

// Confirmed wraps a real correction vector.
func Confirmed(v Vector3) ConfirmedVector {
	return ConfirmedVector{kind: ConfirmedVectorKind, vector: v}
}

// ResetToDefault returns the reset sentinel. It never carries a vector.
func ResetToDefault() ConfirmedVector {
	return ConfirmedVector{kind: ConfirmedReset}
}

// Kind returns the variant.
func (c ConfirmedVector) Kind() ConfirmedKind { return c.kind }

// Vector returns the confirmed vector and true only for the vector variant.
func (c ConfirmedVector) Vector() (Vector3, bool) {
	if c.kind != ConfirmedVectorKind {
		return Vector3{}, false
	}
	return c.vector, true
}

// IsReset reports whether c is the reset sentinel.
func (c ConfirmedVector) IsReset() bool { return c.kind == ConfirmedReset }

// IsSet reports whether c is anything other than unconfirmed.
func (c ConfirmedVector) IsSet() bool { return c.kind != ConfirmedNone }

func (c ConfirmedVector) String() string {
	switch c.kind {
	case ConfirmedVectorKind:
		return c.vector.String()
	case ConfirmedReset:
		return "reset-to-default"
	default:
		return "unconfirmed"
	}
}

type confirmedVectorJSON struct {
	Kind   string   `json:"kind"`
	Vector *Vector3 `json:"vector,omitempty"`
}

// MarshalJSON encodes the variant explicitly so the sentinel can never be
// decoded as a vector.
func (c ConfirmedVector) MarshalJSON() ([]byte, error) {
	out := confirmedVectorJSON{}
	switch c.kind {
	case ConfirmedVectorKind:
		out.Kind = "vector"
		out.Vector = vectorPtr(c.vector)
	case ConfirmedReset:
		out.Kind = "reset"
	default:
		out.Kind = "none"
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the representation produced by MarshalJSON.
func (c *ConfirmedVector) UnmarshalJSON(data []byte) error {
	var in confirmedVectorJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case "vector":
		if in.Vector == nil {
			return fmt.Errorf("confirmed vector: kind vector without vector")
		}
		*c = Confirmed(*in.Vector)
	case "reset":
		*c = ResetToDefault()
	case "", "none":
		*c = Unconfirmed()
	default:
		return fmt.Errorf("confirmed vector: unknown kind %q", in.Kind)
	}
	return nil
}

// WorkingOffset is an in-progress offset derived from live jog positions.
type WorkingOffset struct {
	InitialPosition *Vector3        `json:"initialPosition"`
	FinalPosition   *Vector3        `json:"finalPosition"`
	Confirmed       ConfirmedVector `json:"confirmedVector"`
	// Baseline is the vector in effect when the current jog session started.
	Baseline *Vector3 `json:"baseline,omitempty"`
}

// Clone returns a deep copy.
func (w WorkingOffset) Clone() WorkingOffset {
	return WorkingOffset{
		InitialPosition: cloneVectorPtr(w.InitialPosition),
		FinalPosition:   cloneVectorPtr(w.FinalPosition),
		Confirmed:       w.Confirmed,
		Baseline:        cloneVectorPtr(w.Baseline),
	}
}

// ExistingOffset is a persisted, committed correction.
type ExistingOffset struct {
	ID        string    `json:"id,omitempty"`
	Vector    Vector3   `json:"vector"`
	CreatedAt time.Time `json:"createdAt"`
}

// OffsetState holds the working and existing sub-records shared by both
// kinds of offset details. Nil pointers mean "absent".
type OffsetState struct {
	Working  *WorkingOffset  `json:"workingOffset"`
	Existing *ExistingOffset `json:"existingOffset"`
}

// Clone returns a deep copy.
func (s OffsetState) Clone() OffsetState {
	var out OffsetState
	if s.Working != nil {
		w := s.Working.Clone()
		out.Working = &w
	}
	if s.Existing != nil {
		e := *s.Existing
		out.Existing = &e
	}
	return out
}

// WorkingConfirmed returns the working offset's confirmed vector, or the
// unconfirmed value when there is no working offset.
func (s OffsetState) WorkingConfirmed() ConfirmedVector {
	if s.Working == nil {
		return Unconfirmed()
	}
	return s.Working.Confirmed
}

// OffsetDetails is implemented by DefaultOffsetDetails and
// LocationSpecificOffsetDetails only.
type OffsetDetails interface {
	OffsetLocation() OffsetLocation
	State() OffsetState
	isOffsetDetails()
}

// DefaultOffsetDetails tracks the default offset for a labware definition.
type DefaultOffsetDetails struct {
	Location DefaultLocation `json:"locationDetails"`
	OffsetState
}

// LocationSpecificOffsetDetails tracks one location-specific offset.
type LocationSpecificOffsetDetails struct {
	Location LocationSpecific `json:"locationDetails"`
	OffsetState
}

func (d DefaultOffsetDetails) OffsetLocation() OffsetLocation          { return d.Location }
func (d LocationSpecificOffsetDetails) OffsetLocation() OffsetLocation { return d.Location }
func (d DefaultOffsetDetails) State() OffsetState                      { return d.OffsetState }
func (d LocationSpecificOffsetDetails) State() OffsetState             { return d.OffsetState }
func (DefaultOffsetDetails) isOffsetDetails()                          {}
func (LocationSpecificOffsetDetails) isOffsetDetails()                 {}

// LabwareGeometryDetails holds every offset record for one labware
// definition URI.
type LabwareGeometryDetails struct {
	DefinitionURI    string                          `json:"definitionUri"`
	Default          DefaultOffsetDetails            `json:"defaultOffsetDetails"`
	LocationSpecific []LocationSpecificOffsetDetails `json:"locationSpecificOffsetDetails"`
}

// NewLabwareGeometryDetails validates and builds the offset collection for a
// labware URI. Location keys must be unique and belong to uri.
func NewLabwareGeometryDetails(uri string, def OffsetState, specific []LocationSpecificOffsetDetails) (LabwareGeometryDetails, error) {
	if uri == "" {
		return LabwareGeometryDetails{}, ErrMissingDefinitionURI
	}
	seen := make(map[LocationSpecific]struct{}, len(specific))
	out := make([]LocationSpecificOffsetDetails, 0, len(specific))
	for _, entry := range specific {
		if entry.Location.DefinitionURI != uri {
			return LabwareGeometryDetails{}, fmt.Errorf("location %s does not belong to %s: %w", entry.Location, uri, ErrURIMismatch)
		}
		if _, dup := seen[entry.Location]; dup {
			return LabwareGeometryDetails{}, &DuplicateLocationError{Location: entry.Location}
		}
		seen[entry.Location] = struct{}{}
		out = append(out, LocationSpecificOffsetDetails{Location: entry.Location, OffsetState: entry.OffsetState.Clone()})
	}
	return LabwareGeometryDetails{
		DefinitionURI:    uri,
		Default:          DefaultOffsetDetails{Location: DefaultLocation{DefinitionURI: uri}, OffsetState: def.Clone()},
		LocationSpecific: out,
	}, nil
}

// Validate re-checks the structural invariants of d.
func (d LabwareGeometryDetails) Validate() error {
	if d.DefinitionURI == "" {
		return ErrMissingDefinitionURI
	}
	if d.Default.Location.DefinitionURI != d.DefinitionURI {
		return fmt.Errorf("default location %s does not belong to %s: %w", d.Default.Location, d.DefinitionURI, ErrURIMismatch)
	}
	seen := make(map[LocationSpecific]struct{}, len(d.LocationSpecific))
	for _, entry := range d.LocationSpecific {
		if entry.Location.DefinitionURI != d.DefinitionURI {
			return fmt.Errorf("location %s does not belong to %s: %w", entry.Location, d.DefinitionURI, ErrURIMismatch)
		}
		if _, dup := seen[entry.Location]; dup {
			return &DuplicateLocationError{Location: entry.Location}
		}
		seen[entry.Location] = struct{}{}
	}
	return nil
}

// Clone returns a structurally independent deep copy.
func (d LabwareGeometryDetails) Clone() LabwareGeometryDetails {
	out := LabwareGeometryDetails{
		DefinitionURI: d.DefinitionURI,
		Default:       DefaultOffsetDetails{Location: d.Default.Location, OffsetState: d.Default.OffsetState.Clone()},
	}
	if d.LocationSpecific != nil {
		out.LocationSpecific = make([]LocationSpecificOffsetDetails, len(d.LocationSpecific))
		for i, entry := range d.LocationSpecific {
			out.LocationSpecific[i] = LocationSpecificOffsetDetails{Location: entry.Location, OffsetState: entry.OffsetState.Clone()}
		}
	}
	return out
}

// FindLocationSpecific returns the index of the entry for loc, or -1.
func (d LabwareGeometryDetails) FindLocationSpecific(loc LocationSpecific) int {
	for i, entry := range d.LocationSpecific {
		if entry.Location == loc {
			return i
		}
	}
	return -1
}

// Lookup returns the details for any location kind.
func (d LabwareGeometryDetails) Lookup(loc OffsetLocation) (OffsetDetails, bool) {
	switch l := loc.(type) {
	case DefaultLocation:
		if l.DefinitionURI != d.DefinitionURI {
			return nil, false
		}
		return d.Default, true
	case LocationSpecific:
		idx := d.FindLocationSpecific(l)
		if idx < 0 {
			return nil, false
		}
		return d.LocationSpecific[idx], true
	default:
		return nil, false
	}
}

// WithState returns a copy of d whose entry for loc carries state. The
// location-specific slice is copied; untouched entries are shared. The
// boolean is false when loc has no entry, in which case d is returned as is.
func (d LabwareGeometryDetails) WithState(loc OffsetLocation, state OffsetState) (LabwareGeometryDetails, bool) {
	switch l := loc.(type) {
	case DefaultLocation:
		if l.DefinitionURI != d.DefinitionURI {
			return d, false
		}
		out := d
		out.Default = DefaultOffsetDetails{Location: d.Default.Location, OffsetState: state}
		return out, true
	case LocationSpecific:
		idx := d.FindLocationSpecific(l)
		if idx < 0 {
			return d, false
		}
		out := d
		out.LocationSpecific = make([]LocationSpecificOffsetDetails, len(d.LocationSpecific))
		copy(out.LocationSpecific, d.LocationSpecific)
		out.LocationSpecific[idx] = LocationSpecificOffsetDetails{Location: l, OffsetState: state}
		return out, true
	default:
		return d, false
	}
}
