package domain

import (
	"fmt"
	"strings"
)

// LocationKind discriminates the two offset location variants.
type LocationKind string

const (
	// LocationKindDefault applies to every placement of a labware definition.
	LocationKindDefault LocationKind = "default"
	// LocationKindSpecific applies to one slot/module/adapter combination.
	LocationKindSpecific LocationKind = "location-specific"
)

// OffsetLocation identifies where an offset applies. The set of
// implementations is closed: DefaultLocation and LocationSpecific.
type OffsetLocation interface {
	Kind() LocationKind
	URI() string
	// Key returns a stable string form used for map keys and persistence.
	Key() string
	isOffsetLocation()
}

// DefaultLocation is keyed only by the labware definition URI.
type DefaultLocation struct {
	DefinitionURI string `json:"definitionUri" yaml:"definitionUri"`
}

// LocationSpecific pins an offset to a slot, optionally stacked on a module
// and/or an adapter. Empty optional fields are absent; two values are equal
// exactly when == holds.
type LocationSpecific struct {
	DefinitionURI string `json:"definitionUri" yaml:"definitionUri"`
	SlotName      string `json:"slotName" yaml:"slotName"`
	ModuleModel   string `json:"moduleModel,omitempty" yaml:"moduleModel,omitempty"`
	AdapterID     string `json:"adapterId,omitempty" yaml:"adapterId,omitempty"`
}

func (DefaultLocation) Kind() LocationKind  { return LocationKindDefault }
func (LocationSpecific) Kind() LocationKind { return LocationKindSpecific }

func (l DefaultLocation) URI() string  { return l.DefinitionURI }
func (l LocationSpecific) URI() string { return l.DefinitionURI }

func (l DefaultLocation) Key() string { return l.DefinitionURI + "|default" }

func (l LocationSpecific) Key() string {
	return strings.Join([]string{l.DefinitionURI, l.SlotName, l.ModuleModel, l.AdapterID}, "|")
}

func (DefaultLocation) isOffsetLocation()  {}
func (LocationSpecific) isOffsetLocation() {}

func (l DefaultLocation) String() string { return fmt.Sprintf("%s@default", l.DefinitionURI) }

func (l LocationSpecific) String() string {
	var b strings.Builder
	b.WriteString(l.DefinitionURI)
	b.WriteString("@")
	b.WriteString(l.SlotName)
	if l.ModuleModel != "" {
		b.WriteString("/module:")
		b.WriteString(l.ModuleModel)
	}
	if l.AdapterID != "" {
		b.WriteString("/adapter:")
		b.WriteString(l.AdapterID)
	}
	return b.String()
}

// SameLocation reports structural equality between two locations, treating
// nil as equal only to nil.
func SameLocation(a, b OffsetLocation) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case DefaultLocation:
		bv, ok := b.(DefaultLocation)
		return ok && av == bv
	case LocationSpecific:
		bv, ok := b.(LocationSpecific)
		return ok && av == bv
	default:
		return false
	}
}
