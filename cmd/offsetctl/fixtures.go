package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"offsetcore/pkg/domain"
)

// fixtureFile is the YAML document read by seed and start:
//
//	offsets:
//	  - definitionUri: opentrons/nest_96_wellplate_100ul_pcr_full_skirt/2
//	    vector: {x: 0.1, y: -0.2, z: 0}
//	  - definitionUri: opentrons/nest_96_wellplate_100ul_pcr_full_skirt/2
//	    slotName: D2
//	    moduleModel: temperatureModuleV2
//	    vector: {x: 0, y: 0, z: 0.4}
//	labware:
//	  - definitionUri: opentrons/nest_96_wellplate_100ul_pcr_full_skirt/2
//	    locations:
//	      - slotName: C1
type fixtureFile struct {
	Offsets []offsetFixture  `yaml:"offsets"`
	Labware []labwareFixture `yaml:"labware"`
}

// offsetFixture is a default offset when SlotName is empty.
type offsetFixture struct {
	DefinitionURI string         `yaml:"definitionUri"`
	SlotName      string         `yaml:"slotName,omitempty"`
	ModuleModel   string         `yaml:"moduleModel,omitempty"`
	AdapterID     string         `yaml:"adapterId,omitempty"`
	Vector        domain.Vector3 `yaml:"vector"`
}

type labwareFixture struct {
	DefinitionURI string                    `yaml:"definitionUri"`
	Locations     []domain.LocationSpecific `yaml:"locations"`
}

func readFixtures(path string) (fixtureFile, error) {
	var f fixtureFile
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read fixtures: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return f, nil
}

func (f offsetFixture) location() domain.OffsetLocation {
	if f.SlotName == "" {
		return domain.DefaultLocation{DefinitionURI: f.DefinitionURI}
	}
	return domain.LocationSpecific{
		DefinitionURI: f.DefinitionURI,
		SlotName:      f.SlotName,
		ModuleModel:   f.ModuleModel,
		AdapterID:     f.AdapterID,
	}
}

func (f fixtureFile) applyRequests() ([]domain.OffsetApplyRequest, error) {
	out := make([]domain.OffsetApplyRequest, 0, len(f.Offsets))
	for i, o := range f.Offsets {
		if o.DefinitionURI == "" {
			return nil, fmt.Errorf("offset %d: %w", i, domain.ErrMissingDefinitionURI)
		}
		out = append(out, domain.OffsetApplyRequest{DefinitionURI: o.DefinitionURI, Location: o.location(), Vector: o.Vector})
	}
	return out, nil
}

func (f fixtureFile) labware() ([]domain.LabwareGeometryDetails, error) {
	out := make([]domain.LabwareGeometryDetails, 0, len(f.Labware))
	for _, lw := range f.Labware {
		specific := make([]domain.LocationSpecificOffsetDetails, 0, len(lw.Locations))
		for _, loc := range lw.Locations {
			loc.DefinitionURI = lw.DefinitionURI
			specific = append(specific, domain.LocationSpecificOffsetDetails{Location: loc})
		}
		details, err := domain.NewLabwareGeometryDetails(lw.DefinitionURI, domain.OffsetState{}, specific)
		if err != nil {
			return nil, err
		}
		out = append(out, details)
	}
	return out, nil
}

// offsetRow is the printable form of a persisted offset.
type offsetRow struct {
	ID            string                `json:"id" yaml:"id"`
	DefinitionURI string                `json:"definitionUri" yaml:"definitionUri"`
	Location      domain.LocationRecord `json:"location" yaml:"location"`
	Vector        domain.Vector3        `json:"vector" yaml:"vector"`
	CreatedAt     time.Time             `json:"createdAt" yaml:"createdAt"`
}

func rowsFor(persisted []domain.PersistedOffset) []offsetRow {
	out := make([]offsetRow, 0, len(persisted))
	for _, p := range persisted {
		out = append(out, offsetRow{
			ID:            p.ID,
			DefinitionURI: p.DefinitionURI,
			Location:      domain.RecordFor(p.Location),
			Vector:        p.Vector,
			CreatedAt:     p.CreatedAt,
		})
	}
	return out
}
