package exports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"offsetcore/internal/core"
	"offsetcore/pkg/domain"
)

// Format is an export serialisation.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ContentType returns the MIME type stored with the blob.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	default:
		return "application/json"
	}
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool { return f == FormatJSON || f == FormatCSV }

// Report is a point-in-time summary of a run's offsets.
type Report struct {
	RunID       string          `json:"runId"`
	Step        domain.Step     `json:"step"`
	Unsaved     bool            `json:"unsavedChanges"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Labware     []LabwareReport `json:"labware"`
}

// LabwareReport lists one labware's offsets.
type LabwareReport struct {
	DefinitionURI  string      `json:"definitionUri"`
	DefaultMissing bool        `json:"defaultMissing"`
	LocationCount  int         `json:"locationSpecificCount"`
	Offsets        []OffsetRow `json:"offsets"`
}

// OffsetRow is one offset location. Effective is the vector a protocol
// would use there, falling back to the default.
type OffsetRow struct {
	Kind       domain.LocationKind `json:"kind"`
	Location   string              `json:"location"`
	SlotName   string              `json:"slotName,omitempty"`
	Module     string              `json:"moduleModel,omitempty"`
	Adapter    string              `json:"adapterId,omitempty"`
	ExistingID string              `json:"existingId,omitempty"`
	Existing   *domain.Vector3     `json:"existing,omitempty"`
	Working    string              `json:"working"`
	Effective  *domain.Vector3     `json:"effective,omitempty"`
}

// BuildReport summarises run. Labware is ordered by URI.
func BuildReport(run core.RunState, now time.Time) Report {
	rep := Report{
		RunID:       run.RunID,
		Step:        run.Steps.Step(),
		Unsaved:     core.HasUnsavedChanges(run),
		GeneratedAt: now,
	}
	for _, uri := range run.URIs() {
		lw := run.Labware[uri]
		lr := LabwareReport{
			DefinitionURI:  uri,
			DefaultMissing: core.IsDefaultOffsetAbsent(lw),
			LocationCount:  core.CountLocationSpecificOffsets(lw),
		}
		lr.Offsets = append(lr.Offsets, row(lw, lw.Default))
		for _, ls := range lw.LocationSpecific {
			lr.Offsets = append(lr.Offsets, row(lw, ls))
		}
		rep.Labware = append(rep.Labware, lr)
	}
	return rep
}

func row(lw domain.LabwareGeometryDetails, d domain.OffsetDetails) OffsetRow {
	loc := d.OffsetLocation()
	st := d.State()
	r := OffsetRow{Kind: loc.Kind(), Location: loc.Key(), Working: st.WorkingConfirmed().String()}
	if ls, ok := loc.(domain.LocationSpecific); ok {
		r.SlotName, r.Module, r.Adapter = ls.SlotName, ls.ModuleModel, ls.AdapterID
	}
	if st.Existing != nil {
		v := st.Existing.Vector
		r.ExistingID = st.Existing.ID
		r.Existing = &v
	}
	if v, ok := core.MostRecentVectorForLocation(lw, loc); ok {
		r.Effective = &v
	}
	return r
}

// Render serialises rep in format f.
func Render(rep Report, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(rep, "", "  ")
	case FormatCSV:
		return renderCSV(rep)
	default:
		return nil, fmt.Errorf("unsupported export format %q", f)
	}
}

var csvHeader = []string{
	"run_id", "definition_uri", "kind", "slot", "module", "adapter",
	"existing_id", "existing_x", "existing_y", "existing_z", "working",
	"effective_x", "effective_y", "effective_z",
}

func renderCSV(rep Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, lw := range rep.Labware {
		for _, o := range lw.Offsets {
			rec := []string{rep.RunID, lw.DefinitionURI, string(o.Kind), o.SlotName, o.Module, o.Adapter, o.ExistingID}
			rec = append(rec, vectorCells(o.Existing)...)
			rec = append(rec, o.Working)
			rec = append(rec, vectorCells(o.Effective)...)
			if err := w.Write(rec); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func vectorCells(v *domain.Vector3) []string {
	if v == nil {
		return []string{"", "", ""}
	}
	f := func(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }
	return []string{f(v.X), f(v.Y), f(v.Z)}
}
