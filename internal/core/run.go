package core

import (
	"fmt"
	"sort"
	"time"

	"offsetcore/pkg/domain"
)

// SubstepState is the slice of a run gated by the substep state machine.
type SubstepState struct {
	Current  Substep              `json:"substep"`
	Selected *SelectedLabwareInfo `json:"selectedLabware"`
}

// Clone returns a copy that shares no pointers with s.
func (s SubstepState) Clone() SubstepState {
	return SubstepState{Current: s.Current, Selected: s.Selected.Clone()}
}

// RunState is an immutable snapshot of one calibration run. Operations
// return new snapshots; labware entries that did not change are shared.
type RunState struct {
	RunID string `json:"runId"`
	// Labware maps definition URI to its offset records.
	Labware   map[string]LabwareGeometryDetails `json:"labware"`
	Substep   SubstepState                      `json:"substepState"`
	Steps     StepState                         `json:"steps"`
	CreatedAt time.Time                         `json:"createdAt"`
	UpdatedAt time.Time                         `json:"updatedAt"`
	// Revision counts committed transactions.
	Revision uint64 `json:"revision"`
}

// NewRunState builds the initial snapshot for a run. Every labware entry is
// validated; URIs must be unique.
func NewRunState(runID string, labware []LabwareGeometryDetails, now time.Time) (RunState, error) {
	byURI := make(map[string]LabwareGeometryDetails, len(labware))
	for _, lw := range labware {
		if err := lw.Validate(); err != nil {
			return RunState{}, err
		}
		if _, dup := byURI[lw.DefinitionURI]; dup {
			return RunState{}, fmt.Errorf("%w: %s", domain.ErrDuplicateLabware, lw.DefinitionURI)
		}
		byURI[lw.DefinitionURI] = lw.Clone()
	}
	return RunState{
		RunID:     runID,
		Labware:   byURI,
		Steps:     NewStepState(domain.DefaultSteps),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// withLabware returns a copy of r with uri replaced by lw. The map is copied
// shallowly; the other entries are shared.
func (r RunState) withLabware(lw LabwareGeometryDetails) RunState {
	out := r
	out.Labware = make(map[string]LabwareGeometryDetails, len(r.Labware))
	for k, v := range r.Labware {
		out.Labware[k] = v
	}
	out.Labware[lw.DefinitionURI] = lw
	return out
}

// clone deep-copies r.
func (r RunState) clone() RunState {
	out := r
	out.Labware = make(map[string]LabwareGeometryDetails, len(r.Labware))
	for k, v := range r.Labware {
		out.Labware[k] = v.Clone()
	}
	out.Substep = r.Substep.Clone()
	out.Steps = r.Steps.Clone()
	return out
}

// URIs returns the labware URIs in sorted order.
func (r RunState) URIs() []string {
	out := make([]string, 0, len(r.Labware))
	for uri := range r.Labware {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

type runView struct {
	state *RunState
}

func newRunView(state *RunState) runView { return runView{state: state} }

func (v runView) RunID() string { return v.state.RunID }

func (v runView) ListLabware() []LabwareGeometryDetails {
	out := make([]LabwareGeometryDetails, 0, len(v.state.Labware))
	for _, uri := range v.state.URIs() {
		out = append(out, v.state.Labware[uri].Clone())
	}
	return out
}

func (v runView) FindLabware(uri string) (LabwareGeometryDetails, bool) {
	lw, ok := v.state.Labware[uri]
	if !ok {
		return LabwareGeometryDetails{}, false
	}
	return lw.Clone(), true
}

func (v runView) Selection() *SelectedLabwareInfo { return v.state.Substep.Selected.Clone() }

func (v runView) Substep() Substep { return v.state.Substep.Current }
