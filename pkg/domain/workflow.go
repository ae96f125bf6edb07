package domain

// SelectedLabwareInfo identifies the labware, and optionally the location,
// currently being calibrated. A nil Location means no location is chosen.
type SelectedLabwareInfo struct {
	URI      string         `json:"uri"`
	ID       string         `json:"id"`
	Location OffsetLocation `json:"-"`
}

// Clone returns a copy; locations are immutable values so sharing is safe.
func (s *SelectedLabwareInfo) Clone() *SelectedLabwareInfo {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// Substep is one state of the offset-editing workflow.
type Substep string

// Substeps in forward order. SubstepNone is the state before the workflow
// has been entered.
const (
	SubstepNone            Substep = ""
	SubstepList            Substep = "LIST"
	SubstepDetails         Substep = "DETAILS"
	SubstepEditOffsetPrep  Substep = "EDIT_OFFSET_PREP_LW"
	SubstepEditOffsetCheck Substep = "EDIT_OFFSET_CHECK_LW"
)

// Valid reports whether s is a known substep.
func (s Substep) Valid() bool {
	switch s {
	case SubstepNone, SubstepList, SubstepDetails, SubstepEditOffsetPrep, SubstepEditOffsetCheck:
		return true
	}
	return false
}

func (s Substep) String() string {
	if s == SubstepNone {
		return "NONE"
	}
	return string(s)
}

// Step is a top-level stage of a labware position check run.
type Step string

// Steps in the order an operator moves through them.
const (
	StepBeforeBeginning Step = "BEFORE_BEGINNING"
	StepAttachProbe     Step = "ATTACH_PROBE"
	StepHandleLabware   Step = "HANDLE_LABWARE"
	StepDetachProbe     Step = "DETACH_PROBE"
	StepComplete        Step = "LPC_COMPLETE"
)

// DefaultSteps is the canonical step order.
var DefaultSteps = []Step{
	StepBeforeBeginning,
	StepAttachProbe,
	StepHandleLabware,
	StepDetachProbe,
	StepComplete,
}
