package core

import (
	"offsetcore/pkg/domain"
)

// ProceedSubstep advances the offset-editing workflow one state:
//
//	NONE    -> LIST    (clears the selection)
//	LIST    -> DETAILS (requires a selection; clears its location)
//	DETAILS -> PREP    (requires a selection)
//	PREP    -> CHECK   (warns when no location is chosen)
//	CHECK   -> DETAILS
//
// A missing selection rejects the transition: the input is returned with
// domain.ErrNoSelectedLabware and a blocking diagnostic.
func ProceedSubstep(s SubstepState) (SubstepState, Result, error) {
	switch s.Current {
	case domain.SubstepNone:
		return SubstepState{Current: domain.SubstepList}, Result{}, nil
	case domain.SubstepList:
		if s.Selected == nil {
			return rejectTransition(s, domain.SubstepDetails)
		}
		sel := s.Selected.Clone()
		sel.Location = nil
		return SubstepState{Current: domain.SubstepDetails, Selected: sel}, Result{}, nil
	case domain.SubstepDetails:
		if s.Selected == nil {
			return rejectTransition(s, domain.SubstepEditOffsetPrep)
		}
		return SubstepState{Current: domain.SubstepEditOffsetPrep, Selected: s.Selected.Clone()}, Result{}, nil
	case domain.SubstepEditOffsetPrep:
		res := Result{}
		if s.Selected == nil || s.Selected.Location == nil {
			res.Add(Violation{
				Rule:     "proceed_substep",
				Code:     domain.CodeMissingLocation,
				Severity: domain.SeverityWarn,
				Message:  "entering offset check without an offset location",
				URI:      selectedURI(s.Selected),
			})
		}
		return SubstepState{Current: domain.SubstepEditOffsetCheck, Selected: s.Selected.Clone()}, res, nil
	case domain.SubstepEditOffsetCheck:
		return SubstepState{Current: domain.SubstepDetails, Selected: s.Selected.Clone()}, Result{}, nil
	default:
		return s, Result{}, &UnknownSubstepError{Substep: s.Current}
	}
}

// GoBackSubstep moves the workflow back one state. LIST is absorbing:
//
//	NONE    -> LIST    (clears the selection)
//	LIST    -> LIST    (clears the selection)
//	DETAILS -> LIST    (clears the selection)
//	PREP    -> DETAILS (clears the selection's location)
//	CHECK   -> PREP
func GoBackSubstep(s SubstepState) (SubstepState, error) {
	switch s.Current {
	case domain.SubstepNone, domain.SubstepList, domain.SubstepDetails:
		return SubstepState{Current: domain.SubstepList}, nil
	case domain.SubstepEditOffsetPrep:
		sel := s.Selected.Clone()
		if sel != nil {
			sel.Location = nil
		}
		return SubstepState{Current: domain.SubstepDetails, Selected: sel}, nil
	case domain.SubstepEditOffsetCheck:
		return SubstepState{Current: domain.SubstepEditOffsetPrep, Selected: s.Selected.Clone()}, nil
	default:
		return s, &UnknownSubstepError{Substep: s.Current}
	}
}

// SelectLabware chooses the labware to calibrate, with no location yet.
func SelectLabware(s SubstepState, uri, id string) SubstepState {
	return SubstepState{Current: s.Current, Selected: &SelectedLabwareInfo{URI: uri, ID: id}}
}

// SelectLocation sets the offset location on the current selection. It is
// rejected with domain.ErrNoSelectedLabware when nothing is selected, and
// with domain.ErrURIMismatch when loc belongs to other labware.
func SelectLocation(s SubstepState, loc OffsetLocation) (SubstepState, error) {
	if s.Selected == nil {
		return s, domain.ErrNoSelectedLabware
	}
	if loc != nil && loc.URI() != s.Selected.URI {
		return s, domain.ErrURIMismatch
	}
	sel := s.Selected.Clone()
	sel.Location = loc
	return SubstepState{Current: s.Current, Selected: sel}, nil
}

// ClearSelection drops the selected labware.
func ClearSelection(s SubstepState) SubstepState {
	return SubstepState{Current: s.Current}
}

// UnknownSubstepError reports a state outside the workflow.
type UnknownSubstepError struct {
	Substep Substep
}

func (e *UnknownSubstepError) Error() string {
	return "unknown substep " + string(e.Substep)
}

func rejectTransition(s SubstepState, target Substep) (SubstepState, Result, error) {
	err := domain.ErrNoSelectedLabware
	res := Result{}
	res.Add(Violation{
		Rule:     "proceed_substep",
		Code:     domain.CodeNoSelectedLabware,
		Severity: domain.SeverityBlock,
		Message:  "cannot enter " + target.String() + " from " + s.Current.String() + ": " + err.Error(),
	})
	return s, res, err
}

func selectedURI(sel *SelectedLabwareInfo) string {
	if sel == nil {
		return ""
	}
	return sel.URI
}
