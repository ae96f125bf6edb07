package core

import (
	"fmt"

	"offsetcore/pkg/domain"
)

// StepState tracks progress through the top-level steps of a run. History
// records every step left behind so GoBackStep retraces the path actually
// taken, including jumps made with ProceedToStep.
type StepState struct {
	Order   []Step `json:"all"`
	Current int    `json:"currentStepIndex"`
	History []int  `json:"history"`
}

// NewStepState starts at the first of order.
func NewStepState(order []Step) StepState {
	return StepState{Order: append([]Step(nil), order...)}
}

// Clone returns a copy sharing no slices with s.
func (s StepState) Clone() StepState {
	return StepState{
		Order:   append([]Step(nil), s.Order...),
		Current: s.Current,
		History: append([]int(nil), s.History...),
	}
}

// Step returns the active step, or "" when the order is empty.
func (s StepState) Step() Step {
	if s.Current < 0 || s.Current >= len(s.Order) {
		return ""
	}
	return s.Order[s.Current]
}

// IsLast reports whether the active step is the final one.
func (s StepState) IsLast() bool { return s.Current >= len(s.Order)-1 }

// ProceedStep moves to the next step. Past the last step it is a no-op.
func ProceedStep(s StepState) StepState {
	if s.IsLast() {
		return s
	}
	return s.moveTo(s.Current + 1)
}

// GoBackStep returns to the most recently left step. With no history it is
// a no-op.
func GoBackStep(s StepState) StepState {
	if len(s.History) == 0 {
		return s
	}
	out := s.Clone()
	out.Current = out.History[len(out.History)-1]
	out.History = out.History[:len(out.History)-1]
	return out
}

// ProceedToStep jumps directly to target.
func ProceedToStep(s StepState, target Step) (StepState, error) {
	for i, step := range s.Order {
		if step == target {
			if i == s.Current {
				return s, nil
			}
			return s.moveTo(i), nil
		}
	}
	return s, fmt.Errorf("%w: %q", domain.ErrUnknownStep, target)
}

func (s StepState) moveTo(idx int) StepState {
	out := s.Clone()
	out.History = append(out.History, s.Current)
	out.Current = idx
	return out
}

// handlesLabware reports whether substep transitions are meaningful at s.
func (s StepState) handlesLabware() bool {
	return s.Step() == domain.StepHandleLabware
}
