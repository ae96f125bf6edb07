package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offsetcore/pkg/domain"
)

func TestStepNavigation(t *testing.T) {
	s := NewStepState(domain.DefaultSteps)
	assert.Equal(t, domain.StepBeforeBeginning, s.Step())
	assert.Equal(t, s, GoBackStep(s), "nothing to go back to")

	s = ProceedStep(ProceedStep(s))
	assert.Equal(t, domain.StepHandleLabware, s.Step())
	assert.True(t, s.handlesLabware())

	s = GoBackStep(s)
	assert.Equal(t, domain.StepAttachProbe, s.Step())

	for range 10 {
		s = ProceedStep(s)
	}
	assert.Equal(t, domain.StepComplete, s.Step())
	assert.True(t, s.IsLast())
}

func TestProceedToStepRetracesJumps(t *testing.T) {
	s := NewStepState(domain.DefaultSteps)
	s, err := ProceedToStep(s, domain.StepDetachProbe)
	require.NoError(t, err)
	assert.Equal(t, domain.StepDetachProbe, s.Step())

	same, err := ProceedToStep(s, domain.StepDetachProbe)
	require.NoError(t, err)
	assert.Equal(t, s, same)

	back := GoBackStep(s)
	assert.Equal(t, domain.StepBeforeBeginning, back.Step())
	assert.Len(t, s.History, 1, "original keeps its history")

	_, err = ProceedToStep(s, "DANCE")
	assert.ErrorIs(t, err, domain.ErrUnknownStep)
}

func TestEmptyStepOrder(t *testing.T) {
	s := NewStepState(nil)
	assert.Equal(t, Step(""), s.Step())
	assert.Equal(t, s, ProceedStep(s))
}
