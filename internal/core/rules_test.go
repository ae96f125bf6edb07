package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offsetcore/pkg/domain"
)

func viewOf(t *testing.T, state RunState) domain.RuleView {
	t.Helper()
	return newRunView(&state)
}

func runWith(t *testing.T, lw ...LabwareGeometryDetails) RunState {
	t.Helper()
	state, err := NewRunState("run-1", lw, fixedNow)
	require.NoError(t, err)
	return state
}

func TestDefaultRulesEngineOrder(t *testing.T) {
	var names []string
	for _, r := range NewDefaultRulesEngine().Rules() {
		names = append(names, r.Name())
	}
	assert.Equal(t, []string{"unique_location", "default_reset", "confirmed_positions", "selection"}, names)
}

func TestUniqueLocationRule(t *testing.T) {
	lw := newPlate(t, OffsetState{})
	lw.LocationSpecific = append(lw.LocationSpecific, LocationSpecificOffsetDetails{Location: slotC1})
	state := runWith(t, newPlate(t, OffsetState{}))
	state.Labware[plate] = lw

	res, err := NewUniqueLocationRule().Evaluate(context.Background(), viewOf(t, state), nil)
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, domain.CodeDuplicateLocation, res.Violations[0].Code)
	assert.True(t, res.HasBlocking())
}

func TestDefaultResetRule(t *testing.T) {
	state := runWith(t, newPlate(t, OffsetState{Working: &WorkingOffset{Confirmed: domain.ResetToDefault()}}))
	res, err := NewDefaultResetRule().Evaluate(context.Background(), viewOf(t, state), nil)
	require.NoError(t, err)
	assert.True(t, res.Has(domain.CodeResetUnsupported))
	assert.True(t, res.HasBlocking())
}

func TestConfirmedPositionsRuleOnlyChecksTouchedLabware(t *testing.T) {
	restarted := &WorkingOffset{InitialPosition: vptr(0, 0, 0), Confirmed: domain.Confirmed(vec(1, 0, 0))}
	state := runWith(t, newPlate(t, OffsetState{}, LocationSpecificOffsetDetails{Location: slotC1, OffsetState: OffsetState{Working: restarted}}))
	rule := NewConfirmedPositionsRule()

	res, err := rule.Evaluate(context.Background(), viewOf(t, state), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Violations)

	res, err = rule.Evaluate(context.Background(), viewOf(t, state), []domain.Change{{Target: domain.TargetLabware, URI: plate}})
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, domain.SeverityWarn, res.Violations[0].Severity)
	assert.Equal(t, slotC1.Key(), res.Violations[0].Location)
}

func TestSelectionRule(t *testing.T) {
	rule := NewSelectionRule()
	cases := []struct {
		name     string
		substep  SubstepState
		code     domain.Code
		blocking bool
	}{
		{"nothing selected in list", SubstepState{Current: domain.SubstepList}, "", false},
		{"check without selection", SubstepState{Current: domain.SubstepEditOffsetCheck}, domain.CodeNoSelectedLabware, true},
		{"unknown labware", SubstepState{Current: domain.SubstepDetails, Selected: &SelectedLabwareInfo{URI: "gone/uri/1"}}, domain.CodeStaleLocation, false},
		{"unknown location", SubstepState{Current: domain.SubstepEditOffsetPrep, Selected: selected(LocationSpecific{DefinitionURI: plate, SlotName: "Q1"})}, domain.CodeStaleLocation, false},
		{"valid", SubstepState{Current: domain.SubstepEditOffsetPrep, Selected: selected(slotC1)}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := runWith(t, newPlate(t, OffsetState{}))
			state.Substep = tc.substep
			res, err := rule.Evaluate(context.Background(), viewOf(t, state), nil)
			require.NoError(t, err)
			assert.Equal(t, tc.blocking, res.HasBlocking())
			if tc.code == "" {
				assert.Empty(t, res.Violations)
			} else {
				assert.True(t, res.Has(tc.code))
			}
		})
	}
}
