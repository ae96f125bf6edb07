package domain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Code: CodeStaleLocation, Severity: SeverityWarn}}})
	assert.False(t, result.HasBlocking())
	assert.True(t, result.Has(CodeStaleLocation))

	result.Add(Violation{Rule: "apply", Code: CodeIncompleteCalibration, Severity: SeverityBlock, Message: "missing final position"})
	assert.True(t, result.HasBlocking())
	assert.Len(t, result.Warnings(), 1)

	err := RuleViolationError{Result: result}
	assert.Equal(t, "transaction blocked by rules: apply: missing final position", err.Error())
	assert.Equal(t, "transaction blocked by rules", RuleViolationError{}.Error())
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"first"})
	engine.Register(staticRule{"second"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	require.NoError(t, err)
	require.Len(t, res.Violations, 2)
	assert.Equal(t, "second", res.Violations[1].Rule)
	assert.Len(t, engine.Rules(), 2)

	engine.Register(errorRule{})
	_, err = engine.Evaluate(context.Background(), emptyView{}, nil)
	assert.EqualError(t, err, "boom")
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{}, errors.New("boom")
}

type emptyView struct{}

func (emptyView) RunID() string                         { return "" }
func (emptyView) ListLabware() []LabwareGeometryDetails { return nil }
func (emptyView) FindLabware(string) (LabwareGeometryDetails, bool) {
	return LabwareGeometryDetails{}, false
}
func (emptyView) Selection() *SelectedLabwareInfo { return nil }
func (emptyView) Substep() Substep                { return SubstepNone }

func TestErrorsUnwrap(t *testing.T) {
	loc := LocationSpecific{DefinitionURI: "a/b/1", SlotName: "C1"}
	stale := &StaleLocationError{Location: loc}
	assert.ErrorIs(t, stale, ErrStaleLocation)
	assert.True(t, IsSoft(stale))
	assert.False(t, IsSoft(ErrNoSelectedLabware))
	assert.Contains(t, stale.Error(), "a/b/1@C1")

	missing := &MissingPositionError{Field: "initial position"}
	assert.Equal(t, "initial position missing for <no location>", missing.Error())

	incomplete := &IncompleteCalibrationError{URI: "a/b/1", Entries: []IncompleteEntry{{Location: loc, Missing: []string{"finalPosition", "confirmedVector"}}}}
	assert.Equal(t, "incomplete calibration for a/b/1: a/b/1@C1 (missing finalPosition, confirmedVector)", incomplete.Error())
}

func TestConfirmedVectorVariants(t *testing.T) {
	v := Vector3{X: 1, Y: -2, Z: 0.5}
	cases := []struct {
		name  string
		in    ConfirmedVector
		kind  ConfirmedKind
		json  string
		isVec bool
	}{
		{"unconfirmed", Unconfirmed(), ConfirmedNone, `{"kind":"none"}`, false},
		{"vector", Confirmed(v), ConfirmedVectorKind, `{"kind":"vector","vector":{"x":1,"y":-2,"z":0.5}}`, true},
		{"reset", ResetToDefault(), ConfirmedReset, `{"kind":"reset"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, tc.in.Kind())
			_, ok := tc.in.Vector()
			assert.Equal(t, tc.isVec, ok)
			raw, err := json.Marshal(tc.in)
			require.NoError(t, err)
			assert.JSONEq(t, tc.json, string(raw))
			var back ConfirmedVector
			require.NoError(t, json.Unmarshal(raw, &back))
			assert.Equal(t, tc.in, back)
		})
	}

	var bad ConfirmedVector
	assert.Error(t, json.Unmarshal([]byte(`{"kind":"vector"}`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`{"kind":"maybe"}`), &bad))
	assert.True(t, ResetToDefault().IsReset())
	assert.False(t, Unconfirmed().IsSet())
}

func TestLocationRecordRoundTrip(t *testing.T) {
	loc := LocationSpecific{DefinitionURI: "a/b/1", SlotName: "D3", ModuleModel: "heaterShakerModuleV1", AdapterID: "adapter-1"}
	back, err := RecordFor(loc).Location()
	require.NoError(t, err)
	assert.True(t, SameLocation(loc, back))
	assert.False(t, SameLocation(loc, DefaultLocation{DefinitionURI: "a/b/1"}))
	assert.True(t, SameLocation(nil, nil))

	_, err = LocationRecord{Kind: LocationKindSpecific, DefinitionURI: "a/b/1"}.Location()
	assert.Error(t, err)
	_, err = LocationRecord{Kind: LocationKindDefault}.Location()
	assert.ErrorIs(t, err, ErrMissingDefinitionURI)
}

func TestLabwareGeometryDetailsValidation(t *testing.T) {
	uri := "a/b/1"
	c1 := LocationSpecificOffsetDetails{Location: LocationSpecific{DefinitionURI: uri, SlotName: "C1"}}
	_, err := NewLabwareGeometryDetails(uri, OffsetState{}, []LocationSpecificOffsetDetails{c1, c1})
	var dup *DuplicateLocationError
	assert.ErrorAs(t, err, &dup)

	other := LocationSpecificOffsetDetails{Location: LocationSpecific{DefinitionURI: "x/y/1", SlotName: "C1"}}
	_, err = NewLabwareGeometryDetails(uri, OffsetState{}, []LocationSpecificOffsetDetails{other})
	assert.ErrorIs(t, err, ErrURIMismatch)

	lw, err := NewLabwareGeometryDetails(uri, OffsetState{}, []LocationSpecificOffsetDetails{c1})
	require.NoError(t, err)
	require.NoError(t, lw.Validate())

	state := OffsetState{Existing: &ExistingOffset{ID: "e1", Vector: Vector3{Z: 1}}}
	updated, ok := lw.WithState(c1.Location, state)
	require.True(t, ok)
	assert.Nil(t, lw.LocationSpecific[0].Existing, "original untouched")
	assert.Equal(t, "e1", updated.LocationSpecific[0].Existing.ID)

	_, ok = lw.WithState(LocationSpecific{DefinitionURI: uri, SlotName: "A1"}, state)
	assert.False(t, ok)
}
