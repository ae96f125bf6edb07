package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"offsetcore/pkg/domain"
)

func TestMostRecentVectorRules(t *testing.T) {
	confirmed := &WorkingOffset{InitialPosition: vptr(0, 0, 0), FinalPosition: vptr(1, 0, 0), Confirmed: domain.Confirmed(vec(7, 0, 0))}
	reset := &WorkingOffset{Confirmed: domain.ResetToDefault()}
	pending := &WorkingOffset{InitialPosition: vptr(0, 0, 0)}

	cases := []struct {
		name  string
		state OffsetState
		want  Vector3
		ok    bool
	}{
		{"nothing", OffsetState{}, Vector3{}, false},
		{"existing only", OffsetState{Existing: existing("e", vec(1, 2, 3))}, vec(1, 2, 3), true},
		{"confirmed wins", OffsetState{Working: confirmed, Existing: existing("e", vec(1, 2, 3))}, vec(7, 0, 0), true},
		{"unconfirmed working falls to existing", OffsetState{Working: pending, Existing: existing("e", vec(1, 2, 3))}, vec(1, 2, 3), true},
		{"reset hides existing", OffsetState{Working: reset, Existing: existing("e", vec(1, 2, 3))}, Vector3{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := MostRecentVector(LocationSpecificOffsetDetails{Location: slotC1, OffsetState: tc.state})
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDefaultFallback(t *testing.T) {
	def := DefaultOffsetDetails{Location: defaultLoc, OffsetState: OffsetState{Existing: existing("d", vec(5, 0, 0))}}
	empty := DefaultOffsetDetails{Location: defaultLoc}

	cases := []struct {
		name     string
		details  OffsetDetails
		defaults DefaultOffsetDetails
		want     Vector3
		ok       bool
	}{
		{"cascade to default", LocationSpecificOffsetDetails{Location: slotC1}, def, vec(5, 0, 0), true},
		{"both unset", LocationSpecificOffsetDetails{Location: slotC1}, empty, Vector3{}, false},
		{"own vector wins", LocationSpecificOffsetDetails{Location: slotC1, OffsetState: OffsetState{Existing: existing("c", vec(0, 1, 0))}}, def, vec(0, 1, 0), true},
		{"reset cascades despite existing", LocationSpecificOffsetDetails{Location: slotC1, OffsetState: OffsetState{
			Existing: existing("c", vec(0, 1, 0)),
			Working:  &WorkingOffset{Confirmed: domain.ResetToDefault()},
		}}, def, vec(5, 0, 0), true},
		{"default never falls further", DefaultOffsetDetails{Location: defaultLoc}, def, Vector3{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := MostRecentVectorWithDefaultFallback(tc.details, tc.defaults)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEffectiveBaseline(t *testing.T) {
	lw := newPlate(t, OffsetState{Existing: existing("d", vec(5, 0, 0))})
	assert.Equal(t, vec(5, 0, 0), EffectiveBaseline(lw, slotC1))
	assert.Equal(t, vec(5, 0, 0), EffectiveBaseline(lw, defaultLoc))
	assert.Equal(t, domain.IdentityVector, EffectiveBaseline(lw, LocationSpecific{DefinitionURI: plate, SlotName: "A1"}))
	assert.Equal(t, domain.IdentityVector, EffectiveBaseline(newPlate(t, OffsetState{}), slotC1))
}
