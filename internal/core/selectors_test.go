package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offsetcore/pkg/domain"
)

func TestLocationProjections(t *testing.T) {
	lw := newPlate(t, OffsetState{},
		LocationSpecificOffsetDetails{Location: slotC1, OffsetState: OffsetState{Existing: existing("c1", vec(0, 1, 0))}},
		LocationSpecificOffsetDetails{Location: slotD2},
	)
	assert.True(t, IsDefaultOffsetAbsent(lw))
	assert.Equal(t, 1, CountLocationSpecificOffsets(lw))

	v, ok := MostRecentVectorForLocation(lw, slotC1)
	assert.True(t, ok)
	assert.Equal(t, vec(0, 1, 0), v)
	_, ok = MostRecentVectorForLocation(lw, slotD2)
	assert.False(t, ok)
	_, ok = MostRecentVectorForLocation(lw, LocationSpecific{DefinitionURI: plate, SlotName: "Z9"})
	assert.False(t, ok)

	lw.Default.Working = confirmedAt(2, 0, 0)
	assert.False(t, IsDefaultOffsetAbsent(lw))
	v, ok = MostRecentVectorForLocation(lw, slotD2)
	assert.True(t, ok)
	assert.Equal(t, vec(2, 0, 0), v)

	lw, _, err := ResetLocationToDefault(lw, slotC1)
	require.NoError(t, err)
	assert.Equal(t, 0, CountLocationSpecificOffsets(lw), "reset entries cascade")
}

func TestWorkingOffsetsByURI(t *testing.T) {
	other := "opentrons/opentrons_96_tiprack_300ul/1"
	tips, err := domain.NewLabwareGeometryDetails(other, OffsetState{Working: &WorkingOffset{InitialPosition: vptr(0, 0, 0)}}, nil)
	require.NoError(t, err)
	lw := newPlate(t, OffsetState{},
		LocationSpecificOffsetDetails{Location: slotC1, OffsetState: OffsetState{Working: confirmedAt(1, 1, 1)}},
		LocationSpecificOffsetDetails{Location: slotD2, OffsetState: OffsetState{Existing: existing("d2", vec(1, 0, 0)), Working: &WorkingOffset{Confirmed: domain.ResetToDefault()}}},
	)
	run, err := NewRunState("run-1", []LabwareGeometryDetails{lw, tips}, fixedNow)
	require.NoError(t, err)

	byURI := WorkingOffsetsByURI(run)
	require.Len(t, byURI, 1, "unconfirmed sessions have nothing to save")
	require.Len(t, byURI[plate], 2)
	assert.Equal(t, slotC1, byURI[plate][0].OffsetLocation())
	assert.Equal(t, slotD2, byURI[plate][1].OffsetLocation())
	assert.True(t, HasUnsavedChanges(run))

	cleared, err := NewRunState("run-2", []LabwareGeometryDetails{ClearWorkingOffsets(lw), ClearWorkingOffsets(tips)}, fixedNow)
	require.NoError(t, err)
	assert.Empty(t, WorkingOffsetsByURI(cleared))
	assert.False(t, HasUnsavedChanges(cleared))
}
