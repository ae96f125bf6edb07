package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offsetcore/internal/infra/persistence/postgres/testutil"
	"offsetcore/pkg/domain"
)

const plate = "opentrons/nest_96_wellplate_100ul_pcr_full_skirt/2"

func withStub(t *testing.T) *testutil.StubConn {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	return conn
}

func TestNewStoreLoadsRows(t *testing.T) {
	conn := withStub(t)
	created := time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)
	conn.Tables["labware_offsets"] = []map[string]any{{
		"id":             "off-1",
		"definition_uri": plate,
		"location":       []byte(`{"kind":"location-specific","definitionUri":"` + plate + `","slotName":"B1"}`),
		"x":              1.5,
		"y":              0.0,
		"z":              -0.25,
		"created_at":     created,
	}}

	s, err := NewStore(context.Background(), "")
	require.NoError(t, err)
	listed, err := s.ListOffsets(context.Background(), plate)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, domain.LocationSpecific{DefinitionURI: plate, SlotName: "B1"}, listed[0].Location)
	assert.Equal(t, domain.Vector3{X: 1.5, Z: -0.25}, listed[0].Vector)
	assert.True(t, created.Equal(listed[0].CreatedAt))
}

func TestApplyAndDeleteWriteThrough(t *testing.T) {
	conn := withStub(t)
	ctx := context.Background()
	s, err := NewStore(ctx, "postgres://stub")
	require.NoError(t, err)

	applied, err := s.ApplyOffsets(ctx, []domain.OffsetApplyRequest{
		{DefinitionURI: plate, Location: domain.DefaultLocation{DefinitionURI: plate}, Vector: domain.Vector3{Y: 2}},
	})
	require.NoError(t, err)
	require.Len(t, conn.Tables["labware_offsets"], 1)
	assert.Equal(t, applied[0].ID, conn.Tables["labware_offsets"][0]["id"])

	require.NoError(t, s.DeleteOffsets(ctx, []string{applied[0].ID}))
	assert.Empty(t, conn.Tables["labware_offsets"])
}

func TestFailedWriteRestoresMemory(t *testing.T) {
	conn := withStub(t)
	ctx := context.Background()
	s, err := NewStore(ctx, "")
	require.NoError(t, err)

	conn.FailTables = map[string]bool{"labware_offsets": true}
	_, err = s.ApplyOffsets(ctx, []domain.OffsetApplyRequest{
		{DefinitionURI: plate, Location: domain.DefaultLocation{DefinitionURI: plate}, Vector: domain.Vector3{Y: 2}},
	})
	require.Error(t, err)
	listed, err := s.Store.ListOffsets(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestNewStoreSurfacesOpenAndPingErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("no driver") })
	_, err := NewStore(context.Background(), "")
	restore()
	require.ErrorContains(t, err, "open postgres")

	conn := withStub(t)
	conn.FailExec = true
	_, err = NewStore(context.Background(), "")
	require.ErrorContains(t, err, "ping postgres")
}
