package testutil

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func named(vals ...any) []driver.NamedValue {
	out := make([]driver.NamedValue, len(vals))
	for i, v := range vals {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

func TestStubUpsertDeleteAndSelect(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	require.NoError(t, conn.Ping(ctx))

	insert := "INSERT INTO labware_offsets(id, definition_uri) VALUES($1,$2)"
	_, err := conn.ExecContext(ctx, insert, named("off-1", "opentrons/plate/1"))
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, insert, named("off-1", "opentrons/plate/1"))
	require.Error(t, err, "duplicate key without ON CONFLICT")

	_, err = conn.ExecContext(ctx, insert+" ON CONFLICT(id) DO UPDATE SET definition_uri=EXCLUDED.definition_uri", named("off-1", "opentrons/plate/2"))
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, insert, named("off-2", "opentrons/plate/1"))
	require.NoError(t, err)
	require.Len(t, conn.Tables["labware_offsets"], 2)
	assert.Equal(t, "opentrons/plate/2", conn.Tables["labware_offsets"][0]["definition_uri"])

	res, err := conn.ExecContext(ctx, "DELETE FROM labware_offsets WHERE id = $1", named("off-1"))
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.Equal(t, int64(1), n)

	rows, err := conn.QueryContext(ctx, "SELECT id, definition_uri FROM labware_offsets", nil)
	require.NoError(t, err)
	dest := make([]driver.Value, 2)
	require.NoError(t, rows.Next(dest))
	assert.Equal(t, []driver.Value{"off-2", "opentrons/plate/1"}, dest)
	assert.Error(t, rows.Next(dest))
}

func TestStubFailureSwitches(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	conn.FailTables = map[string]bool{"labware_offsets": true}
	_, err := conn.QueryContext(ctx, "SELECT id FROM labware_offsets", nil)
	assert.Error(t, err)

	conn.FailBegin = true
	_, err = conn.BeginTx(ctx, driver.TxOptions{})
	assert.Error(t, err)

	conn.FailBegin, conn.FailCommit = false, true
	tx, err := conn.BeginTx(ctx, driver.TxOptions{})
	require.NoError(t, err)
	assert.Error(t, tx.Commit())

	_, err = conn.QueryContext(ctx, "UPDATE labware_offsets SET x = 1", nil)
	assert.Error(t, err)
}
