package integration

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"offsetcore/internal/adapters/exports"
	"offsetcore/internal/blob"
	"offsetcore/internal/config"
	"offsetcore/internal/core"
	"offsetcore/pkg/domain"
)

const tiprack = "opentrons/opentrons_flex_96_tiprack_50ul/1"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestIntegrationSmoke calibrates one location per storage driver, checks
// a follow-up run is seeded with the applied offset, and exports the result
// to every in-process blob driver.
func TestIntegrationSmoke(t *testing.T) {
	ctx := context.Background()
	slot := domain.LocationSpecific{DefinitionURI: tiprack, SlotName: "B2"}

	storage := map[string]func(t *testing.T) config.StorageConfig{
		"memory": func(*testing.T) config.StorageConfig { return config.StorageConfig{Driver: "memory"} },
		"sqlite": func(t *testing.T) config.StorageConfig {
			return config.StorageConfig{Driver: "sqlite", DBPath: filepath.Join(t.TempDir(), "offsets.db")}
		},
	}
	blobs := map[string]func(t *testing.T) config.BlobConfig{
		"memory": func(*testing.T) config.BlobConfig { return config.BlobConfig{Driver: "memory"} },
		"fs":     func(t *testing.T) config.BlobConfig { return config.BlobConfig{Driver: "fs", FSRoot: t.TempDir()} },
	}

	for name, storageCfg := range storage {
		t.Run(name, func(t *testing.T) {
			repo, closeRepo, err := core.OpenOffsetRepository(ctx, storageCfg(t), nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = closeRepo() })

			var traces bytes.Buffer
			svc := core.NewInMemoryService(nil, core.WithOffsetRepository(repo), core.WithTracer(core.NewJSONTracer(&traces)))
			labware := func() []domain.LabwareGeometryDetails {
				lw, err := domain.NewLabwareGeometryDetails(tiprack, domain.OffsetState{}, []domain.LocationSpecificOffsetDetails{{Location: slot}})
				require.NoError(t, err)
				return []domain.LabwareGeometryDetails{lw}
			}

			_, _, err = svc.StartRun(ctx, "first", labware())
			require.NoError(t, err)
			_, _, err = svc.RecordInitialPosition(ctx, "first", slot, domain.Vector3{X: 100, Y: 50, Z: 20})
			require.NoError(t, err)
			_, _, err = svc.RecordFinalPosition(ctx, "first", slot, domain.Vector3{X: 100.5, Y: 50, Z: 19.75})
			require.NoError(t, err)
			_, _, err = svc.ApplyWorkingOffsets(ctx, "first")
			require.NoError(t, err)
			_, err = svc.FinishRun(ctx, "first")
			require.NoError(t, err)

			second, _, err := svc.StartRun(ctx, "second", labware())
			require.NoError(t, err)
			v, ok := core.MostRecentVectorForLocation(second.Labware[tiprack], slot)
			require.True(t, ok)
			assert.Equal(t, domain.Vector3{X: 0.5, Z: -0.25}, v)
			assert.Contains(t, traces.String(), `"operation":"apply_working_offsets"`)

			for blobName, blobCfg := range blobs {
				t.Run(blobName, func(t *testing.T) {
					store, err := blob.Open(ctx, blobCfg(t))
					require.NoError(t, err)
					worker := exports.NewWorker(svc, store, exports.WithWorkers(1))
					worker.Start(ctx)
					defer func() { require.NoError(t, worker.Stop(ctx)) }()

					rec, err := worker.Enqueue(ctx, exports.Input{RunID: "second", Formats: []exports.Format{exports.FormatCSV}})
					require.NoError(t, err)
					require.Eventually(t, func() bool {
						got, _ := worker.Get(rec.ID)
						return got.Status == exports.StatusSucceeded
					}, 5*time.Second, 10*time.Millisecond)

					done, _ := worker.Get(rec.ID)
					require.Len(t, done.Artifacts, 1)
					_, rc, err := store.Get(ctx, done.Artifacts[0].Key)
					require.NoError(t, err)
					body, err := io.ReadAll(rc)
					require.NoError(t, err)
					require.NoError(t, rc.Close())
					assert.Contains(t, string(body), "B2", "csv mentions the calibrated slot")
				})
			}
		})
	}
}
