package exports

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"offsetcore/internal/blob"
	"offsetcore/internal/core"
	"offsetcore/pkg/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const plateURI = "opentrons/corning_96_wellplate_360ul_flat/2"

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type staticRuns map[string]core.RunState

func (s staticRuns) Run(id string) (core.RunState, bool) {
	r, ok := s[id]
	return r, ok
}

func sampleRun(t *testing.T) core.RunState {
	t.Helper()
	c1 := domain.LocationSpecific{DefinitionURI: plateURI, SlotName: "C1"}
	d2 := domain.LocationSpecific{DefinitionURI: plateURI, SlotName: "D2", ModuleModel: "temperatureModuleV2"}
	lw, err := domain.NewLabwareGeometryDetails(plateURI,
		domain.OffsetState{Existing: &domain.ExistingOffset{ID: "def", Vector: domain.Vector3{X: 1}}},
		[]domain.LocationSpecificOffsetDetails{
			{Location: c1, OffsetState: domain.OffsetState{Existing: &domain.ExistingOffset{ID: "c1", Vector: domain.Vector3{Y: 2}}}},
			{Location: d2, OffsetState: domain.OffsetState{Working: &domain.WorkingOffset{Confirmed: domain.ResetToDefault()}}},
		})
	require.NoError(t, err)
	run, err := core.NewRunState("run-1", []domain.LabwareGeometryDetails{lw}, fixedNow)
	require.NoError(t, err)
	return run
}

func TestBuildReport(t *testing.T) {
	rep := BuildReport(sampleRun(t), fixedNow)
	require.Len(t, rep.Labware, 1)
	lw := rep.Labware[0]
	assert.False(t, lw.DefaultMissing)
	require.Len(t, lw.Offsets, 3)

	def := lw.Offsets[0]
	assert.Equal(t, domain.LocationKindDefault, def.Kind)
	assert.Equal(t, &domain.Vector3{X: 1}, def.Effective)

	c1 := lw.Offsets[1]
	assert.Equal(t, "C1", c1.SlotName)
	assert.Equal(t, &domain.Vector3{Y: 2}, c1.Effective)

	d2 := lw.Offsets[2]
	assert.Equal(t, "temperatureModuleV2", d2.Module)
	assert.Equal(t, "reset-to-default", d2.Working)
	assert.Equal(t, &domain.Vector3{X: 1}, d2.Effective)
}

func TestRenderCSV(t *testing.T) {
	out, err := Render(BuildReport(sampleRun(t), fixedNow), FormatCSV)
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"run-1", plateURI, "location-specific", "C1", "", "", "c1", "0", "2", "0", "unconfirmed", "0", "2", "0"}, rows[2])

	_, err = Render(Report{}, Format("xml"))
	assert.Error(t, err)
}

type recordingObserver struct {
	mu   sync.Mutex
	errs []error
	done chan struct{}
}

func (o *recordingObserver) ExportFinished(err error) {
	o.mu.Lock()
	o.errs = append(o.errs, err)
	o.mu.Unlock()
	o.done <- struct{}{}
}

func TestWorkerStoresArtifacts(t *testing.T) {
	store := blob.NewMemory()
	obs := &recordingObserver{done: make(chan struct{}, 4)}
	w := NewWorker(staticRuns{"run-1": sampleRun(t)}, store, WithObserver(obs), WithClock(core.ClockFunc(func() time.Time { return fixedNow })))
	ctx := context.Background()
	w.Start(ctx)
	defer func() { require.NoError(t, w.Stop(ctx)) }()

	rec, err := w.Enqueue(ctx, Input{RunID: "run-1", RequestedBy: "tester"})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, rec.Status)
	assert.Equal(t, []Format{FormatJSON, FormatCSV}, rec.Formats)

	<-obs.done
	got, ok := w.Get(rec.ID)
	require.True(t, ok)
	require.Equal(t, StatusSucceeded, got.Status, got.Error)
	require.Len(t, got.Artifacts, 2)
	assert.Equal(t, "runs/run-1/"+rec.ID+".json", got.Artifacts[0].Key)

	_, body, err := store.Get(ctx, got.Artifacts[0].Key)
	require.NoError(t, err)
	raw, _ := io.ReadAll(body)
	require.NoError(t, body.Close())
	var rep Report
	require.NoError(t, json.Unmarshal(raw, &rep))
	assert.Equal(t, "run-1", rep.RunID)

	assert.Len(t, w.List("run-1"), 1)
	assert.Empty(t, w.List("other"))
}

type failingStore struct{ blob.Store }

func (failingStore) Put(context.Context, string, io.Reader, blob.PutOptions) (blob.Info, error) {
	return blob.Info{}, errors.New("disk full")
}

func TestWorkerRecordsFailure(t *testing.T) {
	obs := &recordingObserver{done: make(chan struct{}, 1)}
	w := NewWorker(staticRuns{"run-1": sampleRun(t)}, failingStore{blob.NewMemory()}, WithObserver(obs))
	ctx := context.Background()
	w.Start(ctx)
	defer func() { require.NoError(t, w.Stop(ctx)) }()

	rec, err := w.Enqueue(ctx, Input{RunID: "run-1", Formats: []Format{FormatJSON, FormatJSON}})
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatJSON}, rec.Formats)
	<-obs.done

	got, _ := w.Get(rec.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "disk full")
	require.NotNil(t, got.CompletedAt)
	require.Len(t, obs.errs, 1)
	assert.Error(t, obs.errs[0])
}

func TestEnqueueValidation(t *testing.T) {
	w := NewWorker(staticRuns{"run-1": sampleRun(t)}, blob.NewMemory(), WithQueueSize(1))
	ctx := context.Background()

	_, err := w.Enqueue(ctx, Input{RunID: "missing"})
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
	_, err = w.Enqueue(ctx, Input{RunID: "run-1", Formats: []Format{"pdf"}})
	assert.Error(t, err)

	_, err = w.Enqueue(ctx, Input{RunID: "run-1"})
	require.NoError(t, err)
	_, err = w.Enqueue(ctx, Input{RunID: "run-1"})
	assert.ErrorIs(t, err, ErrQueueFull)

	require.NoError(t, w.Stop(ctx))
	_, err = w.Enqueue(ctx, Input{RunID: "run-1"})
	assert.ErrorIs(t, err, ErrStopped)
}
