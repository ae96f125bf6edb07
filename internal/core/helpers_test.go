package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"offsetcore/pkg/domain"
)

const plate = "opentrons/nest_96_wellplate_100ul_pcr_full_skirt/2"

var (
	defaultLoc = DefaultLocation{DefinitionURI: plate}
	slotC1     = LocationSpecific{DefinitionURI: plate, SlotName: "C1"}
	slotD2     = LocationSpecific{DefinitionURI: plate, SlotName: "D2", ModuleModel: "temperatureModuleV2"}
	fixedNow   = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func vec(x, y, z float64) Vector3 { return Vector3{X: x, Y: y, Z: z} }

func vptr(x, y, z float64) *Vector3 {
	v := vec(x, y, z)
	return &v
}

func existing(id string, v Vector3) *ExistingOffset {
	return &ExistingOffset{ID: id, Vector: v, CreatedAt: fixedNow.Add(-time.Hour)}
}

// newPlate builds labware with C1 and D2 and the given default state.
func newPlate(t *testing.T, def OffsetState, specific ...LocationSpecificOffsetDetails) LabwareGeometryDetails {
	t.Helper()
	if specific == nil {
		specific = []LocationSpecificOffsetDetails{{Location: slotC1}, {Location: slotD2}}
	}
	lw, err := domain.NewLabwareGeometryDetails(plate, def, specific)
	require.NoError(t, err)
	return lw
}

func stateAt(t *testing.T, lw LabwareGeometryDetails, loc OffsetLocation) OffsetState {
	t.Helper()
	d, ok := lw.Lookup(loc)
	require.True(t, ok, "no entry for %v", loc)
	return d.State()
}

// allowUnexported lets cmp see through the ConfirmedVector sum type.
var allowUnexported = cmp.AllowUnexported(domain.ConfirmedVector{})

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) add(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf("%s %s %v", level, msg, args))
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args...) }

func (l *captureLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, line := range l.lines {
		if len(line) > len(level) && line[:len(level)+1] == level+" " {
			n++
		}
	}
	return n
}

type observed struct {
	op      string
	success bool
}

type recordingMetrics struct {
	mu     sync.Mutex
	ops    []observed
	active int
}

func (m *recordingMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, observed{op, success})
}

func (m *recordingMetrics) SetActiveRuns(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = n
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *recordingAudit) Record(_ context.Context, e AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}
