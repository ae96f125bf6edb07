package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offsetcore/internal/adapters/exports"
	"offsetcore/internal/adapters/httpapi"
	"offsetcore/internal/blob"
	"offsetcore/internal/core"
	"offsetcore/pkg/domain"
)

const plate = "opentrons/nest_96_wellplate_100ul_pcr_full_skirt/2"

const fixtureYAML = `offsets:
  - definitionUri: ` + plate + `
    vector: {x: 0.1, y: -0.2, z: 0}
  - definitionUri: ` + plate + `
    slotName: D2
    moduleModel: temperatureModuleV2
    vector: {x: 0, y: 0, z: 0.4}
labware:
  - definitionUri: ` + plate + `
    locations:
      - slotName: C1
      - slotName: D2
        moduleModel: temperatureModuleV2
`

func init() { gin.SetMode(gin.TestMode) }

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func sqliteConfig(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "offsets.db")
	return writeFile(t, "offsetctl.yaml", "storage:\n  driver: sqlite\n  dbPath: "+db+"\n")
}

func runCLI(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestSeedListDelete(t *testing.T) {
	cfg := sqliteConfig(t)
	fixtures := writeFile(t, "fixtures.yaml", fixtureYAML)

	out, stderr, code := runCLI(t, "--config", cfg, "seed", "-f", fixtures)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "D2/temperatureModuleV2")
	assert.Contains(t, out, "default")

	out, stderr, code = runCLI(t, "--config", cfg, "list", plate, "-o", "json")
	require.Equal(t, 0, code, stderr)
	var rows []offsetRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	byKind := map[domain.LocationKind]offsetRow{}
	for _, r := range rows {
		byKind[r.Location.Kind] = r
	}
	assert.Equal(t, domain.Vector3{X: 0.1, Y: -0.2}, byKind[domain.LocationKindDefault].Vector)
	assert.Equal(t, "temperatureModuleV2", byKind[domain.LocationKindSpecific].Location.ModuleModel)

	out, stderr, code = runCLI(t, "--config", cfg, "delete", byKind[domain.LocationKindDefault].ID)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "deleted 1 offset(s)")

	out, _, code = runCLI(t, "--config", cfg, "list", "-o", "yaml")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "slotName: D2")
	assert.NotContains(t, out, "kind: default")
}

func TestCLIValidation(t *testing.T) {
	cfg := sqliteConfig(t)

	_, stderr, code := runCLI(t, "--config", cfg, "list", "-o", "xml")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `unknown output format "xml"`)

	_, stderr, code = runCLI(t, "--config", cfg, "seed")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `required flag(s) "file" not set`)

	robot := writeFile(t, "robot.yaml", "storage:\n  driver: robot\n")
	_, stderr, code = runCLI(t, "--config", robot, "list")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not reachable from offsetctl")

	bad := writeFile(t, "bad.yaml", "offsets:\n  - vector: {x: 1}\n")
	_, stderr, code = runCLI(t, "--config", cfg, "seed", "-f", bad)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, domain.ErrMissingDefinitionURI.Error())
}

func TestRunCommandsAgainstServer(t *testing.T) {
	svc := core.NewInMemoryService(nil)
	worker := exports.NewWorker(svc, blob.NewMemory())
	worker.Start(context.Background())
	t.Cleanup(func() { _ = worker.Stop(context.Background()) })
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.New(svc, httpapi.WithExporter(worker)), nil))
	t.Cleanup(srv.Close)

	cfg := sqliteConfig(t)
	fixtures := writeFile(t, "fixtures.yaml", fixtureYAML)

	out, stderr, code := runCLI(t, "--config", cfg, "--server", srv.URL, "start", "-f", fixtures, "--run-id", "cli-run")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "run cli-run at BEFORE_BEGINNING (1 labware)")

	run, ok := svc.Run("cli-run")
	require.True(t, ok)
	assert.Len(t, run.Labware[plate].LocationSpecific, 2)

	out, stderr, code = runCLI(t, "--config", cfg, "--server", srv.URL, "runs")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "cli-run")

	_, _, err := svc.RecordInitialPosition(context.Background(), "cli-run", domain.DefaultLocation{DefinitionURI: plate}, domain.Vector3{})
	require.NoError(t, err)
	_, _, err = svc.RecordFinalPosition(context.Background(), "cli-run", domain.DefaultLocation{DefinitionURI: plate}, domain.Vector3{Z: 1})
	require.NoError(t, err)

	out, stderr, code = runCLI(t, "--config", cfg, "--server", srv.URL, "apply", "cli-run", "-o", "json")
	require.Equal(t, 0, code, stderr)
	var reply runReply
	require.NoError(t, json.Unmarshal([]byte(out), &reply))
	assert.False(t, core.HasUnsavedChanges(reply.Run))
	assert.Equal(t, domain.Vector3{Z: 1}, reply.Run.Labware[plate].Default.Existing.Vector)

	out, stderr, code = runCLI(t, "--config", cfg, "--server", srv.URL, "export", "cli-run", "--format", "csv")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "export ")

	_, stderr, code = runCLI(t, "--config", cfg, "--server", srv.URL, "apply", "missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "404")
}
