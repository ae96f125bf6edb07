package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "offsetcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: memory
robot:
  baseURL: http://robot.local:31950
  timeout: 5s
jog:
  maxOutstanding: 2
`), 0o600))
	t.Setenv(FileEnv, path)
	t.Setenv("OFFSETCORE_JOG_MAX_OUTSTANDING", "3")
	t.Setenv("OFFSETCORE_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "http://robot.local:31950", cfg.Robot.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Robot.Timeout)
	assert.Equal(t, int64(3), cfg.Jog.MaxOutstanding)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsBadDrivers(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = "postgres"
	cfg.Blob.Driver = "s3"
	cfg.Jog.MaxOutstanding = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgresDSN")
	assert.Contains(t, err.Error(), "s3Bucket")
	assert.Contains(t, err.Error(), "maxOutstanding")
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	t.Setenv("OFFSETCORE_STORAGE_DRIVER", "floppy")
	assert.Equal(t, Default(), LoadOrDefault())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
