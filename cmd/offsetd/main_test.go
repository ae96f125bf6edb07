package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offsetcore/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Storage = config.StorageConfig{Driver: "sqlite", DBPath: filepath.Join(t.TempDir(), "offsets.db")}
	cfg.Blob = config.BlobConfig{Driver: "memory"}
	cfg.Logging.Level = "error"
	return cfg
}

func TestServeAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- run(ctx, testConfig(t), func(addr string) { addrCh <- addr }) }()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-done:
		t.Fatalf("offsetd exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("offsetd did not start")
	}

	client := resty.New().SetBaseURL("http://" + addr)
	resp, err := client.R().
		SetBody(map[string]any{
			"runId":   "smoke",
			"labware": []map[string]any{{"definitionUri": "opentrons/nest_12_reservoir_15ml/1"}},
		}).
		Post("/runs")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())

	resp, err = client.R().Get("/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Contains(t, resp.String(), `"runs":1`)

	resp, err = client.R().Get("/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Contains(t, resp.String(), "offsetcore_operations_total")
	assert.Contains(t, resp.String(), `route="/runs"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("offsetd did not shut down")
	}
}

func TestCLIErrors(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 2, cli(context.Background(), []string{"-nope"}, &stderr))

	stderr.Reset()
	assert.Equal(t, 1, cli(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, &stderr))
	assert.Contains(t, stderr.String(), "read config file")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("storage:\n  driver: floppy\n"), 0o600))
	stderr.Reset()
	assert.Equal(t, 1, cli(context.Background(), []string{"-config", bad}, &stderr))
	assert.Contains(t, stderr.String(), `unknown storage driver "floppy"`)
}

func TestNewAppRejectsUnusableStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Blob = config.BlobConfig{Driver: "tape"}
	_, err := newApp(context.Background(), cfg)
	assert.ErrorContains(t, err, "export storage")
}
