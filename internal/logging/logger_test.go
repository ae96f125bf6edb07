package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestNewDefaultsEmptyLevelToInfo(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestKVLoggerWritesPairs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	kv := NewKV(zap.New(core)).With("run", "r1")

	kv.Debug("d")
	kv.Info("i", "uri", "opentrons/plate/1")
	kv.Warn("w")
	kv.Error("e", "error", "boom")

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, "i", entries[1].Message)
	fields := entries[1].ContextMap()
	assert.Equal(t, "r1", fields["run"])
	assert.Equal(t, "opentrons/plate/1", fields["uri"])
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestNopNeverFails(t *testing.T) {
	l := NewNop()
	l.KV().Info("ignored", "k", "v")
	assert.NotNil(t, NewKV(nil))
}
