package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, Config{}.Level())
	assert.Equal(t, zapcore.DebugLevel, Config{Verbose: 1}.Level())
	assert.Equal(t, zapcore.WarnLevel, Config{Quiet: true, Verbose: 2}.Level())
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	lg, cleanup := NewWithSink(Config{JSON: true}, zapcore.AddSync(&buf))

	lg.Info("port assigned", zap.String("vport", "/vport:1"))
	lg.Debug("hidden")
	require.NoError(t, cleanup(context.Background()))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "port assigned", entry["msg"])
	assert.Equal(t, "/vport:1", entry["vport"])
}

func TestQuietDropsInfo(t *testing.T) {
	var buf bytes.Buffer
	lg, _ := NewWithSink(Config{Quiet: true, NoColor: true}, zapcore.AddSync(&buf))

	lg.Info("dropped")
	lg.Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}
