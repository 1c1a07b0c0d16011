package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"linkgraph/internal/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(config.LogConfig{Level: "info", Format: "json"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	l.Named("reconcile").Info("topology reconciled", zap.String("topology", "t1"))
	l.Debug("hidden")
	require.NoError(t, l.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "topology reconciled", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "linkgraph.reconcile", entry["logger"])
	assert.Equal(t, "t1", entry["topology"])
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(config.LogConfig{Level: "debug", Format: "console"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	l.Debug("visible")
	require.NoError(t, l.Close())
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "visible")
}

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "linkgraph.log")
	var buf bytes.Buffer
	l, err := newLogger(config.LogConfig{Level: "warn", Format: "console", File: path, MaxSizeMB: 1}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	l.Warn("link flapping", zap.String("link", "a|b"))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"link flapping"`)
	assert.Contains(t, buf.String(), "link flapping")
}

func TestNewInvalid(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = New(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
