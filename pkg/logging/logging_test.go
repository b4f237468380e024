package logging

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("Error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestSetupFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	Setup("WARN", &buf)

	WithComponent(nil, "counter").Info("hidden")
	WithComponent(nil, "counter").Warn("shown", "shard", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "component=counter")
	assert.Contains(t, out, "shard=3")
}

func TestWithComponentKeepsLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil)).With("run", "r1")

	WithComponent(base, "dispatch").Info("primed")
	assert.Contains(t, buf.String(), "run=r1")
	assert.Contains(t, buf.String(), "component=dispatch")
}

func TestLogFileIsClearedEachRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "latest.log")
	for _, msg := range []string{"first run", "second run"} {
		file, err := OpenLogFile(path)
		require.NoError(t, err)
		var stderr bytes.Buffer
		Setup("INFO", io.MultiWriter(&stderr, file)).Info(msg)
		require.NoError(t, file.Close())
		assert.Contains(t, stderr.String(), msg)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "first run")
	assert.Contains(t, string(data), "second run")
}
