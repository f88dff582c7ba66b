package logging

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestLevelFilterDropsBelowMin(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewLevelFilter(inner, slog.LevelWarn))

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func TestMultiHandlerFansOut(t *testing.T) {
	var a, b bytes.Buffer
	handler := NewMultiHandler(
		slog.NewTextHandler(&a, nil),
		slog.NewJSONHandler(&b, nil),
	)
	logger := slog.New(handler)
	logger.Info("both sinks")

	assert.Contains(t, a.String(), "both sinks")
	assert.Contains(t, b.String(), "both sinks")
}

func TestMultiHandlerEnabled(t *testing.T) {
	quiet := slog.NewTextHandler(bytes.NewBuffer(nil), &slog.HandlerOptions{Level: slog.LevelError})
	loud := slog.NewTextHandler(bytes.NewBuffer(nil), &slog.HandlerOptions{Level: slog.LevelDebug})

	h := NewMultiHandler(quiet, loud)
	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))

	h = NewMultiHandler(quiet)
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewWritesRotatingFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Console = false
	cfg.File = true
	cfg.Dir = dir

	logger, err := New(cfg)
	require.NoError(t, err)

	logger.Info("regular entry")
	logger.Error("bad entry")
	require.NoError(t, logger.Close())

	main, err := filepath.Glob(filepath.Join(dir, "driftdb.log"))
	require.NoError(t, err)
	assert.Len(t, main, 1)
	errs, err := filepath.Glob(filepath.Join(dir, "errors.log"))
	require.NoError(t, err)
	assert.Len(t, errs, 1)
}
