package ui_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/fsu/internal/ui"
)

// runLogger mirrors the CLI setup: terse text on stderr, everything as JSON
// in the --log file.
func runLogger(stderr, logFile *bytes.Buffer) *slog.Logger {
	return slog.New(ui.NewMultiHandler(
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug}),
	))
}

func jsonRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var recs []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		recs = append(recs, rec)
	}
	return recs
}

func TestMultiHandler_EventRecordsOnlyInLogFile(t *testing.T) {
	var stderr, logFile bytes.Buffer
	logger := runLogger(&stderr, &logFile)

	logger.LogAttrs(context.Background(), slog.LevelDebug, "fsu.event",
		slog.String("type", "SymlinkCreated"),
		slog.String("path", "/src/l"),
		slog.String("link", "../a"),
	)
	logger.Warn("cannot set owner", "path", "/dst/f")

	assert.NotContains(t, stderr.String(), "fsu.event")
	assert.Contains(t, stderr.String(), "cannot set owner")

	recs := jsonRecords(t, &logFile)
	require.Len(t, recs, 2)
	assert.Equal(t, "fsu.event", recs[0]["msg"])
	assert.Equal(t, "SymlinkCreated", recs[0]["type"])
	assert.Equal(t, "../a", recs[0]["link"])
	assert.Equal(t, "WARN", recs[1]["level"])
}

func TestMultiHandler_Enabled(t *testing.T) {
	var stderr, logFile bytes.Buffer
	h := runLogger(&stderr, &logFile).Handler()

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug), "the log file takes debug records")

	quiet := ui.NewMultiHandler(
		slog.NewTextHandler(&stderr, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	assert.False(t, quiet.Enabled(context.Background(), slog.LevelWarn))
}

type failingHandler struct{ slog.Handler }

var errDiskFull = errors.New("log disk full")

func (failingHandler) Handle(context.Context, slog.Record) error { return errDiskFull }

func TestMultiHandler_HandleKeepsGoingAfterError(t *testing.T) {
	var stderr bytes.Buffer
	text := slog.NewTextHandler(&stderr, nil)
	h := ui.NewMultiHandler(failingHandler{Handler: text}, text)

	rec := slog.NewRecord(time.Time{}, slog.LevelError, "destination is full", 0)
	err := h.Handle(context.Background(), rec)

	require.ErrorIs(t, err, errDiskFull)
	assert.Contains(t, stderr.String(), "destination is full")
}

func TestMultiHandler_WithAttrsReachesEveryHandler(t *testing.T) {
	var stderr, logFile bytes.Buffer
	logger := runLogger(&stderr, &logFile).With("image", "disk.img")

	logger.Error("cannot save image")

	assert.Contains(t, stderr.String(), "image=disk.img")
	recs := jsonRecords(t, &logFile)
	require.Len(t, recs, 1)
	assert.Equal(t, "disk.img", recs[0]["image"])
}
