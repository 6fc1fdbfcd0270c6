package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, LevelError, ParseLevel("Error"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestWriteJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf)

	l.LogReservation("HOLD", "r-1", "3 tickets")
	l.LogSecurity("BAD_TOKEN", "signature mismatch")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "INFO", first.Level)
	assert.Equal(t, "RESERVATION", first.Category)
	assert.Equal(t, "[HOLD] raffle=r-1 3 tickets", first.Message)
	assert.Equal(t, "logger_test.go", first.File)

	var second Entry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "WARN", second.Level)
	assert.Equal(t, "SECURITY", second.Category)
}

func TestMinimumLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf)
	l.min = LevelWarn

	l.Debug("test", "hidden")
	l.Info("test", "hidden")
	l.Error("test", "shown")

	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
	assert.Contains(t, buf.String(), `"category":"TEST"`)
}

func TestRender(t *testing.T) {
	out := render(LevelInfo, Entry{
		Timestamp: "2026-02-01T10:11:12.000Z",
		Level:     "INFO",
		Category:  "SWEEP",
		Message:   "released 2 expired holds",
		File:      "sweeper.go",
		Line:      40,
	})
	assert.Contains(t, out, "10:11:12")
	assert.Contains(t, out, "released 2 expired holds")
	assert.Contains(t, out, "sweeper.go:40")
	assert.True(t, strings.HasSuffix(out, "\n"))
}
