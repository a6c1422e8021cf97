package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "JSON")
	logger.Info("dropped")
	logger.Warn("subtask breached sla", "task_id", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "subtask breached sla", line["msg"])
	assert.Equal(t, float64(7), line["task_id"])
}

func TestNewWithWriterText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", "text")
	logger.Debug("sweep", "checked", 2)
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "checked=2")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
