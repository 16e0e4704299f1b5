package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		out = append(out, entry)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{"debug": LogLevelDebug, "INFO": LogLevelInfo, "": LogLevelInfo, "warning": LogLevelWarn, "error": LogLevelError} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestContextLogger_AttachesContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Output: &buf}).
		WithComponent("bridge").
		WithSession("s-1").
		WithAgent("researcher").
		WithContext("framework", "llm")

	l.Info("bridge.call.start", "tool", "research")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "bridge.call.start", e["msg"])
	assert.Equal(t, "bridge", e["component"])
	assert.Equal(t, "s-1", e["session_key"])
	assert.Equal(t, "researcher", e["agent"])
	assert.Equal(t, "llm", e["framework"])
	assert.Equal(t, "research", e["tool"])
}

func TestContextLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Output: &buf})
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0]["msg"])
}

func TestContextLogger_WithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(&LoggerConfig{Output: &buf})
	_ = parent.WithContext("k", "v")
	parent.Info("plain")
	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	_, ok := entries[0]["k"]
	assert.False(t, ok)
}

func TestContextLogger_DomainHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Output: &buf})

	l.LogToolCall("search", 5*time.Millisecond, nil)
	l.LogProviderCall("openai", "gpt-4o", 42, time.Millisecond, errors.New("boom"))
	l.LogTaskAttempt("t-1", "writer", 2, time.Millisecond, errors.New("rate limited"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 3)
	assert.Equal(t, "tool.call.success", entries[0]["msg"])
	assert.Equal(t, "provider.call.error", entries[1]["msg"])
	assert.Equal(t, "boom", entries[1]["error"])
	assert.Equal(t, "hierarchy.task.attempt.error", entries[2]["msg"])
	assert.Equal(t, float64(2), entries[2]["attempt"])
}

func TestOrNoOp(t *testing.T) {
	assert.Equal(t, NoOpLogger{}, OrNoOp(nil))
	l := NewDefaultSlogLogger()
	assert.Same(t, l, OrNoOp(l))
}
