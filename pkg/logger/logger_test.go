package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: LevelInfo, Format: "json", Output: &buf})

	l.With(Component("sessions")).Info("session started", SessionID("s-1"), Err(nil))
	l.Debug("dropped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "session started", entry["message"])
	assert.Equal(t, "sessions", entry["component"])
	assert.Equal(t, "s-1", entry["session_id"])
	assert.NotContains(t, entry, "error")
}

func TestObserverAndContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewFromZap(zap.New(core))

	ctx := WithContext(context.Background(), l.WithRequestID("req-1"))
	FromContext(ctx).Warn("clamped", Err(errors.New("too large")))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields[RequestIDKey])
	assert.Equal(t, "too large", fields["error"])
}
