package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONCarriesContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{
		Level:   slog.LevelInfo,
		Format:  LogFormatJSON,
		Service: "voltage",
		Version: "1.2.3",
		Output:  &buf,
	})

	ctx := WithCorrelationID(context.Background(), "corr-1")
	ctx = WithOperation(ctx, "billing checkout")
	logger.InfoContext(ctx, "payment created", "user_id", 42)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "payment created", entry["msg"])
	assert.Equal(t, "voltage", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "corr-1", entry[CorrelationIDAttr])
	assert.Equal(t, "billing checkout", entry[OperationAttr])
	assert.EqualValues(t, 42, entry["user_id"])
}

func TestNewLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: slog.LevelWarn, Output: &buf})

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_WithAttrsKeepsContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf}).With("sweep", "retry")

	logger.InfoContext(WithCorrelationID(context.Background(), "abc"), "tick")
	out := buf.String()
	assert.Contains(t, out, "sweep=retry")
	assert.Contains(t, out, "correlation_id=abc")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLoggerFromEnv(t *testing.T) {
	t.Setenv("VOLTAGE_LOG_LEVEL", "debug")
	t.Setenv("VOLTAGE_LOG_FORMAT", "json")

	logger := LoggerFromEnv()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestLogOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := LogOperation(NewLogger(LogConfig{Output: &buf}), "sweep.daily", "batch", 3)

	logger.Info("done")
	out := buf.String()
	assert.Contains(t, out, "operation=sweep.daily")
	assert.Contains(t, out, "batch=3")
}

func TestContextHelpers_Empty(t *testing.T) {
	assert.Empty(t, CorrelationIDFromContext(context.Background()))
	assert.Empty(t, OperationFromContext(context.Background()))
}
