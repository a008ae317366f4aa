package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// LogConfig configures NewLogger.
type LogConfig struct {
	Level   slog.Level
	Format  LogFormat
	Service string
	Version string
	// Output defaults to stderr so CLI stdout stays clean.
	Output io.Writer
}

// NewLogger builds a slog logger that stamps service metadata on every
// record and copies the correlation id and operation out of the context.
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var h slog.Handler
	if cfg.Format == LogFormatJSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}

	var attrs []slog.Attr
	if cfg.Service != "" {
		attrs = append(attrs, slog.String("service", cfg.Service))
	}
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	if len(attrs) > 0 {
		h = h.WithAttrs(attrs)
	}
	return slog.New(contextHandler{Handler: h})
}

// LoggerFromEnv reads VOLTAGE_LOG_LEVEL (debug, info, warn, error),
// VOLTAGE_LOG_FORMAT (text, json) and VOLTAGE_VERSION. APP_ENV=production
// switches the default format to JSON.
func LoggerFromEnv() *slog.Logger {
	cfg := LogConfig{
		Level:   ParseLevel(os.Getenv("VOLTAGE_LOG_LEVEL")),
		Format:  LogFormatText,
		Service: "voltage",
		Version: os.Getenv("VOLTAGE_VERSION"),
	}
	if os.Getenv("APP_ENV") == "production" {
		cfg.Format = LogFormatJSON
	}
	if f := os.Getenv("VOLTAGE_LOG_FORMAT"); f != "" {
		cfg.Format = LogFormat(strings.ToLower(f))
	}
	return NewLogger(cfg)
}

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := CorrelationIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String(CorrelationIDAttr, id))
	}
	if op := OperationFromContext(ctx); op != "" {
		r.AddAttrs(slog.String(OperationAttr, op))
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{Handler: h.Handler.WithGroup(name)}
}

// LogOperation returns a child logger scoped to one named operation.
func LogOperation(logger *slog.Logger, operation string, attrs ...any) *slog.Logger {
	return logger.With(append([]any{OperationAttr, operation}, attrs...)...)
}
