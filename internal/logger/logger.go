// Package logger builds the process logger and carries request-scoped
// loggers through context.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rafaeljc/heimdall-local/internal/config"
)

// redacted replaces the value of attributes that hold credentials.
const redacted = "[REDACTED]"

// sensitiveKeys are matched case-insensitively against attribute keys.
var sensitiveKeys = map[string]struct{}{
	"authorization":    {},
	"api_key":          {},
	"personal_api_key": {},
	"project_token":    {},
	"token":            {},
	"password":         {},
}

// New returns a logger writing to os.Stdout.
func New(cfg *config.AppConfig) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter returns a logger configured from cfg writing to w.
// Every record carries the service name, version and environment.
func NewWithWriter(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	if cfg == nil {
		panic("logger: config cannot be nil")
	}

	opts := &slog.HandlerOptions{
		Level:       ParseLevel(cfg.LogLevel),
		AddSource:   cfg.Environment == config.EnvironmentDevelopment,
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("service", cfg.Name),
		slog.String("version", cfg.Version),
		slog.String("env", cfg.Environment),
	)
}

// ParseLevel converts a level name to slog.Level. Unknown names map to INFO.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Component returns a child logger tagged with a component name.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("component", name))
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	return a
}
