package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/config"
)

// ServiceName is attached to every entry as the "service" attribute.
const ServiceName = "miio-bridge"

// redacted replaces the value of secret attributes.
const redacted = "[redacted]"

// secretKeys are attribute keys whose values are never written, at any
// nesting depth.
var secretKeys = map[string]bool{
	"token":    true,
	"password": true,
}

// Logger wraps slog.Logger with the bridge's default attributes and secret
// redaction. It satisfies the Logger interfaces of the device, miio, mqtt
// and process packages.
//
// Thread Safety: All methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a logger writing to the configured output.
//
// Format "text" selects slog's text handler; anything else is JSON. Output
// "stderr" writes to stderr; anything else to stdout.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		output = os.Stderr
	}
	return NewWithWriter(output, cfg, version)
}

// NewWithWriter is New with an explicit destination; cfg.Output is ignored.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactSecrets,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// redactSecrets is a slog ReplaceAttr hook.
func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// parseLevel converts a string log level to slog.Level.
// Unrecognised values mean info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a new Logger with additional default attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger tagged component=name, e.g. "mqtt" or
// "miio-helper".
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default creates a JSON info logger for use before configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
