package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/wrenware/lattice/internal/infrastructure/config"
)

// Logger is the service-wide structured logger. It embeds *slog.Logger
// and stamps every record with the service name and version, so log
// aggregation can tell Lattice instances apart.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of the configuration.
// Format "text" suits development consoles; anything else emits JSON.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return &Logger{Logger: slog.New(newHandler(cfg, out, version))}
}

// Default is the bootstrap logger used before the configuration file
// has been read: JSON to stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// With returns a child logger carrying extra default attributes,
// typically a component tag.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func newHandler(cfg config.LoggingConfig, out io.Writer, version string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return handler.WithAttrs([]slog.Attr{
		slog.String("service", "lattice"),
		slog.String("version", version),
	})
}

// parseLevel maps the configured level name onto slog's levels.
// Unrecognised names fall back to info rather than failing startup.
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
