// Package ctxlog carries a slog.Logger through context.Context so the
// engine's operations log through whatever handler the caller configured
// without threading a logger parameter everywhere.
package ctxlog

import (
	"context"
	"io"
	"log/slog"
)

// key is unexported so no other package can collide with our context key.
type key struct{}

var loggerKey = key{}

// WithLogger returns a context carrying the given logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from a context, falling back to
// slog.Default when none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// NewLogger builds a logger from the run config's log_level and log_format
// strings. Unknown values fall back to info-level text output.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
