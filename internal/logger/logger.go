// Package logger provides structured logging setup for FilOps.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/filops/filops/internal/config"
)

// asyncChanSize is the record buffer of the async handler.
const asyncChanSize = 1024

// New creates a *slog.Logger from the given Logging config plus a
// Closer that flushes buffered records. Output is JSON to stdout with
// a "service" attribute on every record. With cfg.Async the handler is
// wrapped in an AsyncHandler; otherwise the Closer is a no-op.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	closer := Closer(nopCloser{})
	if cfg.Async {
		async := NewAsyncHandler(handler, asyncChanSize, 1)
		handler = async
		closer = async
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
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
