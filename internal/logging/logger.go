// Package logging provides structured logging configuration using log/slog.
//
// Loggers obtained through FromContext carry chi's request id when called
// from an HTTP handler and the batch id when called inside a file load, so
// every line of a load can be correlated.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const batchIDKey ctxKey = iota

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
//
// Use "json" when logs are shipped to a collector and "text" at a terminal.
// The CLI calls Setup once in main before running any command.
func Setup(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger writing to w. Setup uses it for the process logger;
// tests use it to capture output.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel converts a string log level to slog.Level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// WithBatchID stores the id of the batch being loaded in ctx. Loggers
// obtained from the returned context carry batch_id.
func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchIDKey, id)
}

// BatchID returns the batch id stored by WithBatchID, or "".
func BatchID(ctx context.Context) string {
	id, _ := ctx.Value(batchIDKey).(string)
	return id
}

// FromContext returns the default logger enriched with request context.
//
// Inside an HTTP handler chi's RequestID middleware has stored the request
// id, which becomes request_id on every line. Inside a file load the loader
// has stored the batch id with WithBatchID, which becomes batch_id. A bare
// context yields the default logger.
//
// Usage:
//
//	func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
//	    log := logging.FromContext(r.Context())
//	    log.Info("rollback requested", "batch_id", id)
//	}
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	// Set by chi's RequestID middleware
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if id := BatchID(ctx); id != "" {
		logger = logger.With("batch_id", id)
	}

	return logger
}

// WithFields returns a context logger with additional structured fields.
//
// It gives a multi-step operation one logger that carries the same fields
// on every line, the way the loader tags each phase of a file.
//
// Usage:
//
//	log := logging.WithFields(ctx, "file", path, "source", sourceID)
//	log.Info("load committed", "version", v, "rows", n)
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
