// Package logger provides structured logging for the application.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

const loggerKey contextKey = "logger"

// New creates a structured logger. In production it emits JSON; elsewhere
// it emits human-readable text. Level comes from LOG_LEVEL.
func New(env string) *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(
		slog.String("service", "voicecampaign"),
		slog.String("env", env),
	)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext stores a logger in the context.
func WithContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext retrieves the logger from the context, falling back to the
// default logger when none is set.
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}

// HTTPRequest logs an HTTP request at the end of its lifecycle.
func HTTPRequest(log *slog.Logger, method, path string, status int, duration time.Duration, requestID string) {
	log.Info("http request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("request_id", requestID),
	)
}

// CallEvent logs a lifecycle event for a call attempt.
func CallEvent(log *slog.Logger, event, callID string, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("call_id", callID))
	for _, a := range attrs {
		args = append(args, a)
	}
	log.Info("call "+event, args...)
}

// WebhookEvent logs an inbound provider webhook.
func WebhookEvent(log *slog.Logger, mode, callID string, turnSeq int) {
	log.Info("telephony webhook",
		slog.String("mode", mode),
		slog.String("call_id", callID),
		slog.Int("turn_seq", turnSeq),
	)
}

// DatabaseError logs a database error with operation context.
func DatabaseError(log *slog.Logger, operation string, err error) {
	log.Error("database error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs when a rate limit is hit.
func RateLimitExceeded(log *slog.Logger, identifier, limitType string) {
	log.Warn("rate limit exceeded",
		slog.String("identifier", identifier),
		slog.String("limit_type", limitType),
	)
}
