package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey     contextKey = "request_id"
	sourceBibcodeKey contextKey = "source_bibcode"
	loggerKey        contextKey = "logger"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithSourceBibcode adds the bibcode being matched to the context.
func WithSourceBibcode(ctx context.Context, bibcode string) context.Context {
	return context.WithValue(ctx, sourceBibcodeKey, bibcode)
}

// SourceBibcodeFromContext retrieves the bibcode being matched from context.
// Returns empty string if not present.
func SourceBibcodeFromContext(ctx context.Context) string {
	if v := ctx.Value(sourceBibcodeKey); v != nil {
		if b, ok := v.(string); ok {
			return b
		}
	}
	return ""
}

// WithLogger stores a request-scoped logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the request-scoped logger, or fallback when the
// context carries none. The request ID is attached when present.
func LoggerFromContext(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	logger := fallback
	if v := ctx.Value(loggerKey); v != nil {
		if l, ok := v.(zerolog.Logger); ok {
			return l
		}
	}
	if id := RequestIDFromContext(ctx); id != "" {
		logger = logger.With().Str("request_id", id).Logger()
	}
	return logger
}
