package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal, panic).
	Level string

	// Format is the output format (json, console, pretty).
	Format string

	// Output is the output destination (stdout, stderr).
	Output string

	// AddSource adds source file and line number to log entries.
	AddSource bool

	// TimeFormat is the time format for timestamps.
	TimeFormat string
}

// ServiceName is attached to every log entry.
const ServiceName = "docmatch-service"

// DefaultLoggingConfig returns JSON logging at info level on stdout.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// NewLogger builds the process logger and sets the global level to match.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: zerolog.TimeFieldFormat}
	}

	ctx := zerolog.New(out).With().Timestamp().Str("service", ServiceName)
	if cfg.AddSource {
		ctx = ctx.Caller()
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	return ctx.Logger().Level(level)
}

// parseLevel maps a configured level name to a zerolog level. Unknown or
// empty names fall back to info.
func parseLevel(level string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	parsed, err := zerolog.ParseLevel(name)
	if err != nil || parsed == zerolog.NoLevel || parsed == zerolog.Disabled {
		return zerolog.InfoLevel
	}
	return parsed
}

// WithRequestContext adds the request identifier to a logger.
func WithRequestContext(logger zerolog.Logger, requestID string) zerolog.Logger {
	return logger.With().
		Str("request_id", requestID).
		Logger()
}

// WithMatchContext adds the record being matched to a logger.
func WithMatchContext(logger zerolog.Logger, sourceBibcode, doctype string) zerolog.Logger {
	return logger.With().
		Str("source_bibcode", sourceBibcode).
		Str("doctype", doctype).
		Logger()
}

// WithCandidateContext adds candidate fields to a logger.
func WithCandidateContext(logger zerolog.Logger, candidateBibcode string, confidence float64) zerolog.Logger {
	return logger.With().
		Str("candidate_bibcode", candidateBibcode).
		Float64("confidence", confidence).
		Logger()
}

// WithSearchContext adds search-related fields to a logger.
func WithSearchContext(logger zerolog.Logger, kind, query string) zerolog.Logger {
	return logger.With().
		Str("search_kind", kind).
		Str("query", query).
		Logger()
}

// WithEventContext adds Kafka event fields to a logger.
func WithEventContext(logger zerolog.Logger, topic, eventType string) zerolog.Logger {
	return logger.With().
		Str("topic", topic).
		Str("event_type", eventType).
		Logger()
}
