// Package observability provides logging and metrics support for the document
// matching service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for match requests, resolution, search and events
//   - Context helpers for propagating request data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("source_bibcode", bibcode).Msg("match started")
//
// Add match context to logger:
//
//	logger = observability.WithMatchContext(logger, bibcode, doctype)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("docmatch")
//
// Record metrics:
//
//	metrics.RecordMatchRequest(observability.OutcomeMatched, elapsed.Seconds())
//	metrics.RecordCandidateScored(0.9899512)
//
// A nil *Metrics is valid and records nothing.
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	reqID := observability.RequestIDFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: HTTP or Kafka request identifier
//   - source_bibcode: Bibcode of the record being matched
//   - doctype: Document type of the record being matched
//   - candidate_bibcode: Bibcode of a search candidate
//   - confidence: Computed match confidence
//   - search_kind: Query kind (abstract, title, doi, pubnote, doctype)
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
