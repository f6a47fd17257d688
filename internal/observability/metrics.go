package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Match request outcomes.
const (
	OutcomeMatched = "matched"
	OutcomeNoMatch = "no_match"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// Reasons a candidate is dropped by the resolver.
const (
	DropSelfMatch      = "self_match"
	DropLowEvidence    = "low_evidence"
	DropStrongerClaim  = "stronger_claim"
	DropRankingWindow  = "ranking_window"
	DropDOINotUnique   = "doi_not_unique"
	DropUnclassifiable = "unclassifiable"
)

// Metrics contains all Prometheus metrics for the document matching service.
// Metrics are organized by subsystem: match requests, candidate resolution,
// persistence, search and events. All counters and histograms are registered
// via promauto for automatic registration with the default Prometheus registry.
//
// Every Record method is safe to call on a nil *Metrics, so components can be
// built without metrics in tests.
type Metrics struct {
	// MatchRequests counts match requests, labeled by outcome.
	MatchRequests *prometheus.CounterVec

	// MatchDuration observes the end-to-end duration of match requests in seconds.
	MatchDuration prometheus.Histogram

	// CandidatesScored counts candidate documents scored by the resolver.
	CandidatesScored prometheus.Counter

	// ConfidenceScores observes the distribution of computed confidence values.
	ConfidenceScores prometheus.Histogram

	// CandidatesDropped counts candidates removed by the resolver, labeled by reason.
	CandidatesDropped *prometheus.CounterVec

	// StoredConfidenceReused counts candidates whose stored confidence replaced the computed one.
	StoredConfidenceReused prometheus.Counter

	// PriorReadsFailed counts failed reads of stored matches. The resolver proceeds without them.
	PriorReadsFailed prometheus.Counter

	// MatchesSaved counts matches written to the store.
	MatchesSaved prometheus.Counter

	// MatchesSaveFailed counts failed match writes.
	MatchesSaveFailed prometheus.Counter

	// MatchesDeleted counts matches removed from the store.
	MatchesDeleted prometheus.Counter

	// SearchRequests counts search requests, labeled by query kind and HTTP status.
	SearchRequests *prometheus.CounterVec

	// SearchDuration observes search request duration in seconds, labeled by query kind.
	SearchDuration *prometheus.HistogramVec

	// SearchRetries counts retried search requests, labeled by reason.
	SearchRetries *prometheus.CounterVec

	// SearchCacheHits counts search results served from the cache.
	SearchCacheHits prometheus.Counter

	// SearchCacheMisses counts search results not found in the cache.
	SearchCacheMisses prometheus.Counter

	// EventsPublished counts events published to Kafka, labeled by event type.
	EventsPublished *prometheus.CounterVec

	// EventsFailed counts events that could not be published, labeled by event type.
	EventsFailed *prometheus.CounterVec

	// BatchRequests counts match requests consumed from Kafka, labeled by outcome.
	BatchRequests *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Match requests
		MatchRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_requests_total",
			Help:      "Total number of match requests by outcome",
		}, []string{"outcome"}),
		MatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Duration of match requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		// Resolution
		CandidatesScored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_scored_total",
			Help:      "Total number of candidate documents scored",
		}),
		ConfidenceScores: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence_score",
			Help:      "Distribution of computed match confidence",
			Buckets:   []float64{0.01, 0.1, 0.25, 0.5, 0.75, 0.9, 0.95, 0.99, 1},
		}),
		CandidatesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_dropped_total",
			Help:      "Total number of candidates dropped by reason",
		}, []string{"reason"}),
		StoredConfidenceReused: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stored_confidence_reused_total",
			Help:      "Total number of candidates resolved to a stored confidence",
		}),
		PriorReadsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prior_reads_failed_total",
			Help:      "Total number of failed stored match lookups",
		}),

		// Persistence
		MatchesSaved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_saved_total",
			Help:      "Total number of matches saved",
		}),
		MatchesSaveFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_save_failed_total",
			Help:      "Total number of failed match saves",
		}),
		MatchesDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_deleted_total",
			Help:      "Total number of matches deleted",
		}),

		// Search
		SearchRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Total number of search requests by query kind and status",
		}, []string{"kind", "status"}),
		SearchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of search requests in seconds by query kind",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		SearchRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_retries_total",
			Help:      "Total number of retried search requests by reason",
		}, []string{"reason"}),
		SearchCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_cache_hits_total",
			Help:      "Total number of search results served from cache",
		}),
		SearchCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_cache_misses_total",
			Help:      "Total number of search cache misses",
		}),

		// Events
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events published by type",
		}, []string{"event_type"}),
		EventsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Total number of events that failed to publish by type",
		}, []string{"event_type"}),
		BatchRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_requests_total",
			Help:      "Total number of match requests consumed from Kafka by outcome",
		}, []string{"outcome"}),
	}
}

// RecordMatchRequest records a finished match request.
func (m *Metrics) RecordMatchRequest(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.MatchRequests.WithLabelValues(outcome).Inc()
	m.MatchDuration.Observe(durationSeconds)
}

// RecordCandidateScored records one scored candidate and its confidence.
func (m *Metrics) RecordCandidateScored(confidence float64) {
	if m == nil {
		return
	}
	m.CandidatesScored.Inc()
	m.ConfidenceScores.Observe(confidence)
}

// RecordCandidateDropped records a candidate removed by the resolver.
func (m *Metrics) RecordCandidateDropped(reason string) {
	if m == nil {
		return
	}
	m.CandidatesDropped.WithLabelValues(reason).Inc()
}

// RecordStoredConfidenceReused records that a stored confidence was kept.
func (m *Metrics) RecordStoredConfidenceReused() {
	if m == nil {
		return
	}
	m.StoredConfidenceReused.Inc()
}

// RecordPriorReadFailed records a failed stored match lookup.
func (m *Metrics) RecordPriorReadFailed() {
	if m == nil {
		return
	}
	m.PriorReadsFailed.Inc()
}

// RecordMatchSaved records a saved match.
func (m *Metrics) RecordMatchSaved() {
	if m == nil {
		return
	}
	m.MatchesSaved.Inc()
}

// RecordMatchSaveFailed records a failed match save.
func (m *Metrics) RecordMatchSaveFailed() {
	if m == nil {
		return
	}
	m.MatchesSaveFailed.Inc()
}

// RecordMatchesDeleted records removed matches.
func (m *Metrics) RecordMatchesDeleted(count int) {
	if m == nil {
		return
	}
	m.MatchesDeleted.Add(float64(count))
}

// RecordSearchRequest records a search request and its duration.
func (m *Metrics) RecordSearchRequest(kind string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SearchRequests.WithLabelValues(kind, strconv.Itoa(statusCode)).Inc()
	m.SearchDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordSearchRetry records a retried search request.
func (m *Metrics) RecordSearchRetry(reason string) {
	if m == nil {
		return
	}
	m.SearchRetries.WithLabelValues(reason).Inc()
}

// RecordSearchCacheHit records a cache hit.
func (m *Metrics) RecordSearchCacheHit() {
	if m == nil {
		return
	}
	m.SearchCacheHits.Inc()
}

// RecordSearchCacheMiss records a cache miss.
func (m *Metrics) RecordSearchCacheMiss() {
	if m == nil {
		return
	}
	m.SearchCacheMisses.Inc()
}

// RecordEventPublished records a published event.
func (m *Metrics) RecordEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventFailed records an event that could not be published.
func (m *Metrics) RecordEventFailed(eventType string) {
	if m == nil {
		return
	}
	m.EventsFailed.WithLabelValues(eventType).Inc()
}

// RecordBatchRequest records a consumed batch match request.
func (m *Metrics) RecordBatchRequest(outcome string) {
	if m == nil {
		return
	}
	m.BatchRequests.WithLabelValues(outcome).Inc()
}
