package matching

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/helixir/docmatch-service/internal/domain"
	"github.com/helixir/docmatch-service/internal/observability"
)

// minimumEvidence is the confidence below which a candidate without a DOI
// match or stored record is dropped.
const minimumEvidence = 0.01

// MatchedThreshold is the confidence above which a result counts as matched.
const MatchedThreshold = 0.5

// MatchReader reads the stored match touching a pair of bibcodes.
// Implementations return domain.ErrNotFound when there is none.
type MatchReader interface {
	Get(ctx context.Context, a, b string) (*domain.PersistedMatch, error)
}

// Config holds the tunable parameters of the resolver.
type Config struct {
	// RefereedScore is the factor applied to refereed candidates.
	RefereedScore float64

	// NotRefereedScore is the factor applied to candidates that are not refereed.
	NotRefereedScore float64

	// DOIBoost is added to the confidence when the DOIs intersect. Zero
	// disables the boost.
	DOIBoost float64

	// ConfidenceDigits is the number of decimal places kept.
	ConfidenceDigits int

	// FirstAuthorThreshold is the partial-ratio similarity below which the
	// first author is considered missing. Zero never discounts the first
	// author.
	FirstAuthorThreshold float64
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{
		RefereedScore:        DefaultRefereedScore,
		NotRefereedScore:     DefaultNotRefereedScore,
		DOIBoost:             DefaultDOIBoost,
		ConfidenceDigits:     DefaultConfidenceDigits,
		FirstAuthorThreshold: DefaultFirstAuthorThreshold,
	}
}

// withDefaults fills the fields whose zero value is unusable. DOIBoost and
// FirstAuthorThreshold are kept as given since zero is a valid setting.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RefereedScore == 0 {
		c.RefereedScore = d.RefereedScore
	}
	if c.NotRefereedScore == 0 {
		c.NotRefereedScore = d.NotRefereedScore
	}
	if c.ConfidenceDigits == 0 {
		c.ConfidenceDigits = d.ConfidenceDigits
	}
	return c
}

// Resolver scores candidates and reconciles them with stored matches.
// It holds only immutable configuration and is safe for concurrent use.
type Resolver struct {
	cfg        Config
	scorer     *Scorer
	predictor  Predictor
	classifier *Classifier
	reader     MatchReader
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// NewResolver creates a Resolver. A nil predictor falls back to the
// calibrated LogisticPredictor. metrics may be nil.
func NewResolver(
	cfg Config,
	predictor Predictor,
	classifier *Classifier,
	reader MatchReader,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Resolver {
	cfg = cfg.withDefaults()
	if predictor == nil {
		predictor = NewLogisticPredictor()
	}
	return &Resolver{
		cfg:        cfg,
		scorer:     NewScorer(cfg),
		predictor:  predictor,
		classifier: classifier,
		reader:     reader,
		logger:     logger.With().Str("component", "resolver").Logger(),
		metrics:    metrics,
	}
}

// Classifier returns the eprint classifier used by the resolver.
func (r *Resolver) Classifier() *Classifier {
	return r.classifier
}

// Resolve scores every candidate against source and returns the surviving
// results, best first. dois is the DOI list used for the DOI marker; it may
// differ from source.DOIs when a query route ignores DOIs.
//
// For each candidate the method:
//  1. Skips the candidate when it is the source itself.
//  2. Computes the score vector, the probability and the confidence.
//  3. Classifies the pair into eprint and publication.
//  4. Reads the stored match for the pair. Read failures are logged and
//     treated as no stored match.
//  5. Drops the candidate when the confidence is below 0.01 and neither a
//     DOI match nor a stored match supports it.
//  6. Reuses the stored confidence when it refers to the same pair and is at
//     least as high, or drops the candidate when a stronger stored match
//     claims one of the two bibcodes.
//
// The survivors are then ranked with Rank.
func (r *Resolver) Resolve(
	ctx context.Context,
	source domain.SourceRecord,
	dois []string,
	candidates []domain.CandidateDoc,
) []domain.MatchResult {
	logger := observability.WithMatchContext(r.logger, source.Bibcode, source.Doctype)
	if id := observability.RequestIDFromContext(ctx); id != "" {
		logger = observability.WithRequestContext(logger, id)
	}

	scored := source
	scored.DOIs = dois

	results := make([]domain.MatchResult, 0, len(candidates))
	for _, candidate := range candidates {
		if source.Bibcode != "" && candidate.Bibcode == source.Bibcode {
			r.metrics.RecordCandidateDropped(observability.DropSelfMatch)
			continue
		}

		scores := r.scorer.Score(scored, candidate)
		probability := r.predictor.Predict(scores)
		confidence := Confidence(
			probability,
			r.scorer.RefereedFactor(candidate),
			scores.HasDOIMatch(),
			r.cfg.DOIBoost,
			r.cfg.ConfidenceDigits,
		)
		r.metrics.RecordCandidateScored(confidence)

		candLogger := observability.WithCandidateContext(logger, candidate.Bibcode, confidence)

		result := domain.MatchResult{
			SourceBibcode:  source.Bibcode,
			MatchedBibcode: candidate.Bibcode,
			Confidence:     confidence,
			Scores:         &scores,
		}
		if r.classifier != nil {
			result.EprintBibcode, result.PubBibcode = r.classifier.Classify(source.Bibcode, candidate.Bibcode, source.Doctype)
		}

		prior := r.readPrior(ctx, candLogger, source.Bibcode, candidate.Bibcode)

		if confidence < minimumEvidence && !scores.HasDOIMatch() && prior == nil {
			r.metrics.RecordCandidateDropped(observability.DropLowEvidence)
			continue
		}

		if prior != nil {
			priorIDs := priorIdentifiers(prior, candidate.Identifiers)
			switch {
			case sameLogicalPair(source.Bibcode, candidate.Bibcode, priorIDs) && prior.Confidence >= confidence:
				candLogger.Debug().
					Float64("stored_confidence", prior.Confidence).
					Msg("reusing stored confidence")
				result.Confidence = prior.Confidence
				result.Scores = nil
				r.metrics.RecordStoredConfidenceReused()
			case blockedByStrongerClaim(source.Bibcode, candidate.Bibcode, priorIDs, prior.Confidence, confidence):
				candLogger.Debug().
					Str("stored_eprint", prior.EprintBibcode).
					Str("stored_pub", prior.PubBibcode).
					Float64("stored_confidence", prior.Confidence).
					Msg("candidate blocked by stronger stored match")
				r.metrics.RecordCandidateDropped(observability.DropStrongerClaim)
				continue
			}
		}

		result.Matched = result.Confidence > MatchedThreshold
		results = append(results, result)
	}

	ranked := Rank(results, r.cfg.ConfidenceDigits)
	for i := len(ranked); i < len(results); i++ {
		r.metrics.RecordCandidateDropped(observability.DropRankingWindow)
	}
	return ranked
}

// DOIResolve behaves like Resolve but returns results only when exactly one
// candidate survives.
func (r *Resolver) DOIResolve(
	ctx context.Context,
	source domain.SourceRecord,
	dois []string,
	candidates []domain.CandidateDoc,
) []domain.MatchResult {
	results := r.Resolve(ctx, source, dois, candidates)
	if len(results) == 1 {
		return results
	}
	if len(results) > 1 {
		r.metrics.RecordCandidateDropped(observability.DropDOINotUnique)
	}
	return nil
}

func (r *Resolver) readPrior(ctx context.Context, logger zerolog.Logger, a, b string) *domain.PersistedMatch {
	if r.reader == nil {
		return nil
	}
	prior, err := r.reader.Get(ctx, a, b)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn().Err(err).Msg("stored match lookup failed, continuing without it")
			r.metrics.RecordPriorReadFailed()
		}
		return nil
	}
	return prior
}

// priorIdentifiers returns the stored pair, extended with the candidate's
// alternate identifiers when the stored pair refers to the candidate under
// an older bibcode.
func priorIdentifiers(prior *domain.PersistedMatch, identifiers []string) map[string]struct{} {
	ids := map[string]struct{}{
		prior.EprintBibcode: {},
		prior.PubBibcode:    {},
	}
	for _, id := range identifiers {
		if id == prior.EprintBibcode || id == prior.PubBibcode {
			for _, alt := range identifiers {
				ids[alt] = struct{}{}
			}
			break
		}
	}
	return ids
}

// sameLogicalPair reports whether the stored match refers to the pair being
// resolved.
func sameLogicalPair(source, candidate string, priorIDs map[string]struct{}) bool {
	_, hasSource := priorIDs[source]
	_, hasCandidate := priorIDs[candidate]
	return hasSource && hasCandidate
}

// blockedByStrongerClaim reports whether a stored match with a higher
// confidence already claims the source or the candidate.
func blockedByStrongerClaim(source, candidate string, priorIDs map[string]struct{}, stored, computed float64) bool {
	_, hasSource := priorIDs[source]
	_, hasCandidate := priorIDs[candidate]
	return (hasSource || hasCandidate) && stored > computed
}
