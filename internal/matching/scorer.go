package matching

import (
	"strings"

	"github.com/helixir/docmatch-service/internal/domain"
	"github.com/helixir/docmatch-service/internal/fuzzy"
	"github.com/helixir/docmatch-service/internal/normalize"
)

// Default refereed factors applied to the predicted probability.
const (
	DefaultRefereedScore    = 1.0
	DefaultNotRefereedScore = 0.9
)

// doiMarker is the DOI component recorded when the DOI lists intersect.
const doiMarker = 1.0

// Scorer computes per-field similarity scores between a source record and a
// candidate document.
type Scorer struct {
	firstAuthorThreshold float64
	refereedScore        float64
	notRefereedScore     float64
}

// NewScorer creates a Scorer from the matching configuration. Zero values
// fall back to the package defaults.
func NewScorer(cfg Config) *Scorer {
	cfg = cfg.withDefaults()
	return &Scorer{
		firstAuthorThreshold: cfg.FirstAuthorThreshold,
		refereedScore:        cfg.RefereedScore,
		notRefereedScore:     cfg.NotRefereedScore,
	}
}

// Score returns the score vector for one candidate. The DOI marker is set
// only when source.DOIs and the candidate's DOIs share an element.
func (s *Scorer) Score(source domain.SourceRecord, candidate domain.CandidateDoc) domain.ScoreVector {
	candidateTitle := normalize.StripLatexHTML(strings.Join(candidate.Title, " "))

	v := domain.ScoreVector{
		Title:  fuzzy.PartialRatio(strings.ToLower(source.Title), strings.ToLower(candidateTitle)),
		Author: AuthorScore(source.Author, candidate.AuthorNorm, s.firstAuthorThreshold),
		Year:   YearScore(absInt(candidate.Year.Int() - source.Year)),
	}

	if source.HasAbstract() && strings.TrimSpace(candidate.Abstract) != "" {
		abstract := fuzzy.TokenSetRatio(source.Abstract, candidate.Abstract)
		v.Abstract = &abstract
	}

	if DOIsIntersect(source.DOIs, candidate.DOIs) {
		marker := doiMarker
		v.DOI = &marker
	}

	return v
}

// RefereedFactor returns the factor applied to the predicted probability for
// the candidate.
func (s *Scorer) RefereedFactor(candidate domain.CandidateDoc) float64 {
	if IsRefereed(candidate) {
		return s.refereedScore
	}
	return s.notRefereedScore
}

// YearScore maps an absolute year difference to a score.
func YearScore(diff int) float64 {
	switch {
	case diff <= 1:
		return 1
	case diff <= 2:
		return 0.75
	case diff <= 3:
		return 0.5
	case diff <= 4:
		return 0.25
	default:
		return 0
	}
}

// IsRefereed reports whether the candidate counts as refereed. Eprints are
// treated as refereed manuscripts so that matching against them is not
// penalized.
func IsRefereed(candidate domain.CandidateDoc) bool {
	if strings.Contains(candidate.Doctype, "eprint") {
		return true
	}
	for _, p := range candidate.Properties {
		if p == "REFEREED" {
			return true
		}
	}
	return false
}

// DOIsIntersect reports whether both lists are non-empty and share an
// element, compared case-insensitively.
func DOIsIntersect(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, d := range a {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			set[d] = struct{}{}
		}
	}
	for _, d := range b {
		if _, ok := set[strings.ToLower(strings.TrimSpace(d))]; ok {
			return true
		}
	}
	return false
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
