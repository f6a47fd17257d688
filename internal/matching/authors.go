// Package matching scores candidate documents against a source record and
// resolves the surviving candidates into match results.
//
// The flow for one request is:
//  1. Scorer computes per-field similarity scores for each candidate.
//  2. A Predictor turns the scores into a probability.
//  3. Confidence applies the refereed factor, the DOI boost and rounding.
//  4. Resolver reconciles the figure with any stored match for the pair.
//  5. Rank keeps the best candidate and the ones close enough to it.
package matching

import (
	"math"
	"regexp"
	"strings"

	"github.com/helixir/docmatch-service/internal/fuzzy"
)

// DefaultFirstAuthorThreshold is the partial-ratio similarity below which the
// first author is considered missing from the reference list.
const DefaultFirstAuthorThreshold = 0.8

// firstAuthorMissingFactor discounts the matching count when the first
// author does not line up.
const firstAuthorMissingFactor = 0.3

// collaborationScore is returned when both sides list a collaboration.
const collaborationScore = 0.3

var reCollaboration = regexp.MustCompile(`[Cc]ollaboration`)

// AuthorScore compares a free-form reference author string with a list of
// normalized "Last, F" names and returns a score in [0, 1].
//
// The method:
//  1. Returns 0 when either side is empty.
//  2. Returns 0.3 when both sides mention a collaboration.
//  3. Splits ref on ';' and reduces every entry to "Last, F".
//  4. Counts exact matches, names missing from ref and names missing from ads.
//  5. Discounts the match count by 0.3 when the first names do not agree.
//  6. Computes (matching - |missingInRef - missingInADS|) / len(ads), clamped
//     to [0, 1] and rounded to two decimals.
func AuthorScore(ref string, ads []string, firstAuthorThreshold float64) float64 {
	if len(ref) == 0 || len(ads) == 0 {
		return 0
	}

	if reCollaboration.MatchString(ref) && reCollaboration.MatchString(strings.Join(ads, ";")) {
		return collaborationScore
	}

	refNorm := NormalizeReferenceAuthors(ref)
	if len(refNorm) == 0 {
		return 0
	}

	inRef := make(map[string]struct{}, len(refNorm))
	for _, name := range refNorm {
		inRef[name] = struct{}{}
	}
	inADS := make(map[string]struct{}, len(ads))
	for _, name := range ads {
		inADS[name] = struct{}{}
	}

	var matching, missingInRef, missingInADS float64
	for _, name := range ads {
		if _, ok := inRef[name]; ok {
			matching++
		} else {
			missingInRef++
		}
	}
	for _, name := range refNorm {
		if _, ok := inADS[name]; !ok {
			missingInADS++
		}
	}

	if fuzzy.PartialRatio(ads[0], refNorm[0]) < firstAuthorThreshold {
		matching *= firstAuthorMissingFactor
	}

	score := (matching - math.Abs(missingInRef-missingInADS)) / float64(len(ads))
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*100) / 100
}

// NormalizeReferenceAuthors reduces a ';'-separated author string to
// "Last, F" entries: the text before the first comma followed by the first
// character after it. Entries without an initial become "Last,". Entries with
// an empty last name are dropped.
func NormalizeReferenceAuthors(ref string) []string {
	parts := strings.Split(ref, ";")
	names := make([]string, 0, len(parts))

	for _, part := range parts {
		fields := strings.Split(part, ",")
		last := strings.TrimSpace(fields[0])
		if last == "" {
			continue
		}

		initial := ""
		if len(fields) >= 2 {
			rest := strings.TrimSpace(fields[1])
			for _, r := range rest {
				initial = string(r)
				break
			}
		}
		names = append(names, strings.TrimSpace(last+", "+initial))
	}

	return names
}
