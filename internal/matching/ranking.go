package matching

import (
	"sort"

	"github.com/helixir/docmatch-service/internal/domain"
)

// rankingWindow is the confidence gap below which a runner-up is kept.
const rankingWindow = 0.5

// Rank orders results by descending confidence and keeps the best one plus
// every result whose gap to the best, rounded to digits places, is strictly
// below 0.5. Equal confidences keep their input order.
func Rank(results []domain.MatchResult, digits int) []domain.MatchResult {
	if len(results) <= 1 {
		return results
	}

	sorted := make([]domain.MatchResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	top := sorted[0].Confidence
	kept := sorted[:1]
	for _, r := range sorted[1:] {
		if RoundTo(top-r.Confidence, digits) < rankingWindow {
			kept = append(kept, r)
		}
	}
	return kept
}
