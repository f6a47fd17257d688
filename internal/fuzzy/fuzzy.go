// Package fuzzy provides normalized string similarity measures in [0, 1].
//
// Similarity is the matching-block ratio 2*M/T computed by a difflib
// SequenceMatcher over the runes of both strings. All scores are rounded half
// to even at two decimal places so that callers comparing them against
// thresholds see stable values.
package fuzzy

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// exactEnough short-circuits PartialRatio once a window is effectively equal.
const exactEnough = 0.995

// Ratio returns 2*M/T, where M is the number of runes in matching blocks and T
// the total rune count of a and b. It returns 0 when either string is empty.
func Ratio(a, b string) float64 {
	return round2(ratio(runes(a), runes(b)))
}

// PartialRatio returns the best Ratio between the shorter string and the
// windows of the longer one that line up with their matching blocks.
func PartialRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}

	shorter, longer := runes(a), runes(b)
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}

	best := 0.0
	blocks := difflib.NewMatcher(shorter, longer).GetMatchingBlocks()
	for _, block := range blocks {
		start := block.B - block.A
		if start < 0 {
			start = 0
		}
		end := start + len(shorter)
		if end > len(longer) {
			end = len(longer)
		}

		r := ratio(shorter, longer[start:end])
		if r > exactEnough {
			return 1
		}
		if r > best {
			best = r
		}
	}
	return round2(best)
}

// TokenSetRatio compares the two strings as sets of lowercase word tokens.
// Shared tokens are compared against each side's remainder, so extra words on
// one side lower the score less than with Ratio.
func TokenSetRatio(a, b string) float64 {
	pa, pb := process(a), process(b)
	if pa == "" || pb == "" {
		return 0
	}

	ta, tb := tokenSet(pa), tokenSet(pb)

	var common, onlyA, onlyB []string
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			common = append(common, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range tb {
		if _, ok := ta[tok]; !ok {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sect := strings.Join(common, " ")
	combinedA := strings.TrimSpace(sect + " " + strings.Join(onlyA, " "))
	combinedB := strings.TrimSpace(sect + " " + strings.Join(onlyB, " "))

	best := math.Max(Ratio(sect, combinedA), Ratio(sect, combinedB))
	return math.Max(best, Ratio(combinedA, combinedB))
}

func ratio(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	return difflib.NewMatcher(a, b).Ratio()
}

// runes splits s into one sequence element per rune.
func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// process drops Latin-1 supplement runes, blanks every rune that is not a
// letter, number or underscore, then lowercases and trims the result.
func process(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 128 && r <= 255:
			return -1
		case unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_':
			return r
		default:
			return ' '
		}
	}, s)
	return strings.TrimSpace(strings.ToLower(mapped))
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func round2(x float64) float64 {
	return math.RoundToEven(x*100) / 100
}
