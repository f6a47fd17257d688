package matching

import (
	"fmt"
	"regexp"
	"strings"
)

// EprintPattern names a regular expression matched against the bibstem
// portion of a bibcode.
type EprintPattern struct {
	Name    string `mapstructure:"name"`
	Pattern string `mapstructure:"pattern"`
}

// DefaultEprintPatterns covers the arXiv family. Bibstems are read from
// bibcode[4:9] with dots trimmed, so old-style archive names appear truncated
// to five characters.
func DefaultEprintPatterns() []EprintPattern {
	return []EprintPattern{
		{Name: "arXiv", Pattern: `^arXiv$`},
		{Name: "astro-ph", Pattern: `^astro$`},
		{Name: "cond-mat", Pattern: `^cond$`},
		{Name: "gr-qc", Pattern: `^gr\.qc$`},
		{Name: "hep", Pattern: `^hep\.[elpt]$`},
		{Name: "math", Pattern: `^math$`},
		{Name: "nlin", Pattern: `^nlin$`},
		{Name: "nucl", Pattern: `^nucl$`},
		{Name: "physics", Pattern: `^physi$`},
		{Name: "quant-ph", Pattern: `^quant$`},
		{Name: "cs", Pattern: `^cs$`},
		{Name: "q-bio", Pattern: `^q\.bio$`},
		{Name: "q-alg", Pattern: `^q\.alg$`},
		{Name: "legacy", Pattern: `^(acc\.p|adap|alg\.g|ao\.sc|atom|bayes|chao|chem|cmp\.l|comp|dg\.ga|funct|mtrl|patt|plasm|solv|supr)$`},
	}
}

type compiledPattern struct {
	name string
	re   *regexp.Regexp
}

// Classifier decides which bibcode of a pair is the eprint.
type Classifier struct {
	patterns []compiledPattern
}

// NewClassifier compiles the pattern table. A nil table falls back to
// DefaultEprintPatterns.
func NewClassifier(patterns []EprintPattern) (*Classifier, error) {
	if patterns == nil {
		patterns = DefaultEprintPatterns()
	}
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile eprint pattern %q: %w", p.Name, err)
		}
		compiled = append(compiled, compiledPattern{name: p.Name, re: re})
	}
	return &Classifier{patterns: compiled}, nil
}

// Classify returns the eprint and publication bibcodes of a pair. A source
// doctype of "eprint" or "article" decides directly. Otherwise the pattern
// table is consulted in order, checking the source before the match. Both
// results are empty when neither side is recognized.
func (c *Classifier) Classify(sourceBibcode, matchedBibcode, sourceDoctype string) (eprint, pub string) {
	switch sourceDoctype {
	case "eprint":
		return sourceBibcode, matchedBibcode
	case "article":
		return matchedBibcode, sourceBibcode
	}

	sourceStem := Bibstem(sourceBibcode)
	matchedStem := Bibstem(matchedBibcode)
	for _, p := range c.patterns {
		if sourceStem != "" && p.re.MatchString(sourceStem) {
			return sourceBibcode, matchedBibcode
		}
		if matchedStem != "" && p.re.MatchString(matchedStem) {
			return matchedBibcode, sourceBibcode
		}
	}
	return "", ""
}

// IsEprint reports whether the bibcode's bibstem matches the pattern table.
func (c *Classifier) IsEprint(bibcode string) bool {
	stem := Bibstem(bibcode)
	if stem == "" {
		return false
	}
	for _, p := range c.patterns {
		if p.re.MatchString(stem) {
			return true
		}
	}
	return false
}

// Bibstem returns bibcode[4:9] with surrounding dots trimmed.
func Bibstem(bibcode string) string {
	if len(bibcode) <= 4 {
		return ""
	}
	end := 9
	if len(bibcode) < end {
		end = len(bibcode)
	}
	return strings.Trim(bibcode[4:end], ".")
}
