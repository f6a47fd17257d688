// Package normalize cleans bibliographic text before it is compared.
//
// Titles and abstracts go through Clean, which removes XML-illegal code
// points, line breaks, paragraph markers, LaTeX math and sub/superscript
// markup. Author strings go through EncodeAuthor and then FormatAuthor, which
// reduce HTML-bearing, entity-encoded author lists to plain ASCII with
// consistently spaced initials.
//
// Every function in this package is pure and never fails: when a step cannot
// be applied the text passes through unchanged.
package normalize

import (
	"io"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

var (
	reLatexMath = regexp.MustCompile(`(\$[^$]*\$)`)
	reSubSup    = regexp.MustCompile(`(?i)(<SUB>.*</SUB|<SUP>.*</SUP>)`)
	reEscape    = regexp.MustCompile(`(\\\s*\w+|\\\s*\W+)\b`)
)

// Normalizer applies the text cleaning rules using a configured entity table.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	entities  map[string]rune
	parseHTML func(io.Reader) (*html.Node, error)
	logger    zerolog.Logger
}

// New creates a Normalizer. A nil entity table falls back to DefaultEntities.
func New(entities map[string]int, logger zerolog.Logger) *Normalizer {
	if entities == nil {
		entities = DefaultEntities()
	}
	table := make(map[string]rune, len(entities))
	for name, code := range entities {
		table[name] = rune(code)
	}
	return &Normalizer{
		entities:  table,
		parseHTML: html.Parse,
		logger:    logger.With().Str("component", "normalize").Logger(),
	}
}

// Clean prepares a title or abstract for comparison.
func (n *Normalizer) Clean(text string) string {
	if HasIllegalXML(text) {
		n.logger.Warn().Str("text", truncate(text, 200)).Msg("illegal unicode character found")
		text = strings.TrimSpace(RemoveControlChars(text, false))
	}

	text = strings.ReplaceAll(text, " \n", "")
	text = strings.ReplaceAll(text, "\n", "")
	text = strings.ReplaceAll(text, " <P/>", "")
	text = strings.TrimRight(text, `\`)
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, `"`, "")

	return StripLatexHTML(text)
}

// StripLatexHTML removes inline LaTeX math, sub/superscript markup and
// backslash-escaped tokens.
func StripLatexHTML(text string) string {
	out := reLatexMath.ReplaceAllString(text, "")
	out = reSubSup.ReplaceAllString(out, "")
	out = reEscape.ReplaceAllString(out, "")
	return out
}

// RemoveControlChars drops XML-illegal code points and control characters.
// Unless strict is set, every whitespace run is also collapsed to a single
// blank.
func RemoveControlChars(text string, strict bool) string {
	var b strings.Builder
	b.Grow(len(text))

	inSpace := false
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size

		if r == utf8.RuneError && size <= 1 {
			continue
		}
		if isIllegalXMLStrict(r) {
			continue
		}
		if !strict && unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		if isASCIIControl(r) {
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// HasIllegalXML reports whether text contains code points that are not
// allowed in XML documents, or bytes that are not valid UTF-8.
func HasIllegalXML(text string) bool {
	if !utf8.ValidString(text) {
		return true
	}
	for _, r := range text {
		if isIllegalXML(r) {
			return true
		}
	}
	return false
}

// isIllegalXML covers the control ranges, surrogates and non-characters.
func isIllegalXML(r rune) bool {
	switch {
	case r <= 0x08:
		return true
	case r >= 0x0B && r <= 0x1F:
		return true
	case r >= 0x7F && r <= 0x84:
		return true
	case r >= 0x86 && r <= 0x9F:
		return true
	case r >= 0xD800 && r <= 0xDFFF:
		return true
	case r >= 0xFDD0 && r <= 0xFDDF:
		return true
	}
	// U+xFFFE and U+xFFFF in every plane.
	return r&0xFFFE == 0xFFFE
}

// isIllegalXMLStrict is the narrower set removed by RemoveControlChars. Tab,
// line feed and carriage return survive so that whitespace can be collapsed.
func isIllegalXMLStrict(r rune) bool {
	switch {
	case r <= 0x08:
		return true
	case r == 0x0B || r == 0x0C:
		return true
	case r >= 0x0E && r <= 0x1F:
		return true
	case r >= 0xD800 && r <= 0xDFFF:
		return true
	case r == 0xFFFE || r == 0xFFFF:
		return true
	}
	return false
}

func isASCIIControl(r rune) bool {
	return (r >= 0x01 && r <= 0x08) || (r >= 0x0B && r <= 0x1F) || r == 0x7F
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
