package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var reEntity = regexp.MustCompile(`&([^#][^; ]+?);`)

// asciiFold covers letters that carry no canonical decomposition.
var asciiFold = map[rune]string{
	'ø': "o", 'Ø': "O",
	'ł': "l", 'Ł': "L",
	'ß': "ss",
	'æ': "ae", 'Æ': "AE",
	'œ': "oe", 'Œ': "OE",
	'đ': "d", 'Đ': "D",
	'ð': "d", 'Ð': "D",
	'þ': "th", 'Þ': "Th",
	'ı': "i",
	'ħ': "h", 'Ħ': "H",
	'ŋ': "n", 'Ŋ': "N",
	'‘': "'", '’': "'", '‚': "'",
	'“': `"`, '”': `"`, '„': `"`,
	'‐': "-", '‑': "-", '–': "-", '—': "-",
}

// DefaultEntities returns the default named-entity table used by
// EncodeAuthor. The map is freshly allocated on every call.
func DefaultEntities() map[string]int {
	return map[string]int{
		"amp":    0x0026,
		"apos":   0x0027,
		"nbsp":   0x00a0,
		"Aacute": 0x00c1, "aacute": 0x00e1,
		"Agrave": 0x00c0, "agrave": 0x00e0,
		"Acirc": 0x00c2, "acirc": 0x00e2,
		"Atilde": 0x00c3, "atilde": 0x00e3,
		"Auml": 0x00c4, "auml": 0x00e4,
		"Aring": 0x00c5, "aring": 0x00e5,
		"AElig": 0x00c6, "aelig": 0x00e6,
		"Ccedil": 0x00c7, "ccedil": 0x00e7,
		"Eacute": 0x00c9, "eacute": 0x00e9,
		"Egrave": 0x00c8, "egrave": 0x00e8,
		"Ecirc": 0x00ca, "ecirc": 0x00ea,
		"Euml": 0x00cb, "euml": 0x00eb,
		"Iacute": 0x00cd, "iacute": 0x00ed,
		"Igrave": 0x00cc, "igrave": 0x00ec,
		"Icirc": 0x00ce, "icirc": 0x00ee,
		"Iuml": 0x00cf, "iuml": 0x00ef,
		"Ntilde": 0x00d1, "ntilde": 0x00f1,
		"Oacute": 0x00d3, "oacute": 0x00f3,
		"Ograve": 0x00d2, "ograve": 0x00f2,
		"Ocirc": 0x00d4, "ocirc": 0x00f4,
		"Otilde": 0x00d5, "otilde": 0x00f5,
		"Ouml": 0x00d6, "ouml": 0x00f6,
		"Oslash": 0x00d8, "oslash": 0x00f8,
		"Uacute": 0x00da, "uacute": 0x00fa,
		"Ugrave": 0x00d9, "ugrave": 0x00f9,
		"Ucirc": 0x00db, "ucirc": 0x00fb,
		"Uuml": 0x00dc, "uuml": 0x00fc,
		"Yacute": 0x00dd, "yacute": 0x00fd,
		"yuml":   0x00ff,
		"szlig":  0x00df,
		"Scaron": 0x0160, "scaron": 0x0161,
		"Zcaron": 0x017d, "zcaron": 0x017e,
		"Ccaron": 0x010c, "ccaron": 0x010d,
		"Rcaron": 0x0158, "rcaron": 0x0159,
		"Lstrok": 0x0141, "lstrok": 0x0142,
		"Dstrok": 0x0110, "dstrok": 0x0111,
		"Ecaron": 0x011a, "ecaron": 0x011b,
		"Odblac": 0x0150, "odblac": 0x0151,
		"Udblac": 0x0170, "udblac": 0x0171,
	}
}

// EncodeAuthor reduces an author string that may carry HTML markup and named
// entities to plain ASCII. A string whose markup cannot be parsed is logged
// and returned unchanged.
func (n *Normalizer) EncodeAuthor(raw string) string {
	text, err := n.htmlText(raw)
	if err != nil {
		n.logger.Warn().Err(err).Str("author", truncate(raw, 200)).Msg("author markup not parsed, keeping raw text")
		return raw
	}
	text = n.substituteEntities(text)
	text = removeControlCharsAuthor(text)
	return toASCII(text)
}

// FormatAuthor puts exactly one blank after every period that is not
// followed by a comma, then trims surrounding blanks and semicolons.
func FormatAuthor(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 8)

	for i := 0; i < len(text); i++ {
		if text[i] != '.' {
			b.WriteByte(text[i])
			continue
		}
		j := i + 1
		for j < len(text) && text[j] == ' ' {
			j++
		}
		spaces := j - i - 1
		if j < len(text) && text[j] == ',' {
			if spaces == 0 {
				b.WriteByte('.')
				continue
			}
			// Leave one blank in front of the comma.
			b.WriteString(". ")
			i = j - 2
			continue
		}
		b.WriteString(". ")
		i = j - 1
	}

	return strings.Trim(strings.TrimSpace(b.String()), ";")
}

func (n *Normalizer) substituteEntities(text string) string {
	return reEntity.ReplaceAllStringFunc(text, func(m string) string {
		name := m[1 : len(m)-1]
		if r, ok := n.entities[name]; ok {
			return string(r)
		}
		return ""
	})
}

// htmlText parses raw as an HTML fragment and returns its concatenated text.
func (n *Normalizer) htmlText(raw string) (string, error) {
	doc, err := n.parseHTML(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse author html: %w", err)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String(), nil
}

// removeControlCharsAuthor drops C0 and C1 control characters.
func removeControlCharsAuthor(text string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || (r >= 127 && r < 160) {
			return -1
		}
		return r
	}, text)
}

// toASCII transliterates text to ASCII by stripping combining marks after
// compatibility decomposition and folding the remaining known letters.
// Anything else outside ASCII is dropped.
func toASCII(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	decomposed, _, err := transform.String(t, text)
	if err != nil {
		decomposed = text
	}

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
			continue
		}
		if folded, ok := asciiFold[r]; ok {
			b.WriteString(folded)
		}
	}
	return b.String()
}
