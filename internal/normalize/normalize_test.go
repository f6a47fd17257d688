package normalize

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"golang.org/x/net/html"
)

func newTestNormalizer() *Normalizer {
	return New(nil, zerolog.Nop())
}

func TestClean(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain text unchanged",
			input:    "Nonlinear corrections in basic problems of coherent scattering",
			expected: "Nonlinear corrections in basic problems of coherent scattering",
		},
		{
			name:     "line breaks removed",
			input:    "first line \nsecond\nthird",
			expected: "first linesecondthird",
		},
		{
			name:     "paragraph marker removed",
			input:    "first paragraph. <P/>second paragraph.",
			expected: "first paragraph.second paragraph.",
		},
		{
			name:     "quotes dropped",
			input:    `the "best" model`,
			expected: "the best model",
		},
		{
			name:     "trailing backslash trimmed",
			input:    `text ends here\\`,
			expected: "text ends here",
		},
		{
			name:     "latex math removed",
			input:    "mass of $M_\\odot$ stars",
			expected: "mass of  stars",
		},
		{
			name:     "sub and sup markup removed",
			input:    "H<SUB>2</SUB> and x<sup>2</sup> terms",
			expected: "H> and x terms",
		},
		{
			name:     "illegal characters removed and whitespace collapsed",
			input:    "bad\x01 char\t\there",
			expected: "bad char here",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, n.Clean(tt.input))
		})
	}
}

func TestClean_Idempotent(t *testing.T) {
	n := newTestNormalizer()
	inputs := []string{
		"Nonlinear corrections in basic problems of coherent scattering II",
		"mass of $M$ stars \nin the <P/> halo",
		"weird\x02 spacing   here",
	}
	for _, in := range inputs {
		once := n.Clean(in)
		assert.Equal(t, once, n.Clean(once), "input %q", in)
	}
}

func TestStripLatexHTML(t *testing.T) {
	assert.Equal(t, "a  b", StripLatexHTML("a $x^2$ b"))
	assert.Equal(t, "CO>", StripLatexHTML("CO<sub>2</sub>"))
	assert.Equal(t, "no markup", StripLatexHTML("no markup"))
}

func TestRemoveControlChars(t *testing.T) {
	t.Run("collapses whitespace", func(t *testing.T) {
		assert.Equal(t, "a b c", RemoveControlChars("a \t\n b\x07 c", false))
	})

	t.Run("strict keeps whitespace", func(t *testing.T) {
		assert.Equal(t, "a \t\n b c", RemoveControlChars("a \t\n b\x07 c", true))
	})

	t.Run("drops invalid utf8", func(t *testing.T) {
		assert.Equal(t, "ab", RemoveControlChars("a\xffb", true))
	})
}

func TestHasIllegalXML(t *testing.T) {
	assert.False(t, HasIllegalXML("plain text\nwith newline"))
	assert.True(t, HasIllegalXML("bell\x07"))
	assert.True(t, HasIllegalXML("c1 control \u0090"))
	assert.True(t, HasIllegalXML("non-character \uFFFE"))
	assert.True(t, HasIllegalXML("plane one \U0001FFFF"))
	assert.True(t, HasIllegalXML("broken \xc3"))
}

func TestEncodeAuthor(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain ascii",
			input:    "Smolyakov, Mikhail N.",
			expected: "Smolyakov, Mikhail N.",
		},
		{
			name:     "accents stripped",
			input:    "Müller, Jürgen; Gómez, José",
			expected: "Muller, Jurgen; Gomez, Jose",
		},
		{
			name:     "html entities decoded",
			input:    "M&uuml;ller, J.",
			expected: "Muller, J.",
		},
		{
			name:     "markup removed",
			input:    "<b>Smith</b>, <i>J.</i>",
			expected: "Smith, J.",
		},
		{
			name:     "letters without decomposition folded",
			input:    "Łukasz, Ø.; Straße, Æ.",
			expected: "Lukasz, O.; Strasse, AE.",
		},
		{
			name:     "control characters removed",
			input:    "Doe,\u0085 J.",
			expected: "Doe, J.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, n.EncodeAuthor(tt.input))
		})
	}
}

func TestEncodeAuthor_UnparsableMarkup(t *testing.T) {
	var buf bytes.Buffer
	n := New(nil, zerolog.New(&buf))
	n.parseHTML = func(io.Reader) (*html.Node, error) {
		return nil, errors.New("unexpected EOF")
	}

	raw := "M&uuml;ller, <b>J."
	assert.Equal(t, raw, n.EncodeAuthor(raw))

	logged := buf.String()
	assert.Contains(t, logged, `"level":"warn"`)
	assert.Contains(t, logged, "author markup not parsed")
	assert.Contains(t, logged, "unexpected EOF")
	assert.Contains(t, logged, `"component":"normalize"`)
}

func TestEncodeAuthor_EntityTable(t *testing.T) {
	n := New(map[string]int{"ccaron": 0x010d}, zerolog.Nop())

	assert.Equal(t, "cech, A.", n.EncodeAuthor("&amp;ccaron;ech, A."))
	assert.Equal(t, "Doe, J.", n.EncodeAuthor("Doe&amp;unknown;, J."))
}

func TestFormatAuthor(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "initials spaced", input: "Smith, J.R.", expected: "Smith, J. R."},
		{name: "extra spaces collapsed", input: "Smith, J.    R.", expected: "Smith, J. R."},
		{name: "period before comma kept", input: "Smith, J.R., Jr.", expected: "Smith, J. R., Jr."},
		{name: "semicolons trimmed", input: ";Smith, J.; Doe, A.;", expected: "Smith, J. ; Doe, A. "},
		{name: "outer spaces trimmed", input: "  Doe, A  ", expected: "Doe, A"},
		{name: "space before comma", input: "A. ,B", expected: "A.  ,B"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatAuthor(tt.input))
		})
	}
}

func TestFormatAuthor_Idempotent(t *testing.T) {
	for _, in := range []string{"Smith, J.R.; Doe, A.B.", "Smolyakov, Mikhail N."} {
		once := FormatAuthor(in)
		assert.Equal(t, once, FormatAuthor(once))
	}
}
