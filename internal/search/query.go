package search

import (
	"fmt"
	"strings"
)

// Fractions of the input's word gaps that must be shared by a similar() hit.
const (
	abstractTermFraction = 0.3
	titleTermFraction    = 0.75
)

// AbstractQuery finds documents whose abstract is similar to abstract.
func AbstractQuery(abstract string, doctypes []string, rows int) Query {
	return similarQuery(KindAbstract, "abstract", abstract, abstractTermFraction, doctypes, rows)
}

// TitleQuery finds documents whose title is similar to title.
func TitleQuery(title string, doctypes []string, rows int) Query {
	return similarQuery(KindTitle, "title", title, titleTermFraction, doctypes, rows)
}

// DOIQuery finds documents carrying any of dois.
func DOIQuery(dois []string, doctypes []string, rows int) Query {
	return Query{
		Kind: KindDOI,
		Q:    fmt.Sprintf("doi:(%s)%s", quoteJoin(dois), doctypeFilter(doctypes)),
		Rows: rows,
	}
}

// PubnoteQuery finds documents whose publication note mentions any of dois.
// Eprints record the DOI of their published version there.
func PubnoteQuery(dois []string, doctypes []string, rows int) Query {
	return Query{
		Kind: KindPubnote,
		Q:    fmt.Sprintf("pubnote:(%s)%s", quoteJoin(dois), doctypeFilter(doctypes)),
		Rows: rows,
	}
}

// DoctypeQuery finds documents of the given doctypes by first author and year.
// It serves records such as theses and errata whose text rarely matches.
func DoctypeQuery(author string, year int, doctypes []string, rows int) Query {
	return Query{
		Kind: KindDoctype,
		Q: fmt.Sprintf(`author:"^%s" year:%d doctype:(%s)`,
			escape(firstAuthor(author)), year, quoteJoin(doctypes)),
		Rows: rows,
	}
}

func similarQuery(kind Kind, field, text string, fraction float64, doctypes []string, rows int) Query {
	text = escape(text)
	terms := int(float64(strings.Count(text, " ")) * fraction)
	return Query{
		Kind: kind,
		Q: fmt.Sprintf(`topn(%d, similar("%s", input %s, %d, 2))%s`,
			rows, text, field, terms, doctypeFilter(doctypes)),
		Rows: rows,
	}
}

func doctypeFilter(doctypes []string) string {
	if len(doctypes) == 0 {
		return ""
	}
	return fmt.Sprintf(" doctype:(%s)", strings.Join(doctypes, " OR "))
}

func quoteJoin(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, `"`+escape(v)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// firstAuthor returns the first entry of a "Last, F.; Other, G." list
// without its trailing period.
func firstAuthor(authors string) string {
	first, _, _ := strings.Cut(authors, ";")
	return strings.TrimSuffix(strings.TrimSpace(first), ".")
}

// escape removes characters that would end a quoted phrase early.
func escape(s string) string {
	return strings.Join(strings.Fields(strings.NewReplacer(`"`, " ", `\`, " ").Replace(s)), " ")
}
