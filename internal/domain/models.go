// Package domain provides domain models and errors for the document matching service.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NoMatchMessage is returned to callers when no candidate survives matching.
const NoMatchMessage = "no document was found in solr matching the request."

// SourceRecord is the record a caller wants matched. It is built per request
// and never persisted.
type SourceRecord struct {
	Bibcode       string
	Abstract      string
	Title         string
	Author        string
	Year          int
	Doctype       string
	DOIs          []string
	MatchDoctypes []string
}

// HasAbstract reports whether the abstract carries usable text.
func (s SourceRecord) HasAbstract() bool {
	a := strings.TrimSpace(s.Abstract)
	return a != "" && !strings.HasPrefix(strings.ToLower(a), "not available")
}

// CandidateDoc is a document returned by the search index.
type CandidateDoc struct {
	Bibcode     string   `json:"bibcode"`
	Abstract    string   `json:"abstract,omitempty"`
	Title       []string `json:"title,omitempty"`
	AuthorNorm  []string `json:"author_norm,omitempty"`
	Year        Year     `json:"year,omitempty"`
	Doctype     string   `json:"doctype,omitempty"`
	DOIs        []string `json:"doi,omitempty"`
	Identifiers []string `json:"identifier,omitempty"`
	Properties  []string `json:"property,omitempty"`
}

// ScoreVector holds the per-field similarity scores for one candidate.
// Abstract is nil when either side has no usable abstract. DOI is set only
// when the DOI lists intersect.
type ScoreVector struct {
	Abstract *float64 `json:"abstract"`
	Title    float64  `json:"title"`
	Author   float64  `json:"author"`
	Year     float64  `json:"year"`
	DOI      *float64 `json:"doi,omitempty"`
}

// HasDOIMatch reports whether the DOI marker is set.
func (v ScoreVector) HasDOIMatch() bool {
	return v.DOI != nil
}

// MatchResult is one surviving candidate after resolution.
type MatchResult struct {
	SourceBibcode  string
	MatchedBibcode string
	Confidence     float64
	Matched        bool
	// Scores is nil when the confidence was reused from a stored match.
	Scores *ScoreVector

	// EprintBibcode and PubBibcode hold the classified pair. Both are empty
	// when neither side could be identified as the eprint.
	EprintBibcode string
	PubBibcode    string
}

// Persistable reports whether the pair was classified.
func (r MatchResult) Persistable() bool {
	return r.EprintBibcode != "" && r.PubBibcode != ""
}

type matchResultJSON struct {
	SourceBibcode  string          `json:"source_bibcode"`
	MatchedBibcode string          `json:"matched_bibcode"`
	Confidence     float64         `json:"confidence"`
	Matched        bool            `json:"matched"`
	Scores         json.RawMessage `json:"scores"`
}

var emptyScores = json.RawMessage(`{}`)

// MarshalJSON renders a nil score vector as an empty object.
func (r MatchResult) MarshalJSON() ([]byte, error) {
	scores := emptyScores
	if r.Scores != nil {
		b, err := json.Marshal(r.Scores)
		if err != nil {
			return nil, err
		}
		scores = b
	}
	return json.Marshal(matchResultJSON{
		SourceBibcode:  r.SourceBibcode,
		MatchedBibcode: r.MatchedBibcode,
		Confidence:     r.Confidence,
		Matched:        r.Matched,
		Scores:         scores,
	})
}

// UnmarshalJSON accepts both the empty-object and the populated score forms.
func (r *MatchResult) UnmarshalJSON(data []byte) error {
	var raw matchResultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.SourceBibcode = raw.SourceBibcode
	r.MatchedBibcode = raw.MatchedBibcode
	r.Confidence = raw.Confidence
	r.Matched = raw.Matched
	r.Scores = nil

	trimmed := bytes.TrimSpace(raw.Scores)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, emptyScores) {
		return nil
	}
	var v ScoreVector
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return fmt.Errorf("decode scores: %w", err)
	}
	r.Scores = &v
	return nil
}

// PersistedMatch is a stored eprint/publication pair.
type PersistedMatch struct {
	EprintBibcode string    `json:"eprint_bibcode"`
	PubBibcode    string    `json:"pub_bibcode"`
	Confidence    float64   `json:"confidence"`
	Date          time.Time `json:"date"`
}

// Bibcodes returns the two identifiers of the stored pair.
func (m PersistedMatch) Bibcodes() []string {
	return []string{m.EprintBibcode, m.PubBibcode}
}

// Other returns the identifier paired with bibcode.
func (m PersistedMatch) Other(bibcode string) string {
	if m.EprintBibcode == bibcode {
		return m.PubBibcode
	}
	return m.EprintBibcode
}

// MatchRecord is a caller-supplied pair for the add and delete operations.
// Confidence may be given directly, or looked up by Source name.
type MatchRecord struct {
	SourceBibcode  string   `json:"source_bibcode" validate:"required"`
	MatchedBibcode string   `json:"matched_bibcode" validate:"required,nefield=SourceBibcode"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Source         string   `json:"source,omitempty"`
}

// MatchResponse is the caller-facing result of a match request.
type MatchResponse struct {
	Query   string        `json:"query"`
	Comment string        `json:"comment,omitempty"`
	Match   []MatchResult `json:"match,omitempty"`
	NoMatch string        `json:"no match,omitempty"`
}

// NewMatchResponse builds a response, filling in the no-match message when
// matches is empty.
func NewMatchResponse(query string, matches []MatchResult, comment string) *MatchResponse {
	resp := &MatchResponse{
		Query:   query,
		Comment: strings.TrimSpace(comment),
	}
	if len(matches) > 0 {
		resp.Match = matches
	} else {
		resp.NoMatch = NoMatchMessage
	}
	return resp
}

// HasMatch reports whether the response carries at least one match.
func (r *MatchResponse) HasMatch() bool {
	return r != nil && len(r.Match) > 0
}

// Year is a publication year that decodes from either a JSON number or a
// JSON string.
type Year int

// UnmarshalJSON implements json.Unmarshaler.
func (y *Year) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*y = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	// Dates such as "2022-01" carry the year first.
	if len(s) > 4 && s[4] == '-' {
		s = s[:4]
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid year %q", s)
	}
	*y = Year(n)
	return nil
}

// Int returns the year as an int.
func (y Year) Int() int {
	return int(y)
}

// StringList decodes from either a JSON string or a JSON array of strings.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []string
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return err
	}
	if s == "" {
		*l = nil
		return nil
	}
	*l = StringList{s}
	return nil
}
