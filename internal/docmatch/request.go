package docmatch

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/helixir/docmatch-service/internal/domain"
)

// Error messages returned to callers.
const (
	msgRequiredParams  = "the following parameters are required: `abstract` or `title`, `author`, `year`, and `doctype`"
	msgNoAddRecords    = "no records received to update db"
	msgNoDeleteRecords = "no records received to delete from db"
	msgAdded           = "updated db with new data successfully"
)

// MatchRequest is a caller's description of the record to match.
// Year, doi and match_doctype accept both scalar and list JSON forms.
type MatchRequest struct {
	Bibcode      string            `json:"bibcode"`
	Abstract     string            `json:"abstract" validate:"required_without=Title"`
	Title        string            `json:"title" validate:"required_without=Abstract"`
	Author       string            `json:"author" validate:"required"`
	Year         domain.Year       `json:"year" validate:"required"`
	Doctype      string            `json:"doctype" validate:"required"`
	DOI          domain.StringList `json:"doi,omitempty"`
	MatchDoctype domain.StringList `json:"match_doctype,omitempty"`
}

// trim removes surrounding whitespace from every text field.
func (r *MatchRequest) trim() {
	r.Bibcode = strings.TrimSpace(r.Bibcode)
	r.Abstract = strings.TrimSpace(r.Abstract)
	r.Title = strings.TrimSpace(r.Title)
	r.Author = strings.TrimSpace(r.Author)
	r.Doctype = strings.TrimSpace(r.Doctype)
	r.DOI = compact(r.DOI)
	r.MatchDoctype = compact(r.MatchDoctype)
}

// validateRequest reports the missing required fields as a single
// validation error.
func validateRequest(v *validator.Validate, r *MatchRequest) error {
	r.trim()
	if err := v.Struct(r); err != nil {
		return domain.NewValidationError("request", msgRequiredParams)
	}
	return nil
}

// validateRecords checks every add or delete record.
func validateRecords(v *validator.Validate, records []domain.MatchRecord, emptyMessage string) error {
	if len(records) == 0 {
		return domain.NewValidationError("records", emptyMessage)
	}
	for i := range records {
		records[i].SourceBibcode = strings.TrimSpace(records[i].SourceBibcode)
		records[i].MatchedBibcode = strings.TrimSpace(records[i].MatchedBibcode)
		if err := v.Struct(records[i]); err != nil {
			return domain.NewValidationError("records",
				"each record needs distinct `source_bibcode` and `matched_bibcode`")
		}
	}
	return nil
}

func compact(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
