package httpserver

import (
	"time"

	"github.com/helixir/docmatch-service/internal/domain"
)

// statusResponse answers the add and delete endpoints.
type statusResponse struct {
	Status string `json:"status"`
}

type matchResponse struct {
	EprintBibcode  string    `json:"eprint_bibcode"`
	PubBibcode     string    `json:"pub_bibcode"`
	MatchedBibcode string    `json:"matched_bibcode"`
	Confidence     float64   `json:"confidence"`
	Date           time.Time `json:"date"`
}

type listMatchesResponse struct {
	Bibcode    string          `json:"bibcode"`
	Matches    []matchResponse `json:"matches"`
	TotalCount int             `json:"total_count"`
}

func domainMatchToResponse(bibcode string, m *domain.PersistedMatch) matchResponse {
	return matchResponse{
		EprintBibcode:  m.EprintBibcode,
		PubBibcode:     m.PubBibcode,
		MatchedBibcode: m.Other(bibcode),
		Confidence:     m.Confidence,
		Date:           m.Date,
	}
}
