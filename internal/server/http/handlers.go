package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/docmatch-service/internal/docmatch"
	"github.com/helixir/docmatch-service/internal/domain"
	"github.com/helixir/docmatch-service/internal/observability"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
	maxBibcodeLength   = 19
)

// Error messages for empty payloads.
const (
	msgNoInformation = "no information received"
	msgNoData        = "no data received"
	msgInvalidJSON   = "invalid JSON request body"
)

// docmatch handles POST /docmatch. The matched pair is stored unless the
// query parameter save is false.
func (s *Server) docmatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.LoggerFromContext(ctx, s.logger)
	logger.Debug().Msg("received request to find a match for a document")

	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if isEmptyPayload(body) {
		writeError(w, http.StatusBadRequest, msgNoInformation)
		return
	}

	var req docmatch.MatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	save := true
	if v := r.URL.Query().Get("save"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "save must be a boolean")
			return
		}
		save = parsed
	}

	start := time.Now()
	resp, err := s.matcher.Process(ctx, req, save)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	logger.Debug().
		Int("matches", len(resp.Match)).
		Dur("duration", time.Since(start)).
		Msg("matched doc")
	writeJSON(w, http.StatusOK, resp)
}

// addRecords handles PUT /add.
func (s *Server) addRecords(w http.ResponseWriter, r *http.Request) {
	s.handleRecords(w, r, msgNoData, s.matcher.Add)
}

// deleteRecords handles DELETE /delete.
func (s *Server) deleteRecords(w http.ResponseWriter, r *http.Request) {
	s.handleRecords(w, r, msgNoInformation, s.matcher.Delete)
}

func (s *Server) handleRecords(
	w http.ResponseWriter,
	r *http.Request,
	emptyMessage string,
	apply func(ctx context.Context, records []domain.MatchRecord) (string, error),
) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if len(bytes.TrimSpace(body)) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		writeError(w, http.StatusBadRequest, emptyMessage)
		return
	}

	var records []domain.MatchRecord
	if err := json.Unmarshal(body, &records); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	status, err := apply(r.Context(), records)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: status})
}

// listMatches handles GET /matches/{bibcode}.
func (s *Server) listMatches(w http.ResponseWriter, r *http.Request) {
	bibcode := strings.TrimSpace(chi.URLParam(r, "bibcode"))
	if bibcode == "" || len(bibcode) > maxBibcodeLength {
		writeError(w, http.StatusBadRequest, "bibcode must be 1 to 19 characters")
		return
	}

	matches, err := s.matcher.List(r.Context(), bibcode)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := listMatchesResponse{
		Bibcode:    bibcode,
		Matches:    make([]matchResponse, 0, len(matches)),
		TotalCount: len(matches),
	}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, domainMatchToResponse(bibcode, m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// readBody reads the size-limited request body, writing a 400 error
// response on failure.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

// isEmptyPayload reports whether body is missing or an empty JSON object.
func isEmptyPayload(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return false
	}
	return len(fields) == 0
}

// writeDomainError maps domain errors to HTTP status codes and writes a JSON
// error response. Validation messages and failed writes are reported to the
// caller; other internal details are not.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var ve *domain.ValidationError
	var pe *domain.PersistenceError
	var ae *domain.ExternalAPIError

	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid input")
	case errors.As(err, &pe):
		writeError(w, http.StatusInternalServerError, pe.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.As(err, &ae):
		writeError(w, http.StatusBadGateway, "search service error")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
