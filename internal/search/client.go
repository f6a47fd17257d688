package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/docmatch-service/internal/domain"
	"github.com/helixir/docmatch-service/internal/observability"
)

// maxResponseSize caps the body read from the index.
const maxResponseSize = 10 << 20

// Client queries the bigquery endpoint of the index.
type Client struct {
	url     string
	rows    int
	http    *HTTPClient
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Compile-time interface verification.
var _ Searcher = (*Client)(nil)

// NewClient creates a Client for endpoint. rows is used for queries that do
// not set their own.
func NewClient(endpoint string, rows int, httpClient *HTTPClient, logger zerolog.Logger, metrics *observability.Metrics) *Client {
	if rows <= 0 {
		rows = 10
	}
	return &Client{
		url:     endpoint,
		rows:    rows,
		http:    httpClient,
		logger:  logger.With().Str("component", "search").Logger(),
		metrics: metrics,
	}
}

type bigqueryResponse struct {
	Response struct {
		NumFound int                   `json:"numFound"`
		Docs     []domain.CandidateDoc `json:"docs"`
	} `json:"response"`
}

// Search runs q. Transport failures are reported as StatusTransportFailure;
// only context cancellation and malformed replies return an error.
func (c *Client) Search(ctx context.Context, q Query) (*Result, error) {
	rows := q.Rows
	if rows <= 0 {
		rows = c.rows
	}
	logger := observability.WithSearchContext(c.logger, string(q.Kind), q.Q)
	result := &Result{Query: q.Q}

	params := url.Values{}
	params.Set("q", q.Q)
	params.Set("fl", fieldList())
	params.Set("rows", strconv.Itoa(rows))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			result.StatusCode = statusErr.StatusCode
		} else {
			result.StatusCode = StatusTransportFailure
		}
		c.metrics.RecordSearchRequest(string(q.Kind), result.StatusCode, time.Since(start).Seconds())
		logger.Error().Err(err).Int("status_code", result.StatusCode).Msg("search request failed")
		return result, nil
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	c.metrics.RecordSearchRequest(string(q.Kind), resp.StatusCode, time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		logger.Warn().Int("status_code", resp.StatusCode).Msg("search returned non-200 status")
		return result, nil
	}

	var body bigqueryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil {
		return nil, domain.NewExternalAPIError("search", resp.StatusCode, "malformed search response", err)
	}

	if body.Response.NumFound > 0 {
		result.Docs = body.Response.Docs
	}
	logger.Debug().Int("num_found", body.Response.NumFound).Msg("got records from search")

	return result, nil
}
