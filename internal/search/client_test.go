package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/docmatch-service/internal/domain"
	"github.com/helixir/docmatch-service/internal/observability"
)

const bigqueryReply = `{
  "responseHeader": {"status": 0},
  "response": {
    "numFound": 2,
    "docs": [
      {"bibcode": "2022PhRvD.105d4021S", "title": ["Gravitational waves"], "author_norm": ["Smolyakov, M"],
       "year": "2022", "doctype": "article", "doi": ["10.1103/PhysRevD.105.044021"], "property": ["REFEREED"]},
      {"bibcode": "2021ApJ...900....1A", "abstract": "We study", "year": 2021, "doctype": "article"}
    ]
  }
}`

func newTestClient(t *testing.T, url string, metrics *observability.Metrics) *Client {
	t.Helper()
	return NewClient(url, 10, NewHTTPClient(fastConfig(), metrics), zerolog.Nop(), metrics)
}

func TestClient_Search(t *testing.T) {
	t.Run("decodes candidates", func(t *testing.T) {
		var gotQuery, gotFields, gotRows string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.Query().Get("q")
			gotFields = r.URL.Query().Get("fl")
			gotRows = r.URL.Query().Get("rows")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(bigqueryReply))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, nil)
		result, err := client.Search(context.Background(), Query{Kind: KindTitle, Q: `title:"waves"`, Rows: 2})
		require.NoError(t, err)

		assert.True(t, result.OK())
		assert.Equal(t, `title:"waves"`, result.Query)
		assert.Equal(t, `title:"waves"`, gotQuery)
		assert.Equal(t, "2", gotRows)
		assert.Contains(t, gotFields, "author_norm")
		require.Len(t, result.Docs, 2)
		assert.Equal(t, domain.Year(2022), result.Docs[0].Year)
		assert.Equal(t, []string{"REFEREED"}, result.Docs[0].Properties)
		assert.Equal(t, domain.Year(2021), result.Docs[1].Year)
	})

	t.Run("uses default rows", func(t *testing.T) {
		var gotRows string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotRows = r.URL.Query().Get("rows")
			w.Write([]byte(`{"response": {"numFound": 0, "docs": []}}`))
		}))
		defer server.Close()

		result, err := newTestClient(t, server.URL, nil).Search(context.Background(), Query{Kind: KindDOI, Q: "doi:x"})
		require.NoError(t, err)
		assert.Equal(t, "10", gotRows)
		assert.Empty(t, result.Docs)
	})

	t.Run("non-200 is a status not an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		metrics := observability.NewMetrics("test_search_status")
		result, err := newTestClient(t, server.URL, metrics).Search(context.Background(), Query{Kind: KindAbstract, Q: "x"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, result.StatusCode)
		assert.False(t, result.OK())
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SearchRequests.WithLabelValues("abstract", "400")))
	})

	t.Run("exhausted retries keep the last status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		result, err := newTestClient(t, server.URL, nil).Search(context.Background(), Query{Kind: KindAbstract, Q: "x"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, result.StatusCode)
	})

	t.Run("unreachable index reports 503", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		result, err := newTestClient(t, url, nil).Search(context.Background(), Query{Kind: KindTitle, Q: "x"})
		require.NoError(t, err)
		assert.Equal(t, StatusTransportFailure, result.StatusCode)
		assert.Empty(t, result.Docs)
	})

	t.Run("malformed body is an external API error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"response": [`))
		}))
		defer server.Close()

		_, err := newTestClient(t, server.URL, nil).Search(context.Background(), Query{Kind: KindTitle, Q: "x"})
		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "search", apiErr.Source)
	})

	t.Run("canceled context is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newTestClient(t, server.URL, nil).Search(ctx, Query{Kind: KindTitle, Q: "x"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
