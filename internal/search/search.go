// Package search queries the bibliographic search index for candidate
// documents.
//
// The index answers Solr-style bigquery requests. Every call goes through a
// rate-limited HTTP client that retries throttled and failing requests.
// A non-200 reply is reported in Result.StatusCode rather than as an error, so
// the matching pipeline can surface it to the caller as a comment.
package search

import (
	"context"
	"strings"

	"github.com/helixir/docmatch-service/internal/domain"
)

// Kind identifies the route a query was built for. It labels metrics and
// cache keys.
type Kind string

const (
	KindAbstract Kind = "abstract"
	KindTitle    Kind = "title"
	KindDOI      Kind = "doi"
	KindPubnote  Kind = "pubnote"
	KindDoctype  Kind = "doctype"
)

// StatusTransportFailure is reported when the index could not be reached.
const StatusTransportFailure = 503

// Fields is the field list requested for every candidate.
var Fields = []string{
	"bibcode", "abstract", "title", "author_norm", "year",
	"doctype", "doi", "identifier", "property",
}

// Query is a single request to the index.
type Query struct {
	Kind Kind
	Q    string
	Rows int
}

// Result is the reply to a Query. Docs is empty unless StatusCode is 200.
type Result struct {
	Query      string
	StatusCode int
	Docs       []domain.CandidateDoc
}

// OK reports whether the index answered with 200.
func (r *Result) OK() bool {
	return r != nil && r.StatusCode == 200
}

// Searcher runs queries against the index.
type Searcher interface {
	Search(ctx context.Context, q Query) (*Result, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, q Query) (*Result, error)

// Search implements Searcher.
func (f SearcherFunc) Search(ctx context.Context, q Query) (*Result, error) {
	return f(ctx, q)
}

func fieldList() string {
	return strings.Join(Fields, ",")
}
