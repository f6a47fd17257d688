package docmatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/docmatch-service/internal/domain"
	"github.com/helixir/docmatch-service/internal/matching"
	"github.com/helixir/docmatch-service/internal/observability"
	"github.com/helixir/docmatch-service/internal/repository"
	"github.com/helixir/docmatch-service/internal/search"
)

const (
	eprintBibcode  = "2022arXiv220101234S"
	journalBibcode = "2022PhRvD.105d4021S"
	otherJournal   = "2022ApJ...930...12S"
	testTitle      = "Gravitational waves from primordial black hole mergers"
	testAbstract   = "We compute the stochastic gravitational wave background produced by mergers of primordial black holes in the early universe."
)

// constPredictor returns the same probability for every candidate.
type constPredictor float64

func (p constPredictor) Predict(domain.ScoreVector) float64 { return float64(p) }

// scriptedSearcher answers each query kind with a canned result and records
// the kinds it was asked for.
type scriptedSearcher struct {
	mu      sync.Mutex
	results map[search.Kind]*search.Result
	err     error
	kinds   []search.Kind
}

func (s *scriptedSearcher) Search(_ context.Context, q search.Query) (*search.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, q.Kind)
	if s.err != nil {
		return nil, s.err
	}
	if r, ok := s.results[q.Kind]; ok {
		out := *r
		out.Query = q.Q
		return &out, nil
	}
	return &search.Result{Query: q.Q, StatusCode: 200}, nil
}

// memRepo is an in-memory MatchRepository.
type memRepo struct {
	mu        sync.Mutex
	rows      map[[2]string]domain.PersistedMatch
	lookup    map[string]float64
	upsertErr error
	upserts   int
}

func newMemRepo() *memRepo {
	return &memRepo{
		rows:   make(map[[2]string]domain.PersistedMatch),
		lookup: map[string]float64{"ADS": 1.3, "publisher": 1.1},
	}
}

func (r *memRepo) Get(_ context.Context, a, b string) (*domain.PersistedMatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rows[[2]string{a, b}]; ok {
		return &m, nil
	}
	if m, ok := r.rows[[2]string{b, a}]; ok {
		return &m, nil
	}
	for _, m := range r.rows {
		if m.EprintBibcode == a || m.PubBibcode == a || m.EprintBibcode == b || m.PubBibcode == b {
			return &m, nil
		}
	}
	return nil, domain.NewNotFoundError("match", a+"/"+b)
}

func (r *memRepo) Upsert(_ context.Context, eprint, pub string, confidence float64) (*domain.PersistedMatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return nil, domain.NewPersistenceError("save match", r.upsertErr)
	}
	r.upserts++
	m := domain.PersistedMatch{EprintBibcode: eprint, PubBibcode: pub, Confidence: confidence, Date: time.Now()}
	r.rows[[2]string{eprint, pub}] = m
	return &m, nil
}

func (r *memRepo) Delete(_ context.Context, a, b string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range [][2]string{{a, b}, {b, a}} {
		if _, ok := r.rows[key]; ok {
			delete(r.rows, key)
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) ListByBibcode(_ context.Context, bibcode string) ([]*domain.PersistedMatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.PersistedMatch, 0)
	for _, m := range r.rows {
		if m.EprintBibcode == bibcode || m.PubBibcode == bibcode {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

func (r *memRepo) LookupConfidence(_ context.Context, source string) (float64, error) {
	if c, ok := r.lookup[source]; ok {
		return c, nil
	}
	return 0, domain.NewNotFoundError("confidence source", source)
}

// get returns the stored row for an exact pair.
func (r *memRepo) get(eprint, pub string) (domain.PersistedMatch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[[2]string{eprint, pub}]
	return m, ok
}

// memTransactor runs fn on a snapshot of the repository and keeps the
// changes only when fn succeeds.
type memTransactor struct {
	repo *memRepo
}

func (t *memTransactor) InTx(_ context.Context, fn func(repo repository.MatchRepository) error) error {
	t.repo.mu.Lock()
	snapshot := make(map[[2]string]domain.PersistedMatch, len(t.repo.rows))
	for k, v := range t.repo.rows {
		snapshot[k] = v
	}
	t.repo.mu.Unlock()

	if err := fn(t.repo); err != nil {
		t.repo.mu.Lock()
		t.repo.rows = snapshot
		t.repo.mu.Unlock()
		return err
	}
	return nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu      sync.Mutex
	saved   []domain.PersistedMatch
	removed [][2]string
	err     error
}

func (p *recordingPublisher) PublishMatchSaved(_ context.Context, m domain.PersistedMatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, m)
	return p.err
}

func (p *recordingPublisher) PublishMatchRemoved(_ context.Context, source, matched string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, [2]string{source, matched})
	return p.err
}

type fixture struct {
	service   *Service
	searcher  *scriptedSearcher
	repo      *memRepo
	publisher *recordingPublisher
}

func newFixture(t *testing.T, metrics *observability.Metrics) *fixture {
	t.Helper()

	classifier, err := matching.NewClassifier(matching.DefaultEprintPatterns())
	require.NoError(t, err)

	repo := newMemRepo()
	searcher := &scriptedSearcher{results: map[search.Kind]*search.Result{}}
	publisher := &recordingPublisher{}
	resolver := matching.NewResolver(matching.DefaultConfig(), constPredictor(0.95), classifier, repo, zerolog.Nop(), metrics)

	service := NewService(Config{
		MatchDoctype: map[string][]string{
			"eprint":  {"article", "inproceedings", "phdthesis"},
			"article": {"eprint"},
		},
		SpecialDoctypes: map[string][]string{
			"thesis":     {"phdthesis", "mastersthesis"},
			"erratum":    {"erratum"},
			"bookreview": {"bookreview"},
		},
		Rows: 10,
	}, Deps{
		Searcher:   searcher,
		Resolver:   resolver,
		Repo:       repo,
		Transactor: &memTransactor{repo: repo},
		Publisher:  publisher,
		Logger:     zerolog.Nop(),
		Metrics:    metrics,
	})

	return &fixture{service: service, searcher: searcher, repo: repo, publisher: publisher}
}

func eprintRequest() MatchRequest {
	return MatchRequest{
		Bibcode:  eprintBibcode,
		Abstract: testAbstract,
		Title:    testTitle,
		Author:   "Smolyakov, M.",
		Year:     2022,
		Doctype:  "eprint",
	}
}

func refereedArticle(bibcode string) domain.CandidateDoc {
	return domain.CandidateDoc{
		Bibcode:    bibcode,
		Abstract:   testAbstract,
		Title:      []string{testTitle},
		AuthorNorm: []string{"Smolyakov, M"},
		Year:       2022,
		Doctype:    "article",
		Properties: []string{"REFEREED"},
	}
}

func found(docs ...domain.CandidateDoc) *search.Result {
	return &search.Result{StatusCode: 200, Docs: docs}
}

func TestService_Process_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *MatchRequest)
		message string
	}{
		{name: "missing author", mutate: func(r *MatchRequest) { r.Author = " " }, message: msgRequiredParams},
		{name: "missing year", mutate: func(r *MatchRequest) { r.Year = 0 }, message: msgRequiredParams},
		{name: "missing doctype", mutate: func(r *MatchRequest) { r.Doctype = "" }, message: msgRequiredParams},
		{name: "missing abstract and title", mutate: func(r *MatchRequest) { r.Abstract, r.Title = "", "" }, message: msgRequiredParams},
		{name: "unknown doctype", mutate: func(r *MatchRequest) { r.Doctype = "catalog" }, message: "invalid doctype `catalog`"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			req := eprintRequest()
			tt.mutate(&req)

			resp, err := f.service.Process(context.Background(), req, true)
			assert.Nil(t, resp)
			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.message, ve.Message)
			assert.Empty(t, f.searcher.kinds)
		})
	}

	t.Run("title alone is enough", func(t *testing.T) {
		f := newFixture(t, nil)
		req := eprintRequest()
		req.Abstract = ""

		_, err := f.service.Process(context.Background(), req, false)
		require.NoError(t, err)
		assert.Equal(t, []search.Kind{search.KindTitle}, f.searcher.kinds)
	})
}

func TestService_Process_AbstractMatch(t *testing.T) {
	metrics := observability.NewMetrics("test_docmatch_abstract")
	f := newFixture(t, metrics)
	f.searcher.results[search.KindAbstract] = found(refereedArticle(journalBibcode))

	resp, err := f.service.Process(context.Background(), eprintRequest(), true)
	require.NoError(t, err)
	require.Len(t, resp.Match, 1)

	m := resp.Match[0]
	assert.Equal(t, eprintBibcode, m.SourceBibcode)
	assert.Equal(t, journalBibcode, m.MatchedBibcode)
	assert.Equal(t, 0.95, m.Confidence)
	assert.True(t, m.Matched)
	assert.NotNil(t, m.Scores)
	assert.Empty(t, resp.Comment)
	assert.Equal(t, []search.Kind{search.KindAbstract}, f.searcher.kinds)

	stored, ok := f.repo.get(eprintBibcode, journalBibcode)
	require.True(t, ok)
	assert.Equal(t, 0.95, stored.Confidence)
	require.Len(t, f.publisher.saved, 1)
	assert.Equal(t, journalBibcode, f.publisher.saved[0].PubBibcode)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MatchRequests.WithLabelValues(observability.OutcomeMatched)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MatchesSaved))
}

func TestService_Process_SaveRules(t *testing.T) {
	t.Run("nothing is saved when save is off", func(t *testing.T) {
		f := newFixture(t, nil)
		f.searcher.results[search.KindAbstract] = found(refereedArticle(journalBibcode))

		resp, err := f.service.Process(context.Background(), eprintRequest(), false)
		require.NoError(t, err)
		assert.True(t, resp.HasMatch())
		assert.Equal(t, 0, f.repo.upserts)
		assert.Empty(t, f.publisher.saved)
	})

	t.Run("nothing is saved with two candidates", func(t *testing.T) {
		f := newFixture(t, nil)
		f.searcher.results[search.KindAbstract] = found(refereedArticle(journalBibcode), refereedArticle(otherJournal))

		resp, err := f.service.Process(context.Background(), eprintRequest(), true)
		require.NoError(t, err)
		assert.Len(t, resp.Match, 2)
		assert.Equal(t, 0, f.repo.upserts)
	})

	t.Run("write failure is returned", func(t *testing.T) {
		f := newFixture(t, nil)
		f.repo.upsertErr = errors.New("disk full")
		f.searcher.results[search.KindAbstract] = found(refereedArticle(journalBibcode))

		resp, err := f.service.Process(context.Background(), eprintRequest(), true)
		var perr *domain.PersistenceError
		require.True(t, errors.As(err, &perr))
		assert.Contains(t, err.Error(), "failed to save match")
		assert.True(t, resp.HasMatch())
	})

	t.Run("publish failure does not fail the request", func(t *testing.T) {
		f := newFixture(t, nil)
		f.publisher.err = errors.New("broker down")
		f.searcher.results[search.KindAbstract] = found(refereedArticle(journalBibcode))

		_, err := f.service.Process(context.Background(), eprintRequest(), true)
		require.NoError(t, err)
		assert.Equal(t, 1, f.repo.upserts)
	})
}

func TestService_Process_SearchStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.results[search.KindAbstract] = &search.Result{StatusCode: 500}

	resp, err := f.service.Process(context.Background(), eprintRequest(), true)
	require.NoError(t, err)
	assert.Equal(t, "status code: 500", resp.Comment)
	assert.Equal(t, domain.NoMatchMessage, resp.NoMatch)
	assert.Equal(t, []search.Kind{search.KindAbstract}, f.searcher.kinds)
}

func TestService_Process_SearchError(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.err = context.DeadlineExceeded

	_, err := f.service.Process(context.Background(), eprintRequest(), true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestService_Process_TitleFallback(t *testing.T) {
	t.Run("no abstract results", func(t *testing.T) {
		f := newFixture(t, nil)
		f.searcher.results[search.KindTitle] = found(refereedArticle(journalBibcode))

		resp, err := f.service.Process(context.Background(), eprintRequest(), true)
		require.NoError(t, err)
		assert.Equal(t, "No result from solr with Abstract, trying Title.", resp.Comment)
		require.Len(t, resp.Match, 1)
		assert.Equal(t, []search.Kind{search.KindAbstract, search.KindTitle}, f.searcher.kinds)
	})

	t.Run("abstract results without a match", func(t *testing.T) {
		f := newFixture(t, nil)
		// The candidate is the source itself, so it is skipped.
		self := refereedArticle(eprintBibcode)
		f.searcher.results[search.KindAbstract] = found(self)
		f.searcher.results[search.KindTitle] = found(refereedArticle(journalBibcode))

		resp, err := f.service.Process(context.Background(), eprintRequest(), true)
		require.NoError(t, err)
		assert.Equal(t, "No matches with Abstract, trying Title.", resp.Comment)
		require.Len(t, resp.Match, 1)
		assert.Equal(t, journalBibcode, resp.Match[0].MatchedBibcode)
	})

	t.Run("title status is reported", func(t *testing.T) {
		f := newFixture(t, nil)
		f.searcher.results[search.KindTitle] = &search.Result{StatusCode: 503}

		resp, err := f.service.Process(context.Background(), eprintRequest(), true)
		require.NoError(t, err)
		assert.Equal(t, "status code: 503", resp.Comment)
	})
}

func TestService_Process_DatabaseFallback(t *testing.T) {
	t.Run("stored match is returned", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.repo.Upsert(context.Background(), eprintBibcode, journalBibcode, 0.98)
		require.NoError(t, err)

		resp, err := f.service.Process(context.Background(), eprintRequest(), true)
		require.NoError(t, err)
		assert.Equal(t,
			"No result from solr with Abstract, trying Title. No result from solr with Title. Fetched from database.",
			resp.Comment)
		require.Len(t, resp.Match, 1)
		assert.Equal(t, journalBibcode, resp.Match[0].MatchedBibcode)
		assert.Equal(t, 0.98, resp.Match[0].Confidence)
		assert.True(t, resp.Match[0].Matched)
		assert.Nil(t, resp.Match[0].Scores)
		assert.Equal(t, 1, f.repo.upserts)
	})

	t.Run("nothing stored", func(t *testing.T) {
		f := newFixture(t, nil)

		resp, err := f.service.Process(context.Background(), eprintRequest(), true)
		require.NoError(t, err)
		assert.Equal(t,
			"No result from solr with Abstract, trying Title. No result from solr with Title. No matches in database either.",
			resp.Comment)
		assert.False(t, resp.HasMatch())
		assert.Equal(t, domain.NoMatchMessage, resp.NoMatch)
	})
}

func TestService_Process_DOIRoutes(t *testing.T) {
	t.Run("eprint DOI query accepts a single match", func(t *testing.T) {
		f := newFixture(t, nil)
		doc := refereedArticle(journalBibcode)
		doc.DOIs = []string{"10.1103/PhysRevD.105.044021"}
		f.searcher.results[search.KindDOI] = found(doc)

		req := eprintRequest()
		req.DOI = []string{"10.1103/PhysRevD.105.044021"}

		resp, err := f.service.Process(context.Background(), req, true)
		require.NoError(t, err)
		require.Len(t, resp.Match, 1)
		assert.Equal(t, 1.0, resp.Match[0].Confidence)
		assert.Empty(t, resp.Comment)
		assert.Equal(t, []search.Kind{search.KindDOI}, f.searcher.kinds)
		assert.Equal(t, 1, f.repo.upserts)
	})

	t.Run("ambiguous DOI result falls through to abstract", func(t *testing.T) {
		f := newFixture(t, nil)
		f.searcher.results[search.KindDOI] = found(refereedArticle(journalBibcode), refereedArticle(otherJournal))
		f.searcher.results[search.KindAbstract] = found(refereedArticle(journalBibcode))

		req := eprintRequest()
		req.DOI = []string{"10.1/x"}

		resp, err := f.service.Process(context.Background(), req, true)
		require.NoError(t, err)
		assert.Equal(t, "No matches with DOI 10.1/x, trying Abstract.", resp.Comment)
		assert.Equal(t, []search.Kind{search.KindDOI, search.KindAbstract}, f.searcher.kinds)
		assert.True(t, resp.HasMatch())
	})

	t.Run("publication DOI uses pubnote", func(t *testing.T) {
		f := newFixture(t, nil)
		f.searcher.results[search.KindAbstract] = found(domain.CandidateDoc{
			Bibcode:    eprintBibcode,
			Abstract:   testAbstract,
			Title:      []string{testTitle},
			AuthorNorm: []string{"Smolyakov, M"},
			Year:       2022,
			Doctype:    "eprint",
		})

		req := eprintRequest()
		req.Bibcode = journalBibcode
		req.Doctype = "article"
		req.DOI = []string{"10.1/x"}

		resp, err := f.service.Process(context.Background(), req, true)
		require.NoError(t, err)
		assert.Equal(t, "No result from solr with DOI 10.1/x in pubnote.", resp.Comment)
		assert.Equal(t, []search.Kind{search.KindPubnote, search.KindAbstract}, f.searcher.kinds)

		require.Len(t, resp.Match, 1)
		assert.Equal(t, 0.95, resp.Match[0].Confidence)
		_, ok := f.repo.get(eprintBibcode, journalBibcode)
		assert.True(t, ok)
	})
}

func TestService_Process_NotRefereed(t *testing.T) {
	f := newFixture(t, nil)
	proceedings := refereedArticle("2022LIACo..35..101S")
	proceedings.Doctype = "inproceedings"
	proceedings.Properties = nil
	f.searcher.results[search.KindAbstract] = found(proceedings)

	resp, err := f.service.Process(context.Background(), eprintRequest(), true)
	require.NoError(t, err)
	require.Len(t, resp.Match, 1)
	assert.Equal(t, 0.855, resp.Match[0].Confidence)
	assert.True(t, resp.Match[0].Matched)
}

func TestService_Process_SpecialDoctype(t *testing.T) {
	t.Run("no thesis found and no DOI", func(t *testing.T) {
		f := newFixture(t, nil)
		req := eprintRequest()
		req.MatchDoctype = []string{"phdthesis", "mastersthesis"}

		resp, err := f.service.Process(context.Background(), req, true)
		require.NoError(t, err)
		assert.Equal(t, "Matching doctype `phdthesis;mastersthesis`. No matches for phdthesis;mastersthesis.", resp.Comment)
		assert.Equal(t, []search.Kind{search.KindDoctype}, f.searcher.kinds)
	})

	t.Run("thesis match is saved", func(t *testing.T) {
		f := newFixture(t, nil)
		thesis := refereedArticle("2021PhDT.........5S")
		thesis.Doctype = "phdthesis"
		f.searcher.results[search.KindDoctype] = found(thesis)

		req := eprintRequest()
		req.MatchDoctype = []string{"phdthesis"}

		resp, err := f.service.Process(context.Background(), req, true)
		require.NoError(t, err)
		require.Len(t, resp.Match, 1)
		assert.Equal(t, "Matching doctype `phdthesis`.", resp.Comment)
		_, ok := f.repo.get(eprintBibcode, "2021PhDT.........5S")
		assert.True(t, ok)
	})

	t.Run("DOI is tried after a miss", func(t *testing.T) {
		f := newFixture(t, nil)
		req := eprintRequest()
		req.MatchDoctype = []string{"erratum"}
		req.DOI = []string{"10.1/x"}

		resp, err := f.service.Process(context.Background(), req, true)
		require.NoError(t, err)
		assert.Equal(t, []search.Kind{search.KindDoctype, search.KindDOI, search.KindAbstract, search.KindTitle}, f.searcher.kinds)
		assert.Contains(t, resp.Comment, "Matching doctype `erratum`. No result from solr with DOI 10.1/x.")
	})

	t.Run("ordinary explicit doctype skips the doctype query", func(t *testing.T) {
		f := newFixture(t, nil)
		req := eprintRequest()
		req.MatchDoctype = []string{"article"}

		_, err := f.service.Process(context.Background(), req, true)
		require.NoError(t, err)
		assert.NotContains(t, f.searcher.kinds, search.KindDoctype)
	})
}
