// Package docmatch runs the document matching pipeline: it queries the search
// index along several routes, resolves the candidates and stores confirmed
// eprint/publication pairs.
package docmatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/docmatch-service/internal/domain"
	"github.com/helixir/docmatch-service/internal/matching"
	"github.com/helixir/docmatch-service/internal/normalize"
	"github.com/helixir/docmatch-service/internal/observability"
	"github.com/helixir/docmatch-service/internal/repository"
	"github.com/helixir/docmatch-service/internal/search"
)

// eprintDoctype is the doctype whose DOIs are looked up directly.
const eprintDoctype = "eprint"

// specialCaseOrder is the order in which special doctype groups are tried.
var specialCaseOrder = []string{"thesis", "erratum", "bookreview"}

// EventPublisher announces changes to stored matches.
type EventPublisher interface {
	PublishMatchSaved(ctx context.Context, m domain.PersistedMatch) error
	PublishMatchRemoved(ctx context.Context, sourceBibcode, matchedBibcode string) error
}

// Config holds the pipeline settings.
type Config struct {
	// MatchDoctype maps a source doctype to the doctypes it may match.
	MatchDoctype map[string][]string
	// SpecialDoctypes maps thesis, erratum and bookreview to their doctypes.
	SpecialDoctypes map[string][]string
	// Rows is the number of candidates requested per query.
	Rows int
}

// Deps are the collaborators of a Service. Transactor and Publisher may be
// nil; without a Transactor batch writes run on Repo directly.
type Deps struct {
	Searcher   search.Searcher
	Resolver   *matching.Resolver
	Normalizer *normalize.Normalizer
	Repo       repository.MatchRepository
	Transactor repository.Transactor
	Publisher  EventPublisher
	Logger     zerolog.Logger
	Metrics    *observability.Metrics
}

// Service runs match requests and manages stored matches.
// It is safe for concurrent use.
type Service struct {
	cfg        Config
	searcher   search.Searcher
	resolver   *matching.Resolver
	classifier *matching.Classifier
	normalizer *normalize.Normalizer
	repo       repository.MatchRepository
	tx         repository.Transactor
	publisher  EventPublisher
	validate   *validator.Validate
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// NewService creates a Service.
func NewService(cfg Config, deps Deps) *Service {
	if cfg.Rows <= 0 {
		cfg.Rows = 10
	}
	normalizer := deps.Normalizer
	if normalizer == nil {
		normalizer = normalize.New(nil, deps.Logger)
	}
	return &Service{
		cfg:        cfg,
		searcher:   deps.Searcher,
		resolver:   deps.Resolver,
		classifier: deps.Resolver.Classifier(),
		normalizer: normalizer,
		repo:       deps.Repo,
		tx:         deps.Transactor,
		publisher:  deps.Publisher,
		validate:   validator.New(),
		logger:     deps.Logger.With().Str("component", "docmatch").Logger(),
		metrics:    deps.Metrics,
	}
}

// matchRun carries the state of one Process call.
type matchRun struct {
	source   domain.SourceRecord
	doctypes []string
	comment  string
	save     bool
	logger   zerolog.Logger
}

// Process matches req against the search index. When save is true and
// exactly one candidate is confirmed, the pair is stored. Validation
// failures return a domain.ValidationError; a failed write returns a
// domain.PersistenceError.
func (s *Service) Process(ctx context.Context, req MatchRequest, save bool) (*domain.MatchResponse, error) {
	start := time.Now()
	resp, err := s.process(ctx, req, save)

	outcome := observability.OutcomeNoMatch
	switch {
	case err != nil && isValidation(err):
		outcome = observability.OutcomeInvalid
	case err != nil:
		outcome = observability.OutcomeError
	case resp.HasMatch():
		outcome = observability.OutcomeMatched
	}
	s.metrics.RecordMatchRequest(outcome, time.Since(start).Seconds())

	return resp, err
}

func (s *Service) process(ctx context.Context, req MatchRequest, save bool) (*domain.MatchResponse, error) {
	if err := validateRequest(s.validate, &req); err != nil {
		s.logger.Error().Err(err).Msg("missing required parameter(s)")
		return nil, err
	}

	run := &matchRun{
		save:   save,
		logger: observability.WithMatchContext(observability.LoggerFromContext(ctx, s.logger), req.Bibcode, req.Doctype),
	}
	author := normalize.FormatAuthor(s.normalizer.EncodeAuthor(req.Author))

	if len(req.MatchDoctype) == 0 {
		doctypes, ok := s.cfg.MatchDoctype[req.Doctype]
		if !ok || len(doctypes) == 0 {
			run.logger.Error().Msg("invalid doctype")
			return nil, domain.NewValidationError("doctype", fmt.Sprintf("invalid doctype `%s`", req.Doctype))
		}
		run.doctypes = doctypes
	} else {
		run.doctypes = req.MatchDoctype
		run.comment = fmt.Sprintf("Matching doctype `%s`.", strings.Join(req.MatchDoctype, ";"))
	}

	run.source = domain.SourceRecord{
		Bibcode:       req.Bibcode,
		Abstract:      req.Abstract,
		Title:         req.Title,
		Author:        author,
		Year:          req.Year.Int(),
		Doctype:       req.Doctype,
		DOIs:          req.DOI,
		MatchDoctypes: run.doctypes,
	}

	if len(req.MatchDoctype) > 0 && s.isSpecialCase(run.doctypes) {
		resp, err := s.queryDoctype(ctx, run)
		if err != nil {
			return nil, err
		}
		if resp.HasMatch() {
			return resp, s.saveMatch(ctx, run, resp.Match)
		}
		if len(run.source.DOIs) == 0 {
			return resp, nil
		}
	}

	run.source.Abstract = s.normalizer.Clean(run.source.Abstract)
	run.source.Title = s.normalizer.Clean(run.source.Title)

	if len(run.source.DOIs) > 0 {
		q := search.PubnoteQuery(run.source.DOIs, run.doctypes, s.cfg.Rows)
		if run.source.Doctype == eprintDoctype {
			q = search.DOIQuery(run.source.DOIs, run.doctypes, s.cfg.Rows)
		}
		resp, err := s.queryDOI(ctx, run, q)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, s.saveMatch(ctx, run, resp.Match)
		}
	}

	run.logger.Debug().
		Str("title", run.source.Title).
		Str("author", run.source.Author).
		Int("year", run.source.Year).
		Msg("querying by abstract and title")

	resp, err := s.queryAbstractOrTitle(ctx, run)
	if err != nil {
		return nil, err
	}
	return resp, s.saveMatch(ctx, run, resp.Match)
}

func (s *Service) isSpecialCase(doctypes []string) bool {
	for _, name := range specialCaseOrder {
		for _, special := range s.cfg.SpecialDoctypes[name] {
			for _, d := range doctypes {
				if d == special {
					return true
				}
			}
		}
	}
	return false
}

// queryDoctype matches by author, year and doctype for records whose text
// rarely agrees with the target, such as theses and errata.
func (s *Service) queryDoctype(ctx context.Context, run *matchRun) (*domain.MatchResponse, error) {
	label := strings.Join(run.doctypes, ";")
	q := search.DoctypeQuery(run.source.Author, run.source.Year, run.doctypes, s.cfg.Rows)

	result, err := s.searcher.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	comment := run.comment
	var matches []domain.MatchResult
	if result.OK() && len(result.Docs) > 0 {
		// DOIs play no part in this route.
		matches = s.resolver.Resolve(ctx, run.source, nil, result.Docs)
		if len(matches) == 0 {
			run.logger.Debug().Msgf("No result from solr for %s.", label)
			comment += fmt.Sprintf(" No result from solr for %s.", label)
		}
	} else {
		run.logger.Debug().Msgf("No matches for %s.", label)
		comment += fmt.Sprintf(" No matches for %s.", label)
	}
	return domain.NewMatchResponse(result.Query, matches, comment), nil
}

// queryDOI looks the DOIs up and accepts the result only when exactly one
// candidate survives. A nil response means the pipeline should continue.
func (s *Service) queryDOI(ctx context.Context, run *matchRun, q search.Query) (*domain.MatchResponse, error) {
	suffix := ""
	if q.Kind == search.KindPubnote {
		suffix = " in pubnote"
	}
	dois := strings.Join(run.source.DOIs, ", ")

	result, err := s.searcher.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	if result.OK() && len(result.Docs) > 0 {
		matches := s.resolver.DOIResolve(ctx, run.source, run.source.DOIs, result.Docs)
		if len(matches) > 0 {
			return domain.NewMatchResponse(result.Query, matches, ""), nil
		}
		msg := fmt.Sprintf("No matches with DOI %s%s, trying Abstract.", dois, suffix)
		run.logger.Debug().Msg(msg)
		run.comment += " " + msg
		return nil, nil
	}

	msg := fmt.Sprintf("No result from solr with DOI %s%s.", dois, suffix)
	run.logger.Debug().Msg(msg)
	run.comment += " " + msg
	return nil, nil
}

// queryAbstractOrTitle tries the abstract, then the title, then the stored
// matches of the source.
func (s *Service) queryAbstractOrTitle(ctx context.Context, run *matchRun) (*domain.MatchResponse, error) {
	src := run.source
	titleQuery := search.TitleQuery(src.Title, run.doctypes, s.cfg.Rows)

	var result *search.Result
	if src.HasAbstract() {
		var err error
		result, err = s.searcher.Search(ctx, search.AbstractQuery(src.Abstract, run.doctypes, s.cfg.Rows))
		if err != nil {
			return nil, err
		}
		if !result.OK() {
			return statusResponse(result), nil
		}

		if len(result.Docs) == 0 {
			s.note(run, "No result from solr with Abstract, trying Title.")
		} else {
			matches := s.resolver.Resolve(ctx, src, src.DOIs, result.Docs)
			if len(matches) > 0 {
				return domain.NewMatchResponse(result.Query, matches, run.comment), nil
			}
			// The abstract may have changed a lot between the eprint and
			// the published version.
			s.note(run, "No matches with Abstract, trying Title.")
		}
	}

	if src.Title == "" {
		return s.databaseFallback(ctx, run, result)
	}

	result, err := s.searcher.Search(ctx, titleQuery)
	if err != nil {
		return nil, err
	}
	if !result.OK() {
		return statusResponse(result), nil
	}
	if len(result.Docs) == 0 {
		return s.databaseFallback(ctx, run, result)
	}

	// The title route does not use DOIs.
	matches := s.resolver.Resolve(ctx, src, nil, result.Docs)
	return domain.NewMatchResponse(result.Query, matches, run.comment), nil
}

// databaseFallback answers from stored matches when the index has nothing.
// An eprint that was already matched may have been removed from the index.
func (s *Service) databaseFallback(ctx context.Context, run *matchRun, last *search.Result) (*domain.MatchResponse, error) {
	query := ""
	if last != nil {
		query = last.Query
	}
	s.note(run, "No result from solr with Title.")

	var matches []domain.MatchResult
	if run.source.Bibcode != "" {
		stored, err := s.repo.ListByBibcode(ctx, run.source.Bibcode)
		if err != nil {
			run.logger.Warn().Err(err).Msg("failed to read stored matches")
		}
		for _, m := range stored {
			matches = append(matches, storedResult(run.source.Bibcode, m))
		}
	}

	if len(matches) > 0 {
		run.comment += " Fetched from database."
		// Stored rows are already persisted.
		run.save = false
		return domain.NewMatchResponse(query, matches, run.comment), nil
	}
	run.comment += " No matches in database either."
	return domain.NewMatchResponse(query, nil, run.comment), nil
}

func (s *Service) note(run *matchRun, msg string) {
	run.logger.Debug().Msg(msg)
	run.comment += " " + msg
}

// saveMatch stores the pair when exactly one confirmed match was found.
// Event publication is best effort.
func (s *Service) saveMatch(ctx context.Context, run *matchRun, matches []domain.MatchResult) error {
	if !run.save || len(matches) != 1 || !matches[0].Matched {
		return nil
	}
	m := matches[0]
	if !m.Persistable() {
		run.logger.Warn().
			Str("matched_bibcode", m.MatchedBibcode).
			Msg("cannot tell eprint from publication, match not saved")
		s.metrics.RecordCandidateDropped(observability.DropUnclassifiable)
		return nil
	}

	stored, err := s.repo.Upsert(ctx, m.EprintBibcode, m.PubBibcode, m.Confidence)
	if err != nil {
		s.metrics.RecordMatchSaveFailed()
		run.logger.Error().Err(err).Str("matched_bibcode", m.MatchedBibcode).Msg("failed to save match")
		return err
	}
	s.metrics.RecordMatchSaved()
	run.logger.Info().
		Str("eprint_bibcode", stored.EprintBibcode).
		Str("pub_bibcode", stored.PubBibcode).
		Float64("confidence", stored.Confidence).
		Msg("saved match")

	s.publishSaved(ctx, *stored)
	return nil
}

func (s *Service) publishSaved(ctx context.Context, m domain.PersistedMatch) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishMatchSaved(ctx, m); err != nil {
		s.logger.Warn().Err(err).Str("eprint_bibcode", m.EprintBibcode).Msg("failed to publish match saved event")
	}
}

func statusResponse(result *search.Result) *domain.MatchResponse {
	return domain.NewMatchResponse(result.Query, nil, fmt.Sprintf("status code: %d", result.StatusCode))
}

// storedResult presents a stored row as a match for bibcode.
func storedResult(bibcode string, m *domain.PersistedMatch) domain.MatchResult {
	return domain.MatchResult{
		SourceBibcode:  bibcode,
		MatchedBibcode: m.Other(bibcode),
		Confidence:     m.Confidence,
		Matched:        m.Confidence > matching.MatchedThreshold,
		EprintBibcode:  m.EprintBibcode,
		PubBibcode:     m.PubBibcode,
	}
}
