package docmatch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/docmatch-service/internal/config"
	"github.com/helixir/docmatch-service/internal/database"
	"github.com/helixir/docmatch-service/internal/matching"
	"github.com/helixir/docmatch-service/internal/normalize"
	"github.com/helixir/docmatch-service/internal/observability"
	"github.com/helixir/docmatch-service/internal/repository"
	"github.com/helixir/docmatch-service/internal/search"
)

// NewFromConfig builds a Service backed by Postgres and the configured
// search backend, with the Redis result cache when enabled. publisher and
// metrics may be nil. The returned cleanup releases the cache connection
// and must be called even when err is non-nil.
func NewFromConfig(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	publisher EventPublisher,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) (*Service, func(), error) {
	cleanup := func() {}

	classifier, err := matching.NewClassifier(cfg.Matching.EprintPatterns)
	if err != nil {
		return nil, cleanup, fmt.Errorf("build eprint classifier: %w", err)
	}

	repo := repository.NewPgMatchRepository(db)
	resolver := matching.NewResolver(cfg.Matching.ResolverConfig(), nil, classifier, repo, logger, metrics)

	httpClient := search.NewHTTPClient(search.HTTPClientConfig{
		Timeout:    cfg.Search.Timeout,
		RateLimit:  cfg.Search.RateLimit,
		BurstSize:  cfg.Search.Burst,
		MaxRetries: cfg.Search.MaxRetries,
		RetryDelay: cfg.Search.RetryDelay,
		Token:      cfg.Search.Token,
	}, metrics)
	var searcher search.Searcher = search.NewClient(cfg.Search.URL, cfg.Search.Rows, httpClient, logger, metrics)

	if cfg.Cache.Enabled {
		cache := search.NewRedisCache(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		if err := cache.Ping(ctx); err != nil {
			// The cache fails open; an unreachable Redis only costs lookups.
			logger.Warn().Err(err).Str("addr", cfg.Cache.Addr).Msg("search cache unreachable")
		}
		searcher = search.NewCachedSearcher(searcher, cache, cfg.Cache.TTL, logger, metrics)
		cleanup = func() {
			if err := cache.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close search cache")
			}
		}
	}

	service := NewService(Config{
		MatchDoctype:    cfg.Matching.MatchDoctype,
		SpecialDoctypes: cfg.Matching.SpecialDoctypes,
		Rows:            cfg.Search.Rows,
	}, Deps{
		Searcher:   searcher,
		Resolver:   resolver,
		Normalizer: normalize.New(cfg.Matching.Entities(), logger),
		Repo:       repo,
		Transactor: repository.NewPgTransactor(db),
		Publisher:  publisher,
		Logger:     logger,
		Metrics:    metrics,
	})
	return service, cleanup, nil
}
