package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/helixir/docmatch-service/internal/observability"
)

// ErrCacheMiss is returned by a Cache when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

const cacheKeyPrefix = "docmatch:search:"

// Cache stores encoded search results.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache implements Cache on Redis.
type RedisCache struct {
	client *redis.Client
}

// Compile-time interface verification.
var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a RedisCache. The connection is established lazily.
func NewRedisCache(addr, password string, db int) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     password,
			DB:           db,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		}),
	}
}

// Ping checks that Redis answers.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Close closes the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachedSearcher serves repeated queries from a Cache. Only 200 replies are
// cached. Cache failures fall through to the wrapped Searcher.
type CachedSearcher struct {
	next    Searcher
	cache   Cache
	ttl     time.Duration
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Compile-time interface verification.
var _ Searcher = (*CachedSearcher)(nil)

// NewCachedSearcher wraps next with cache. metrics may be nil.
func NewCachedSearcher(next Searcher, cache Cache, ttl time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *CachedSearcher {
	return &CachedSearcher{
		next:    next,
		cache:   cache,
		ttl:     ttl,
		logger:  logger.With().Str("component", "search_cache").Logger(),
		metrics: metrics,
	}
}

// Search implements Searcher.
func (s *CachedSearcher) Search(ctx context.Context, q Query) (*Result, error) {
	key := CacheKey(q)

	if b, err := s.cache.Get(ctx, key); err == nil {
		var cached Result
		if err := json.Unmarshal(b, &cached); err == nil {
			s.metrics.RecordSearchCacheHit()
			return &cached, nil
		}
		s.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	} else if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn().Err(err).Msg("search cache read failed")
	}
	s.metrics.RecordSearchCacheMiss()

	result, err := s.next.Search(ctx, q)
	if err != nil || !result.OK() {
		return result, err
	}

	if b, err := json.Marshal(result); err == nil {
		if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
			s.logger.Warn().Err(err).Msg("search cache write failed")
		}
	}
	return result, nil
}

// CacheKey derives the cache key of q.
func CacheKey(q Query) string {
	sum := sha256.Sum256([]byte(string(q.Kind) + "\x00" + strconv.Itoa(q.Rows) + "\x00" + q.Q))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
