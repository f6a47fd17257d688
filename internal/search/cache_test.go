package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/docmatch-service/internal/domain"
	"github.com/helixir/docmatch-service/internal/observability"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
	setErr  error
	lastTTL time.Duration
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	b, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return b, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[key] = value
	c.lastTTL = ttl
	return nil
}

type countingSearcher struct {
	calls  int
	result *Result
	err    error
}

func (s *countingSearcher) Search(_ context.Context, q Query) (*Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	r.Query = q.Q
	return &r, nil
}

func TestCachedSearcher(t *testing.T) {
	okResult := &Result{StatusCode: 200, Docs: []domain.CandidateDoc{{Bibcode: "2022PhRvD.105d4021S", Year: 2022}}}
	q := Query{Kind: KindTitle, Q: "title query", Rows: 10}

	t.Run("second call is served from cache", func(t *testing.T) {
		next := &countingSearcher{result: okResult}
		cache := newMemoryCache()
		metrics := observability.NewMetrics("test_search_cache_hit")
		s := NewCachedSearcher(next, cache, time.Minute, zerolog.Nop(), metrics)

		first, err := s.Search(context.Background(), q)
		require.NoError(t, err)
		second, err := s.Search(context.Background(), q)
		require.NoError(t, err)

		assert.Equal(t, 1, next.calls)
		assert.Equal(t, first, second)
		assert.Equal(t, time.Minute, cache.lastTTL)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SearchCacheHits))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SearchCacheMisses))
	})

	t.Run("non-200 replies are not cached", func(t *testing.T) {
		next := &countingSearcher{result: &Result{StatusCode: 500}}
		s := NewCachedSearcher(next, newMemoryCache(), time.Minute, zerolog.Nop(), nil)

		for i := 0; i < 2; i++ {
			result, err := s.Search(context.Background(), q)
			require.NoError(t, err)
			assert.Equal(t, 500, result.StatusCode)
		}
		assert.Equal(t, 2, next.calls)
	})

	t.Run("cache read failure falls through", func(t *testing.T) {
		next := &countingSearcher{result: okResult}
		cache := newMemoryCache()
		cache.getErr = errors.New("connection refused")
		s := NewCachedSearcher(next, cache, time.Minute, zerolog.Nop(), nil)

		result, err := s.Search(context.Background(), q)
		require.NoError(t, err)
		assert.Len(t, result.Docs, 1)
		assert.Equal(t, 1, next.calls)
	})

	t.Run("cache write failure is ignored", func(t *testing.T) {
		next := &countingSearcher{result: okResult}
		cache := newMemoryCache()
		cache.setErr = errors.New("read only replica")
		s := NewCachedSearcher(next, cache, time.Minute, zerolog.Nop(), nil)

		result, err := s.Search(context.Background(), q)
		require.NoError(t, err)
		assert.True(t, result.OK())
	})

	t.Run("searcher errors propagate", func(t *testing.T) {
		next := &countingSearcher{err: context.Canceled}
		s := NewCachedSearcher(next, newMemoryCache(), time.Minute, zerolog.Nop(), nil)

		_, err := s.Search(context.Background(), q)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("undecodable entry is replaced", func(t *testing.T) {
		next := &countingSearcher{result: okResult}
		cache := newMemoryCache()
		cache.entries[CacheKey(q)] = []byte("not json")
		s := NewCachedSearcher(next, cache, time.Minute, zerolog.Nop(), nil)

		_, err := s.Search(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, 1, next.calls)
		assert.NotEqual(t, []byte("not json"), cache.entries[CacheKey(q)])
	})
}

func TestRedisCache_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping network test in short mode")
	}

	cache := NewRedisCache("127.0.0.1:1", "", 0)
	defer cache.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	assert.Error(t, cache.Ping(ctx))
	_, err := cache.Get(ctx, "k")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCacheMiss))
}
