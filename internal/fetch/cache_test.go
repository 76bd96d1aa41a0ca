package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/concierge/internal/config"
	"github.com/pitabwire/concierge/internal/table"
	"github.com/pitabwire/concierge/model"
)

func samplePage(ids ...int) model.RawResult {
	data := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		b, _ := json.Marshal(map[string]int{"id": id})
		data = append(data, b)
	}
	return model.RawResult{
		Data: data,
		Meta: model.Meta{Total: 30, CurrentPage: 1, LastPage: 3, PerPage: 10},
	}
}

func pageRequest(tenant string, page int) model.FetchRequest {
	return model.FetchRequest{
		Endpoint: "https://hotels.internal/api/rooms",
		Query: model.QueryState{
			Page:    page,
			Limit:   10,
			Filters: map[string]string{"floor": "3", "wing": ""},
		},
		Session: model.Session{TenantID: tenant},
	}
}

func TestCacheKey(t *testing.T) {
	req := pageRequest("grand-hotel", 2)
	assert.Equal(t, "page:grand-hotel:https://hotels.internal/api/rooms?floor=3&limit=10&page=2", CacheKey(req))

	other := pageRequest("sea-view", 2)
	assert.NotEqual(t, CacheKey(req), CacheKey(other), "tenants must not share entries")

	req.Sequence, req.Refresh = 99, true
	assert.Equal(t, CacheKey(pageRequest("grand-hotel", 2)), CacheKey(req), "sequence and refresh are not part of the key")
}

func TestMemoryCache_getSetExpire(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", samplePage(1, 2), time.Minute))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, samplePage(1, 2), got)

	now = now.Add(time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok, "entry should expire at its TTL")
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_returnsCopies(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", samplePage(1, 2), time.Minute))

	got, _, _ := c.Get(ctx, "k")
	got.Data[0] = json.RawMessage(`{"id":999}`)

	again, _, _ := c.Get(ctx, "k")
	assert.JSONEq(t, `{"id":1}`, string(again.Data[0]))
}

func TestMemoryCache_evictsWhenFull(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(2)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", samplePage(1), time.Second))
	require.NoError(t, c.Set(ctx, "long", samplePage(2), time.Hour))
	require.NoError(t, c.Set(ctx, "new", samplePage(3), time.Hour))

	assert.Equal(t, 2, c.Len())
	_, ok, _ := c.Get(ctx, "short")
	assert.False(t, ok, "soonest-expiring entry should be evicted")
	_, ok, _ = c.Get(ctx, "long")
	assert.True(t, ok)

	// Overwriting an existing key never evicts.
	require.NoError(t, c.Set(ctx, "long", samplePage(4), time.Hour))
	assert.Equal(t, 2, c.Len())
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisCache(client)
}

func TestRedisCache_roundTripAndTTL(t *testing.T) {
	mr, c := newTestRedis(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "page:x")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "page:x", samplePage(5, 6), 2*time.Second))
	assert.Equal(t, 2*time.Second, mr.TTL("page:x"))

	got, ok, err := c.Get(ctx, "page:x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, samplePage(5, 6).Meta, got.Meta)
	require.Len(t, got.Data, 2)
	assert.JSONEq(t, `{"id":6}`, string(got.Data[1]))

	mr.FastForward(3 * time.Second)
	_, ok, err = c.Get(ctx, "page:x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_corruptEntry(t *testing.T) {
	mr, c := newTestRedis(t)
	require.NoError(t, mr.Set("page:bad", "not json"))

	_, _, err := c.Get(context.Background(), "page:bad")
	assert.Error(t, err)
}

func TestRedisCache_healthCheck(t *testing.T) {
	mr, c := newTestRedis(t)
	assert.NoError(t, c.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestNewCache(t *testing.T) {
	c, err := NewCache(config.CacheConfig{Driver: "memory", MaxEntries: 5})
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)

	_, err = NewCache(config.CacheConfig{Driver: "redis", AddrEnv: "CONCIERGE_TEST_UNSET_REDIS"})
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	t.Setenv("CONCIERGE_TEST_REDIS", "redis://"+mr.Addr()+"/0")
	c, err = NewCache(config.CacheConfig{Driver: "redis", AddrEnv: "CONCIERGE_TEST_REDIS"})
	require.NoError(t, err)
	rc, ok := c.(*RedisCache)
	require.True(t, ok)
	t.Cleanup(func() { _ = rc.Close() })
	assert.NoError(t, rc.HealthCheck(context.Background()))

	_, err = NewCache(config.CacheConfig{Driver: "memcached"})
	assert.Error(t, err)
}

type countingCacheObserver struct{ hits, misses atomic.Int32 }

func (o *countingCacheObserver) RecordPageCacheHit()  { o.hits.Add(1) }
func (o *countingCacheObserver) RecordPageCacheMiss() { o.misses.Add(1) }

func TestCachingFetcher_hitMissAndRefresh(t *testing.T) {
	var calls atomic.Int32
	next := table.FetcherFunc(func(ctx context.Context, req model.FetchRequest) (model.RawResult, error) {
		n := int(calls.Add(1))
		return samplePage(n), nil
	})
	obs := &countingCacheObserver{}
	f := NewCachingFetcher(next, NewMemoryCache(0), time.Minute, WithCacheObserver(obs))
	ctx := context.Background()

	first, err := f.Fetch(ctx, pageRequest("grand-hotel", 1))
	require.NoError(t, err)
	second, err := f.Fetch(ctx, pageRequest("grand-hotel", 1))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), obs.hits.Load())
	assert.Equal(t, int32(1), obs.misses.Load())

	refresh := pageRequest("grand-hotel", 1)
	refresh.Refresh = true
	fresh, err := f.Fetch(ctx, refresh)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "refresh must reach the backend")
	assert.NotEqual(t, first, fresh)

	after, err := f.Fetch(ctx, pageRequest("grand-hotel", 1))
	require.NoError(t, err)
	assert.Equal(t, fresh, after, "refresh result replaces the cached entry")

	_, err = f.Fetch(ctx, pageRequest("sea-view", 1))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "other tenants miss")
}

func TestCachingFetcher_doesNotCacheFailures(t *testing.T) {
	var calls atomic.Int32
	next := table.FetcherFunc(func(ctx context.Context, req model.FetchRequest) (model.RawResult, error) {
		if calls.Add(1) == 1 {
			return model.RawResult{}, model.NewServerError(503, "unavailable")
		}
		return samplePage(1), nil
	})
	f := NewCachingFetcher(next, NewMemoryCache(0), time.Minute)

	_, err := f.Fetch(context.Background(), pageRequest("t", 1))
	assert.True(t, model.IsCode(err, model.ErrServer))

	res, err := f.Fetch(context.Background(), pageRequest("t", 1))
	require.NoError(t, err)
	assert.Len(t, res.Data, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCachingFetcher_coalescesConcurrentMisses(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	next := table.FetcherFunc(func(ctx context.Context, req model.FetchRequest) (model.RawResult, error) {
		calls.Add(1)
		<-release
		return samplePage(7), nil
	})
	f := NewCachingFetcher(next, NewMemoryCache(0), time.Minute)

	const callers = 8
	var wg sync.WaitGroup
	var started sync.WaitGroup
	results := make([]model.RawResult, callers)
	errs := make([]error, callers)
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			results[i], errs[i] = f.Fetch(context.Background(), pageRequest("t", 1))
		}()
	}
	started.Wait()
	// Give every goroutine time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, samplePage(7), results[i])
	}
}

func TestCachingFetcher_cancelledCallerLeavesSharedCall(t *testing.T) {
	release := make(chan struct{})
	var sawCancel atomic.Bool
	next := table.FetcherFunc(func(ctx context.Context, req model.FetchRequest) (model.RawResult, error) {
		<-release
		sawCancel.Store(ctx.Err() != nil)
		return samplePage(1), nil
	})
	f := NewCachingFetcher(next, NewMemoryCache(0), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, pageRequest("t", 1))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-done
	assert.True(t, model.IsCode(err, model.ErrTransport))
	assert.True(t, errors.Is(err, context.Canceled))

	close(release)
	require.Eventually(t, func() bool {
		_, ok, _ := f.cache.Get(context.Background(), CacheKey(pageRequest("t", 1)))
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.False(t, sawCancel.Load(), "shared call must not inherit the caller's cancellation")
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (model.RawResult, bool, error) {
	return model.RawResult{}, false, errors.New("redis down")
}

func (failingCache) Set(context.Context, string, model.RawResult, time.Duration) error {
	return errors.New("redis down")
}

func TestCachingFetcher_cacheErrorsFallThrough(t *testing.T) {
	next := table.FetcherFunc(func(ctx context.Context, req model.FetchRequest) (model.RawResult, error) {
		return samplePage(3), nil
	})
	f := NewCachingFetcher(next, failingCache{}, time.Minute)

	res, err := f.Fetch(context.Background(), pageRequest("t", 1))
	require.NoError(t, err)
	assert.Equal(t, samplePage(3), res)
}
