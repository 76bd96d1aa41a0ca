package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/concierge/internal/config"
	"github.com/pitabwire/concierge/internal/query"
	"github.com/pitabwire/concierge/internal/table"
	"github.com/pitabwire/concierge/model"
)

// Cache stores fetched pages by key.
type Cache interface {
	// Get returns the cached page and whether it was present.
	Get(ctx context.Context, key string) (model.RawResult, bool, error)
	// Set stores a page with the given TTL.
	Set(ctx context.Context, key string, page model.RawResult, ttl time.Duration) error
}

// CacheKey returns "page:{tenant}:{endpoint}?{canonical query}".
func CacheKey(req model.FetchRequest) string {
	return fmt.Sprintf("page:%s:%s?%s", req.Session.TenantID, req.Endpoint, query.Canonical(req.Query))
}

// NewCache builds the cache selected by cfg.Driver. The redis driver reads
// its address from the environment variable named by cfg.AddrEnv, either as
// a redis:// URL or a bare host:port.
func NewCache(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryCache(cfg.MaxEntries), nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, fmt.Errorf("cache: %s is not set", cfg.AddrEnv)
		}
		var opts *redis.Options
		if strings.Contains(addr, "://") {
			parsed, err := redis.ParseURL(addr)
			if err != nil {
				return nil, fmt.Errorf("cache: parse %s: %w", cfg.AddrEnv, err)
			}
			opts = parsed
		} else {
			opts = &redis.Options{Addr: addr, DB: cfg.DB}
		}
		return NewRedisCache(redis.NewClient(opts)), nil
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}

// --- MemoryCache ---

// MemoryCache is an in-process Cache with TTL and a bound on entries. When
// full, expired entries are dropped first, then the one expiring soonest.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]memEntry
	maxEntries int
	now        func() time.Time
}

type memEntry struct {
	page      model.RawResult
	expiresAt time.Time
}

// NewMemoryCache creates a cache holding at most maxEntries pages.
// maxEntries <= 0 means unbounded.
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]memEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a live entry.
func (c *MemoryCache) Get(_ context.Context, key string) (model.RawResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return model.RawResult{}, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return model.RawResult{}, false, nil
	}
	return clonePage(e.page), true, nil
}

// Set stores a page.
func (c *MemoryCache) Set(_ context.Context, key string, page model.RawResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = memEntry{page: clonePage(page), expiresAt: c.now().Add(ttl)}
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) evictLocked() {
	now := c.now()
	var victim string
	var soonest time.Time
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			continue
		}
		if victim == "" || e.expiresAt.Before(soonest) {
			victim, soonest = k, e.expiresAt
		}
	}
	if len(c.entries) >= c.maxEntries && victim != "" {
		delete(c.entries, victim)
	}
}

func clonePage(p model.RawResult) model.RawResult {
	p.Data = append([]json.RawMessage(nil), p.Data...)
	return p
}

// --- RedisCache ---

// RedisCache stores pages as JSON strings with a TTL.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps a go-redis client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Get reads and decodes a page.
func (c *RedisCache) Get(ctx context.Context, key string) (model.RawResult, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return model.RawResult{}, false, nil
	}
	if err != nil {
		return model.RawResult{}, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var page model.RawResult
	if err := json.Unmarshal(raw, &page); err != nil {
		return model.RawResult{}, false, fmt.Errorf("unmarshal page %q: %w", key, err)
	}
	return page, true, nil
}

// Set encodes and stores a page.
func (c *RedisCache) Set(ctx context.Context, key string, page model.RawResult, ttl time.Duration) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal page: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings the server.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// --- CachingFetcher ---

// CacheObserver receives page cache hits and misses. *observability.Metrics
// satisfies it.
type CacheObserver interface {
	RecordPageCacheHit()
	RecordPageCacheMiss()
}

type nopCacheObserver struct{}

func (nopCacheObserver) RecordPageCacheHit()  {}
func (nopCacheObserver) RecordPageCacheMiss() {}

// CachingFetcher answers repeated page requests from a Cache. Refresh
// requests skip the read but still store their result. Identical concurrent
// misses share one backend call. Only successful pages are cached.
type CachingFetcher struct {
	next     table.Fetcher
	cache    Cache
	ttl      time.Duration
	group    singleflight.Group
	observer CacheObserver
	logger   *zap.Logger
}

// CachingOption configures a CachingFetcher.
type CachingOption func(*CachingFetcher)

// WithCacheObserver reports hits and misses to o.
func WithCacheObserver(o CacheObserver) CachingOption {
	return func(c *CachingFetcher) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithCacheLogger sets the logger for cache failures.
func WithCacheLogger(l *zap.Logger) CachingOption {
	return func(c *CachingFetcher) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCachingFetcher decorates next with cache.
func NewCachingFetcher(next table.Fetcher, cache Cache, ttl time.Duration, opts ...CachingOption) *CachingFetcher {
	c := &CachingFetcher{
		next:     next,
		cache:    cache,
		ttl:      ttl,
		observer: nopCacheObserver{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch implements table.Fetcher.
func (c *CachingFetcher) Fetch(ctx context.Context, req model.FetchRequest) (model.RawResult, error) {
	key := CacheKey(req)

	if req.Refresh {
		return c.load(ctx, key, req)
	}

	page, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("page cache read failed", zap.String("key", key), zap.Error(err))
	}
	if ok {
		c.observer.RecordPageCacheHit()
		return page, nil
	}
	c.observer.RecordPageCacheMiss()

	// The shared call outlives any single caller so that one superseded
	// request does not fail the others waiting on it.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.load(shared, key, req)
	})
	select {
	case <-ctx.Done():
		return model.RawResult{}, model.NewTransportError(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return model.RawResult{}, res.Err
		}
		return clonePage(res.Val.(model.RawResult)), nil
	}
}

func (c *CachingFetcher) load(ctx context.Context, key string, req model.FetchRequest) (model.RawResult, error) {
	page, err := c.next.Fetch(ctx, req)
	if err != nil {
		return model.RawResult{}, err
	}
	if err := c.cache.Set(ctx, key, page, c.ttl); err != nil {
		c.logger.Warn("page cache write failed", zap.String("key", key), zap.Error(err))
	}
	return page, nil
}
