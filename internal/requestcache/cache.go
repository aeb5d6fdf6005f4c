package requestcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"cardsync/internal/config"
	"cardsync/internal/logging"
	"cardsync/internal/services"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"

	stageCache = "requestcache"
)

// Entry is one cached response body.
type Entry struct {
	Key       string
	Body      []byte
	CreatedAt time.Time
	// TTL of zero means the entry never expires.
	TTL      time.Duration
	Checksum uint64
}

// Expired reports whether the entry is past its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return !now.Before(e.CreatedAt.Add(e.TTL))
}

// Valid reports whether Body still matches the stored checksum.
func (e Entry) Valid() bool {
	return xxhash.Sum64(e.Body) == e.Checksum
}

// Backend is the storage behind a Cache. Implementations must be safe for
// concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (int, int64, error)
	Close() error
}

// Stats summarizes cache contents and counters since process start.
type Stats struct {
	Backend         string
	Entries         int
	Bytes           int64
	Hits            uint64
	Misses          uint64
	IntegrityErrors uint64
}

// Cache memoizes idempotent request bodies by canonical key. A nil *Cache is
// valid and caches nothing.
type Cache struct {
	backend    Backend
	name       string
	defaultTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time

	hits      atomic.Uint64
	misses    atomic.Uint64
	integrity atomic.Uint64
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock overrides the clock used for entry timestamps and TTL checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New wraps backend with default TTL defaultTTL.
func New(backend Backend, name string, defaultTTL time.Duration, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		backend:    backend,
		name:       name,
		defaultTTL: defaultTTL,
		logger:     logging.NewComponentLogger(logger, stageCache),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open builds the cache described by cfg. It returns a nil Cache when caching
// is disabled.
func Open(cfg *config.Config, logger *slog.Logger) (*Cache, error) {
	if cfg == nil || !cfg.Cache.Enabled {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Cache.Backend)) {
	case "", BackendMemory:
		return New(NewMemoryBackend(), BackendMemory, cfg.CacheTTL(), logger), nil
	case BackendSQLite:
		backend, err := OpenSQLite(cfg.CacheDBPath())
		if err != nil {
			return nil, err
		}
		return New(backend, BackendSQLite, cfg.CacheTTL(), logger), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, stageCache, "open", fmt.Sprintf("unknown cache backend %q", cfg.Cache.Backend), nil)
	}
}

// Close releases the backend.
func (c *Cache) Close() error {
	if c == nil || c.backend == nil {
		return nil
	}
	return c.backend.Close()
}

// Get returns the live entry for key. Expired, unreadable, and corrupt
// entries are all misses; corrupt entries are dropped.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	entry, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed",
			logging.String(logging.FieldEventType, "cache_read_failed"),
			logging.String("key", key),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run `cardsync cache clear` if this persists"),
			logging.String(logging.FieldImpact, "request served uncached"),
		)
		c.misses.Add(1)
		return Entry{}, false
	}
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	if !entry.Valid() {
		c.integrity.Add(1)
		c.misses.Add(1)
		err := services.Wrap(services.ErrCacheIntegrity, stageCache, "get", "checksum mismatch for "+key, nil)
		logging.WarnWithContext(c.logger, "cache entry corrupt", "cache_integrity_error",
			logging.Error(err),
			logging.String(logging.FieldImpact, "request served uncached"),
		)
		if delErr := c.backend.Delete(ctx, key); delErr != nil {
			c.logger.Debug("drop corrupt cache entry failed", logging.Error(delErr))
		}
		return Entry{}, false
	}
	if entry.Expired(c.now()) {
		c.misses.Add(1)
		return Entry{}, false
	}
	c.hits.Add(1)
	return entry, true
}

// Put stores body under key, replacing any prior entry. A zero ttl uses the
// cache default and a negative ttl never expires.
func (c *Cache) Put(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	if key == "" {
		return errors.New("cache key is empty")
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	stored := make([]byte, len(body))
	copy(stored, body)
	return c.backend.Put(ctx, Entry{
		Key:       key,
		Body:      stored,
		CreatedAt: c.now().UTC(),
		TTL:       ttl,
		Checksum:  xxhash.Sum64(stored),
	})
}

// Invalidate removes key. Removing an absent key is not an error.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if c == nil {
		return nil
	}
	return c.backend.Delete(ctx, key)
}

// InvalidateRequest removes the entry for the given request signature.
func (c *Cache) InvalidateRequest(ctx context.Context, method, url string, query map[string]any, body any) error {
	if c == nil {
		return nil
	}
	key, err := CanonicalKey(method, url, query, body)
	if err != nil {
		return err
	}
	return c.Invalidate(ctx, key)
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.backend.Clear(ctx)
}

// Stats reports entry counts and hit/miss counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	if c == nil {
		return Stats{Backend: "disabled"}, nil
	}
	entries, size, err := c.backend.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Backend:         c.name,
		Entries:         entries,
		Bytes:           size,
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		IntegrityErrors: c.integrity.Load(),
	}, nil
}

// Fetch returns the cached body for the request when present and otherwise
// calls load and caches its result. Only GET and HEAD requests are memoized;
// anything else always calls load. The returned bool reports a cache hit.
func (c *Cache) Fetch(ctx context.Context, method, url string, query map[string]any, body any, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if c == nil || !Cacheable(method) {
		data, err := load(ctx)
		return data, false, err
	}

	key, err := CanonicalKey(method, url, query, body)
	if err != nil {
		c.logger.Debug("cache key unavailable; bypassing cache", logging.String("url", url), logging.Error(err))
		data, loadErr := load(ctx)
		return data, false, loadErr
	}
	if !refreshRequested(ctx) {
		if entry, ok := c.Get(ctx, key); ok {
			return entry.Body, true, nil
		}
	}

	data, err := load(ctx)
	if err != nil {
		return nil, false, err
	}
	if putErr := c.Put(ctx, key, data, ttl); putErr != nil {
		c.logger.Warn("cache write failed",
			logging.String(logging.FieldEventType, "cache_write_failed"),
			logging.String("url", url),
			logging.Error(putErr),
			logging.String(logging.FieldErrorHint, "check cache directory permissions"),
			logging.String(logging.FieldImpact, "future requests served uncached"),
		)
	}
	return data, false, nil
}

type refreshKey struct{}

// WithRefresh marks ctx so Fetch skips cached entries and stores the fresh
// response in their place.
func WithRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, refreshKey{}, true)
}

func refreshRequested(ctx context.Context) bool {
	v, _ := ctx.Value(refreshKey{}).(bool)
	return v
}

// Cacheable reports whether responses to method may be memoized.
func Cacheable(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead:
		return true
	default:
		return false
	}
}
