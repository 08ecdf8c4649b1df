/**
 * Result Cache for the recognition service
 *
 * Content-addressed: the key is a pure function of the input bytes plus the
 * exact option set used to produce the result. The backend is chosen once
 * at startup - a reachable Redis wins, otherwise a bounded in-process map
 * serves the rest of the process lifetime.
 */

package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/docsight/recognition-service/internal/errors"
	"github.com/docsight/recognition-service/internal/logging"
	"github.com/docsight/recognition-service/internal/metrics"
)

// Backend names for Stats reporting
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds cache construction parameters
type Config struct {
	RedisURL   string
	KeyPrefix  string
	DefaultTTL time.Duration
	MaxEntries int // memory-fallback bound
}

// Manager is the result cache facade
type Manager struct {
	store      Store
	backend    string
	defaultTTL time.Duration

	hits      atomic.Int64
	misses    atomic.Int64
	errors    atomic.Int64
	collector metrics.Collector
	logger    *logging.Logger
}

// NewManager builds the cache, picking the backend once: Redis when it
// answers a ping at startup, the in-process map otherwise. There are no
// later reconnection attempts.
func NewManager(cfg *Config, collector metrics.Collector) *Manager {
	logger := logging.NewLogger("ResultCache")

	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "recognition:cache"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}

	m := &Manager{
		defaultTTL: cfg.DefaultTTL,
		collector:  collector,
		logger:     logger,
	}

	if cfg.RedisURL != "" {
		if store, err := newRedisStore(cfg.RedisURL, cfg.KeyPrefix); err == nil {
			pingCtx, cancel := context.WithTimeout(context.Background(), opTimeout)
			pingErr := store.Ping(pingCtx)
			cancel()
			if pingErr == nil {
				logger.Info("Result cache using Redis backend", "url", cfg.RedisURL)
				m.store = store
				m.backend = BackendRedis
				return m
			}
			logger.Warn("Redis unreachable, falling back to in-memory cache",
				"error", errors.NewCacheUnavailable(pingErr))
		} else {
			logger.Warn("Invalid Redis URL, falling back to in-memory cache", "error", err)
		}
	}

	m.store = newMemoryStore(cfg.MaxEntries)
	m.backend = BackendMemory
	logger.Info("Result cache using in-memory backend", "maxEntries", cfg.MaxEntries)
	return m
}

// Key derives the cache key from input content and the exact option set.
// Options are order-independent; any option change produces a new key.
// Keys and values are length-prefixed before hashing so no value can forge
// another pair's framing, no matter what bytes it contains.
func Key(input []byte, options map[string]string) string {
	inputHash := sha256.Sum256(input)

	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		v := options[k]
		fmt.Fprintf(h, "%d:%s:%d:%s", len(k), k, len(v), v)
	}

	return fmt.Sprintf("%x:%x", inputHash, h.Sum(nil))
}

// Get returns the cached value for key. Store errors are absorbed as
// misses and counted separately; the cache never fails a request.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	value, found, err := m.store.Get(ctx, key)
	if err != nil {
		m.errors.Add(1)
		m.logger.Warn("Cache get failed, treating as miss", "error", errors.NewCacheUnavailable(err))
		found = false
	}

	if found {
		m.hits.Add(1)
		if m.collector != nil {
			m.collector.IncCacheHit()
		}
		return value, true
	}

	m.misses.Add(1)
	if m.collector != nil {
		m.collector.IncCacheMiss()
	}
	return nil, false
}

// Set stores a value under key. A non-positive ttl uses the default.
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	if err := m.store.Set(ctx, key, value, ttl); err != nil {
		m.errors.Add(1)
		m.logger.Warn("Cache set failed", "error", err)
	}
}

// Invalidate drops one key
func (m *Manager) Invalidate(ctx context.Context, key string) {
	if err := m.store.Delete(ctx, key); err != nil {
		m.errors.Add(1)
		m.logger.Warn("Cache invalidate failed", "error", err)
	}
}

// InvalidateAll drops every cached entry
func (m *Manager) InvalidateAll(ctx context.Context) {
	if err := m.store.DeleteAll(ctx); err != nil {
		m.errors.Add(1)
		m.logger.Warn("Cache invalidate-all failed", "error", err)
	}
}

// GetOrCompute returns the cached value for (input, options), otherwise
// runs compute, stores its result and returns it. The boolean reports a
// cache hit.
func (m *Manager) GetOrCompute(ctx context.Context, input []byte, options map[string]string, compute func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	key := Key(input, options)

	if value, hit := m.Get(ctx, key); hit {
		return value, true, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}

	m.Set(ctx, key, value, 0)
	return value, false, nil
}

// Stats reports cache counters and the derived hit rate
type Stats struct {
	Backend string  `json:"backend"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hitRate"`
}

// Stats returns a snapshot of cache counters
func (m *Manager) Stats() Stats {
	hits := m.hits.Load()
	misses := m.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Backend: m.backend,
		Hits:    hits,
		Misses:  misses,
		Errors:  m.errors.Load(),
		HitRate: hitRate,
	}
}

// Backend reports which store the cache settled on at startup
func (m *Manager) Backend() string {
	return m.backend
}
