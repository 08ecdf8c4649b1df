package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a TTL-capable key/value backend for cached results
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteAll(ctx context.Context) error
	Ping(ctx context.Context) error
}

// opTimeout bounds every remote cache call; cache I/O must never ride on
// recognition timeouts.
const opTimeout = 2 * time.Second

// redisStore backs the cache with a remote Redis instance
type redisStore struct {
	client *redis.Client
	prefix string
}

func newRedisStore(redisURL, prefix string) (*redisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return &redisStore{
		client: redis.NewClient(opt),
		prefix: prefix,
	}, nil
}

func (s *redisStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := s.client.Get(opCtx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.client.Set(opCtx, s.key(key), value, ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.client.Del(opCtx, s.key(key)).Err()
}

func (s *redisStore) DeleteAll(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	iter := s.client.Scan(opCtx, 0, s.prefix+":*", 0).Iterator()
	for iter.Next(opCtx) {
		if err := s.client.Del(opCtx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *redisStore) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.client.Ping(opCtx).Err()
}

// memoryStore is the in-process fallback: a size-capped map with
// expired-then-oldest eviction.
type memoryStore struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	order      []string // insertion order for oldest-first eviction
	maxEntries int
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func newMemoryStore(maxEntries int) *memoryStore {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &memoryStore{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
	}
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *memoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; exists {
		s.remove(key)
	}

	if len(s.entries) >= s.maxEntries {
		s.evict()
	}

	entry := &memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = entry
	s.order = append(s.order, key)
	return nil
}

// evict removes expired entries first, then the oldest entry if still full
func (s *memoryStore) evict() {
	now := time.Now()
	for key, entry := range s.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			s.remove(key)
		}
	}

	for len(s.entries) >= s.maxEntries && len(s.order) > 0 {
		s.remove(s.order[0])
	}
}

func (s *memoryStore) remove(key string) {
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(key)
	return nil
}

func (s *memoryStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*memoryEntry)
	s.order = nil
	return nil
}

func (s *memoryStore) Ping(ctx context.Context) error {
	return nil
}
