/**
 * Result Cache Tests
 *
 * Covers key derivation laws, the in-memory backend's TTL and eviction
 * behavior, and the GetOrCompute flow. The Redis backend shares the same
 * Store interface and is exercised against a live instance elsewhere.
 */

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// newMemoryManager builds a manager forced onto the in-memory backend
func newMemoryManager(maxEntries int) *Manager {
	return NewManager(&Config{
		RedisURL:   "",
		DefaultTTL: time.Hour,
		MaxEntries: maxEntries,
	}, nil)
}

func TestKeyIsDeterministic(t *testing.T) {
	input := []byte("document bytes")
	options := map[string]string{"language": "en", "engine": "tesseract"}

	k1 := Key(input, options)
	k2 := Key(input, options)
	if k1 != k2 {
		t.Errorf("identical inputs produced different keys: %q vs %q", k1, k2)
	}
}

func TestKeyIgnoresOptionOrder(t *testing.T) {
	input := []byte("document bytes")

	// Maps iterate in random order; repeated derivation catches ordering
	// leaks into the key.
	want := Key(input, map[string]string{"a": "1", "b": "2", "c": "3"})
	for i := 0; i < 20; i++ {
		got := Key(input, map[string]string{"c": "3", "a": "1", "b": "2"})
		if got != want {
			t.Fatal("option order leaked into the cache key")
		}
	}
}

func TestKeyChangesWithInputOrOptions(t *testing.T) {
	base := Key([]byte("input"), map[string]string{"language": "en"})

	testCases := []struct {
		name    string
		input   []byte
		options map[string]string
	}{
		{"different input", []byte("other input"), map[string]string{"language": "en"}},
		{"different option value", []byte("input"), map[string]string{"language": "ar"}},
		{"extra option", []byte("input"), map[string]string{"language": "en", "dpi": "300"}},
		{"no options", []byte("input"), nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if Key(tc.input, tc.options) == base {
				t.Error("distinct request produced the same cache key")
			}
		})
	}
}

// Option values arrive from user-controlled payloads; delimiter bytes in a
// value must never make two distinct option sets collide on one key.
func TestKeyResistsDelimiterForgery(t *testing.T) {
	input := []byte("doc")

	testCases := []struct {
		name  string
		left  map[string]string
		right map[string]string
	}{
		{
			"newline forges extra pair",
			map[string]string{"a": "b\nc=d"},
			map[string]string{"a": "b", "c": "d"},
		},
		{
			"equals shifts pair boundary",
			map[string]string{"a": "b=c"},
			map[string]string{"a=b": "c"},
		},
		{
			"key/value boundary shifts",
			map[string]string{"ab": "c"},
			map[string]string{"a": "bc"},
		},
		{
			"value mimics framing",
			map[string]string{"a": "b1:c:1:d"},
			map[string]string{"a": "b", "c": "d"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if Key(input, tc.left) == Key(input, tc.right) {
				t.Errorf("distinct option sets %v and %v collided", tc.left, tc.right)
			}
		})
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	m := newMemoryManager(16)
	ctx := context.Background()

	key := Key([]byte("doc"), nil)

	if _, hit := m.Get(ctx, key); hit {
		t.Fatal("empty cache reported a hit")
	}

	m.Set(ctx, key, []byte("result"), 0)

	value, hit := m.Get(ctx, key)
	if !hit {
		t.Fatal("expected a hit after Set")
	}
	if string(value) != "result" {
		t.Errorf("expected %q, got %q", "result", value)
	}
}

func TestSetOverwrites(t *testing.T) {
	m := newMemoryManager(16)
	ctx := context.Background()

	m.Set(ctx, "k", []byte("old"), 0)
	m.Set(ctx, "k", []byte("new"), 0)

	value, hit := m.Get(ctx, "k")
	if !hit || string(value) != "new" {
		t.Errorf("expected overwritten value %q, got %q (hit=%v)", "new", value, hit)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := newMemoryStore(16)
	ctx := context.Background()

	s.Set(ctx, "k", []byte("v"), 10*time.Millisecond)

	if _, found, _ := s.Get(ctx, "k"); !found {
		t.Fatal("entry should be present before expiry")
	}

	time.Sleep(20 * time.Millisecond)

	if _, found, _ := s.Get(ctx, "k"); found {
		t.Error("expired entry must read as a miss")
	}
}

func TestMemoryStoreEvictsOldestWhenFull(t *testing.T) {
	s := newMemoryStore(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Hour)
	}
	s.Set(ctx, "k3", []byte("v"), time.Hour)

	if _, found, _ := s.Get(ctx, "k0"); found {
		t.Error("oldest entry should have been evicted")
	}
	for _, key := range []string{"k1", "k2", "k3"} {
		if _, found, _ := s.Get(ctx, key); !found {
			t.Errorf("entry %s should have survived eviction", key)
		}
	}
}

func TestMemoryStorePrefersEvictingExpired(t *testing.T) {
	s := newMemoryStore(3)
	ctx := context.Background()

	s.Set(ctx, "expired", []byte("v"), time.Nanosecond)
	s.Set(ctx, "live1", []byte("v"), time.Hour)
	s.Set(ctx, "live2", []byte("v"), time.Hour)

	time.Sleep(time.Millisecond)
	s.Set(ctx, "new", []byte("v"), time.Hour)

	// The expired entry is reclaimed; live entries survive.
	for _, key := range []string{"live1", "live2", "new"} {
		if _, found, _ := s.Get(ctx, key); !found {
			t.Errorf("live entry %s was evicted while an expired entry existed", key)
		}
	}
}

func TestGetOrCompute(t *testing.T) {
	m := newMemoryManager(16)
	ctx := context.Background()

	input := []byte("doc")
	options := map[string]string{"language": "en"}
	computeCalls := 0
	compute := func(ctx context.Context) ([]byte, error) {
		computeCalls++
		return []byte("computed"), nil
	}

	value, hit, err := m.GetOrCompute(ctx, input, options, compute)
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if hit {
		t.Error("first call must be a miss")
	}
	if string(value) != "computed" {
		t.Errorf("expected computed value, got %q", value)
	}

	value, hit, err = m.GetOrCompute(ctx, input, options, compute)
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if !hit {
		t.Error("second call must hit")
	}
	if string(value) != "computed" {
		t.Errorf("expected cached value, got %q", value)
	}
	if computeCalls != 1 {
		t.Errorf("compute ran %d times, want 1", computeCalls)
	}
}

func TestGetOrComputeDoesNotCacheFailures(t *testing.T) {
	m := newMemoryManager(16)
	ctx := context.Background()

	input := []byte("doc")
	wantErr := fmt.Errorf("backend down")
	calls := 0

	_, _, err := m.GetOrCompute(ctx, input, nil, func(ctx context.Context) ([]byte, error) {
		calls++
		return nil, wantErr
	})
	if err != wantErr {
		t.Fatalf("expected compute error, got %v", err)
	}

	// The failure must not have been cached; a succeeding compute runs.
	value, hit, err := m.GetOrCompute(ctx, input, nil, func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	})
	if err != nil || hit || string(value) != "ok" {
		t.Errorf("expected fresh compute after failure, got value=%q hit=%v err=%v", value, hit, err)
	}
	if calls != 2 {
		t.Errorf("compute ran %d times, want 2", calls)
	}
}

func TestInvalidate(t *testing.T) {
	m := newMemoryManager(16)
	ctx := context.Background()

	m.Set(ctx, "k1", []byte("v"), 0)
	m.Set(ctx, "k2", []byte("v"), 0)

	m.Invalidate(ctx, "k1")
	if _, hit := m.Get(ctx, "k1"); hit {
		t.Error("invalidated key still readable")
	}
	if _, hit := m.Get(ctx, "k2"); !hit {
		t.Error("unrelated key was invalidated")
	}

	m.InvalidateAll(ctx)
	if _, hit := m.Get(ctx, "k2"); hit {
		t.Error("InvalidateAll left entries behind")
	}
}

func TestStats(t *testing.T) {
	m := newMemoryManager(16)
	ctx := context.Background()

	if m.Backend() != BackendMemory {
		t.Fatalf("expected memory backend, got %s", m.Backend())
	}

	m.Set(ctx, "k", []byte("v"), 0)
	m.Get(ctx, "k")       // hit
	m.Get(ctx, "absent")  // miss
	m.Get(ctx, "absent2") // miss

	stats := m.Stats()
	if stats.Hits != 1 || stats.Misses != 2 {
		t.Errorf("expected 1 hit / 2 misses, got %d/%d", stats.Hits, stats.Misses)
	}

	want := 1.0 / 3.0
	if diff := stats.HitRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected hit rate %f, got %f", want, stats.HitRate)
	}
}
