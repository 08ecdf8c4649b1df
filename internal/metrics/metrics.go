/**
 * Metrics hooks for the recognition service
 *
 * The orchestration core only updates counters and gauges through the
 * Collector interface; scraping/export is left to an external collector.
 */

package metrics

import (
	"sync"
	"time"
)

// Collector receives the counters and gauges the core must update
type Collector interface {
	IncRequest(endpoint, status string)
	IncActiveRequests()
	DecActiveRequests()
	SetEngineAvailability(engine string, available bool)
	ObserveConfidence(engine string, confidence float64)
	ObserveLatency(endpoint string, d time.Duration)
	IncCacheHit()
	IncCacheMiss()
}

// InProcess is a concurrency-safe in-memory Collector
type InProcess struct {
	mu sync.Mutex

	requests       map[string]int64 // "endpoint|status" -> count
	activeRequests int64
	availability   map[string]bool
	confidenceSum  map[string]float64
	confidenceN    map[string]int64
	latencySum     map[string]time.Duration
	latencyN       map[string]int64
	cacheHits      int64
	cacheMisses    int64
}

// NewInProcess creates an empty in-process collector
func NewInProcess() *InProcess {
	return &InProcess{
		requests:      make(map[string]int64),
		availability:  make(map[string]bool),
		confidenceSum: make(map[string]float64),
		confidenceN:   make(map[string]int64),
		latencySum:    make(map[string]time.Duration),
		latencyN:      make(map[string]int64),
	}
}

func (c *InProcess) IncRequest(endpoint, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[endpoint+"|"+status]++
}

func (c *InProcess) IncActiveRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeRequests++
}

func (c *InProcess) DecActiveRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeRequests--
}

func (c *InProcess) SetEngineAvailability(engine string, available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.availability[engine] = available
}

func (c *InProcess) ObserveConfidence(engine string, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confidenceSum[engine] += confidence
	c.confidenceN[engine]++
}

func (c *InProcess) ObserveLatency(endpoint string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencySum[endpoint] += d
	c.latencyN[endpoint]++
}

func (c *InProcess) IncCacheHit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheHits++
}

func (c *InProcess) IncCacheMiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheMisses++
}

// Snapshot is a point-in-time copy of collected metrics
type Snapshot struct {
	Requests       map[string]int64
	ActiveRequests int64
	Availability   map[string]bool
	CacheHits      int64
	CacheMisses    int64
}

// Snapshot returns a copy of the current counters for introspection
func (c *InProcess) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Requests:       make(map[string]int64, len(c.requests)),
		ActiveRequests: c.activeRequests,
		Availability:   make(map[string]bool, len(c.availability)),
		CacheHits:      c.cacheHits,
		CacheMisses:    c.cacheMisses,
	}
	for k, v := range c.requests {
		snap.Requests[k] = v
	}
	for k, v := range c.availability {
		snap.Availability[k] = v
	}
	return snap
}
