/**
 * Resource Controller - admission control for the recognition service
 *
 * Bounds concurrent work by a fixed slot count and by system pressure
 * (CPU and memory percentages). Slots are scoped: WithSlot guarantees the
 * release runs on every exit path, while Acquire/Release stay available
 * for manual use.
 */

package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/semaphore"

	"github.com/docsight/recognition-service/internal/errors"
	"github.com/docsight/recognition-service/internal/logging"
)

// holdTimeSamples bounds the rolling hold-time statistic
const holdTimeSamples = 1000

// Config holds admission thresholds
type Config struct {
	MaxConcurrent    int
	MaxMemoryPercent float64
	MaxCPUPercent    float64
}

// Controller gates the start of new units of work
type Controller struct {
	cfg   Config
	slots *semaphore.Weighted

	mu            sync.Mutex
	inFlight      int
	peak          int
	totalAcquired int64
	totalReleased int64
	totalRejected int64
	totalTimedOut int64
	holdTimes     [holdTimeSamples]time.Duration
	holdIdx       int
	holdCount     int

	logger *logging.Logger
}

// Slot is one admitted unit of concurrent work
type Slot struct {
	ctrl       *Controller
	acquiredAt time.Time
	once       sync.Once
}

// NewController creates an admission controller
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Controller{
		cfg:    cfg,
		slots:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger: logging.NewLogger("ResourceController"),
	}
}

// samplePressure reads current memory and CPU usage. Sampling failures
// report zero so a broken probe never blocks admission.
func (c *Controller) samplePressure() (memPercent, cpuPercent float64) {
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		cpuPercent = pcts[0]
	}
	return memPercent, cpuPercent
}

// Acquire attempts to obtain a processing slot, blocking up to timeout.
// With checkResources set, current memory, CPU and in-flight counts are
// sampled first and any threshold breach rejects immediately without
// touching the slot semaphore.
func (c *Controller) Acquire(ctx context.Context, timeout time.Duration, checkResources bool) (*Slot, error) {
	if checkResources {
		memPercent, cpuPercent := c.samplePressure()

		c.mu.Lock()
		inFlight := c.inFlight
		c.mu.Unlock()

		var reason string
		switch {
		case memPercent > c.cfg.MaxMemoryPercent:
			reason = fmt.Sprintf("memory usage %.1f%% exceeds limit %.1f%%", memPercent, c.cfg.MaxMemoryPercent)
		case cpuPercent > c.cfg.MaxCPUPercent:
			reason = fmt.Sprintf("cpu usage %.1f%% exceeds limit %.1f%%", cpuPercent, c.cfg.MaxCPUPercent)
		case inFlight >= c.cfg.MaxConcurrent:
			reason = fmt.Sprintf("all %d slots in use", c.cfg.MaxConcurrent)
		}

		if reason != "" {
			c.mu.Lock()
			c.totalRejected++
			c.mu.Unlock()
			c.logger.Warn("Admission rejected", "reason", reason)
			return nil, errors.NewAdmissionRejected(reason)
		}
	}

	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.slots.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			// Caller cancellation, not a slot timeout
			return nil, ctx.Err()
		}
		c.mu.Lock()
		c.totalTimedOut++
		c.mu.Unlock()
		return nil, errors.NewAdmissionTimeout(timeout)
	}

	c.mu.Lock()
	c.inFlight++
	c.totalAcquired++
	if c.inFlight > c.peak {
		c.peak = c.inFlight
	}
	c.mu.Unlock()

	return &Slot{ctrl: c, acquiredAt: time.Now()}, nil
}

// Release frees the slot. Safe to call more than once; only the first call
// has an effect.
func (s *Slot) Release() {
	s.once.Do(func() {
		held := time.Since(s.acquiredAt)
		c := s.ctrl

		c.slots.Release(1)

		c.mu.Lock()
		c.inFlight--
		c.totalReleased++
		c.holdTimes[c.holdIdx] = held
		c.holdIdx = (c.holdIdx + 1) % holdTimeSamples
		if c.holdCount < holdTimeSamples {
			c.holdCount++
		}
		c.mu.Unlock()
	})
}

// WithSlot runs fn inside a scoped slot acquisition; the slot is released
// on every exit path including panics.
func (c *Controller) WithSlot(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	slot, err := c.Acquire(ctx, timeout, true)
	if err != nil {
		return err
	}
	defer slot.Release()

	return fn(ctx)
}

// Status is a snapshot of controller counters and live pressure
type Status struct {
	Current       int           `json:"current"`
	Peak          int           `json:"peak"`
	Max           int           `json:"max"`
	TotalAcquired int64         `json:"totalAcquired"`
	TotalReleased int64         `json:"totalReleased"`
	TotalRejected int64         `json:"totalRejected"`
	TotalTimedOut int64         `json:"totalTimedOut"`
	AvgHoldTime   time.Duration `json:"avgHoldTime"`
	MemoryPercent float64       `json:"memoryPercent"`
	CPUPercent    float64       `json:"cpuPercent"`
}

// Status returns current concurrency counters plus a live CPU/memory sample
func (c *Controller) Status() Status {
	memPercent, cpuPercent := c.samplePressure()

	c.mu.Lock()
	defer c.mu.Unlock()

	var avg time.Duration
	if c.holdCount > 0 {
		var sum time.Duration
		for i := 0; i < c.holdCount; i++ {
			sum += c.holdTimes[i]
		}
		avg = sum / time.Duration(c.holdCount)
	}

	return Status{
		Current:       c.inFlight,
		Peak:          c.peak,
		Max:           c.cfg.MaxConcurrent,
		TotalAcquired: c.totalAcquired,
		TotalReleased: c.totalReleased,
		TotalRejected: c.totalRejected,
		TotalTimedOut: c.totalTimedOut,
		AvgHoldTime:   avg,
		MemoryPercent: memPercent,
		CPUPercent:    cpuPercent,
	}
}
