/**
 * Sliding-window rate limiter for the recognition service
 *
 * Tracks exact request timestamps per client over trailing one-minute and
 * one-hour horizons. Entries are pruned lazily on every check. A single
 * lock guards the whole per-client map; sharding by client would scale
 * further but must preserve these exact sliding-window semantics.
 */

package ratelimit

import (
	"sync"
	"time"

	"github.com/docsight/recognition-service/internal/logging"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// window holds one client's request history
type window struct {
	minute []time.Time
	hour   []time.Time
}

// Limiter enforces per-client request budgets
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time

	logger *logging.Logger
}

// NewLimiter creates an empty rate limiter
func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
		logger:  logging.NewLogger("RateLimiter"),
	}
}

// prune drops entries older than the window horizon
func prune(entries []time.Time, now time.Time, horizon time.Duration) []time.Time {
	cutoff := now.Add(-horizon)
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	return entries[i:]
}

// Check records a request for clientID if it fits both budgets.
// On rejection it returns false plus the wait until the oldest blocking
// entry ages out of its window.
func (l *Limiter) Check(clientID string, perMinuteLimit, perHourLimit int) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	w, ok := l.windows[clientID]
	if !ok {
		w = &window{}
		l.windows[clientID] = w
	}

	w.minute = prune(w.minute, now, minuteWindow)
	w.hour = prune(w.hour, now, hourWindow)

	if perMinuteLimit > 0 && len(w.minute) >= perMinuteLimit {
		retryAfter := minuteWindow - now.Sub(w.minute[0])
		l.logger.Warn("Per-minute limit reached", "client", clientID, "limit", perMinuteLimit)
		return false, retryAfter
	}

	if perHourLimit > 0 && len(w.hour) >= perHourLimit {
		retryAfter := hourWindow - now.Sub(w.hour[0])
		l.logger.Warn("Per-hour limit reached", "client", clientID, "limit", perHourLimit)
		return false, retryAfter
	}

	w.minute = append(w.minute, now)
	w.hour = append(w.hour, now)
	return true, 0
}

// Usage returns the pruned request counts inside each window
func (l *Limiter) Usage(clientID string) (minuteCount, hourCount int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[clientID]
	if !ok {
		return 0, 0
	}

	now := l.now()
	w.minute = prune(w.minute, now, minuteWindow)
	w.hour = prune(w.hour, now, hourWindow)
	return len(w.minute), len(w.hour)
}

// Reset clears all recorded history for a client
func (l *Limiter) Reset(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, clientID)
}
