// pkg/ratelimit/limiter.go
// Token bucket throttle for repetitive events such as log lines

package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate and counts the events it turned away
type Limiter struct {
	limiter *rate.Limiter
	mu      sync.Mutex

	// Suppressed since the last allowed event
	pending int64

	stats Stats
}

// Stats contains limiter statistics
type Stats struct {
	Allowed    int64
	Suppressed int64
}

// Config holds limiter configuration
type Config struct {
	Every time.Duration // minimum spacing between events once the burst is spent
	Burst int
}

// New creates a new limiter. A zero Every never throttles.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.Every > 0 {
		limit = rate.Every(cfg.Every)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Limiter{
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Allow reports whether the event may proceed. When it may, suppressed is the
// number of events dropped since the previous allowed one.
func (l *Limiter) Allow() (ok bool, suppressed int64) {
	return l.AllowAt(time.Now())
}

// AllowAt is Allow at an explicit instant, for tests
func (l *Limiter) AllowAt(now time.Time) (bool, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.limiter.AllowN(now, 1) {
		l.pending++
		l.stats.Suppressed++
		return false, 0
	}

	suppressed := l.pending
	l.pending = 0
	l.stats.Allowed++
	return true, suppressed
}

// GetStats returns current statistics
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
