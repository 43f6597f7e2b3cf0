package logging

import (
	"sync"
	"time"
)

// rateLimiter caps how often a single logger emits error-level lines,
// so a data source whose endpoint fails on every tick can't flood
// stdout once per fan-out run.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{interval: interval}
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.last) < r.interval {
		return false
	}
	r.last = now
	return true
}
