package web

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket limiting outbound web searches to a
// per-minute budget. Tokens refill continuously; a full bucket holds one
// minute's budget.
type RateLimiter struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewRateLimiter creates a limiter allowing perMinute requests per
// minute. A non-positive budget disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	r := &RateLimiter{now: time.Now}
	if perMinute > 0 {
		r.capacity = float64(perMinute)
		r.tokens = float64(perMinute)
		r.refillRate = float64(perMinute) / 60.0
		r.lastRefill = r.now()
	}
	return r
}

// Allow consumes a token if one is available. Returns false when the
// budget is exhausted; callers surface that as a rate-limit error rather
// than queueing.
func (r *RateLimiter) Allow() bool {
	if r.capacity == 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.lastRefill = now
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}

	if r.tokens < 1 {
		return false
	}
	r.tokens--
	return true
}
