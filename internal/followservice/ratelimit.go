package followservice

import (
	"sync"
	"time"
)

// Limiter is an in-process sliding-window rate limiter, one window per
// key. Grounded on the teacher's DistributedRateLimiter.checkLimit
// (middleware/rate_limiter.go), whose Redis ZSET
// ZREMRANGEBYSCORE+ZCARD+ZADD sequence is reimplemented here as a
// mutex-guarded slice per key — process-local rather than
// Redis-backed, since C9 has no distributed-coordination dependency of
// its own (an Open Question resolved in DESIGN.md).
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewLimiter constructs a Limiter. now defaults to time.Now when nil,
// letting tests inject a deterministic clock.
func NewLimiter(now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{windows: make(map[string][]time.Time), now: now}
}

// Allow reports whether one more event under key is permitted within
// the trailing window, given at most limit events per window. It
// records the event as consumed when allowed.
func (l *Limiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}

	now := l.now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.windows[key]
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	ts = ts[i:]

	if len(ts) >= limit {
		l.windows[key] = ts
		return false
	}

	l.windows[key] = append(ts, now)
	return true
}
