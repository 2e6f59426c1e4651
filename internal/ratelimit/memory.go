package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxIdleKeys bounds the limiter map; idle full buckets are pruned past it.
const maxIdleKeys = 4096

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps a token bucket per key. Requests refill evenly across
// the window and up to Requests may burst at once.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	window  time.Duration
	now     func() time.Time
}

// NewMemory creates an in-process limiter.
func NewMemory(cfg Config) *MemoryLimiter {
	cfg = cfg.withDefaults()
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate.Every(cfg.Window / time.Duration(cfg.Requests)),
		burst:   cfg.Requests,
		window:  cfg.Window,
		now:     time.Now,
	}
}

// Backend implements Limiter.
func (l *MemoryLimiter) Backend() string { return "memory" }

// Allow consumes one token for key if available.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxIdleKeys {
			l.pruneLocked(now)
		}
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	d := Decision{Limit: l.burst, ResetAt: now.Add(l.window)}
	res := b.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		d.RetryAfter = delay
		d.ResetAt = now.Add(delay)
		return d, nil
	}
	d.Allowed = true
	d.Remaining = max(int(b.limiter.TokensAt(now)), 0)
	return d, nil
}

// pruneLocked drops buckets idle for longer than a window; they are full again
// by then, so recreating them later changes nothing.
func (l *MemoryLimiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.window {
			delete(l.buckets, key)
		}
	}
}
