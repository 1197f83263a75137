// Package ratelimit provides the in-process request limiter used to cap
// ingestion and authorization calls per key.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/goliatone/go-ticketmail/core"
)

type bucket struct {
	limiter        *rate.Limiter
	config         core.RateLimitConfig
	lastSeen       time.Time
	throttledUntil time.Time
}

// Limiter keeps one token bucket per key. A bucket refills MaxRequests tokens
// per Window and starts full.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func NewLimiter(opts ...Option) *Limiter {
	limiter := &Limiter{
		buckets: map[string]*bucket{},
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(limiter)
		}
	}
	return limiter
}

// CheckLimit consumes one request from key's bucket and reports whether it
// was allowed. A non-positive window or max disables limiting for the call.
func (l *Limiter) CheckLimit(key string, cfg core.RateLimitConfig) bool {
	if l == nil || cfg.Window <= 0 || cfg.MaxRequests <= 0 {
		return true
	}
	key = normalizeKey(key)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok || b.config != cfg {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Every(cfg.Window/time.Duration(cfg.MaxRequests)), cfg.MaxRequests),
			config:  cfg,
		}
		if ok {
			b.throttledUntil = l.buckets[key].throttledUntil
		}
		l.buckets[key] = b
	}
	b.lastSeen = now
	if now.Before(b.throttledUntil) {
		return false
	}
	return b.limiter.AllowN(now, 1)
}

// Throttle rejects every request for key until retryAfter has elapsed.
func (l *Limiter) Throttle(key string, retryAfter time.Duration) {
	if l == nil || retryAfter <= 0 {
		return
	}
	key = normalizeKey(key)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Inf, 0)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	if until := now.Add(retryAfter); until.After(b.throttledUntil) {
		b.throttledUntil = until
	}
}

// Prune drops buckets unused for longer than idle whose throttle has passed.
func (l *Limiter) Prune(idle time.Duration) int {
	if l == nil {
		return 0
	}
	now := l.now()
	cutoff := now.Add(-idle)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) && !now.Before(b.throttledUntil) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func normalizeKey(key string) string {
	return strings.TrimSpace(strings.ToLower(key))
}

var (
	_ core.RateLimiter = (*Limiter)(nil)
	_ core.Throttler   = (*Limiter)(nil)
	_ core.Pruner      = (*Limiter)(nil)
)
