// Package ratelimit limits inbound webhook requests per key (normally the
// client IP). Limiters are constructed explicitly and injected into the HTTP
// layer.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// Local implements token bucket limiting per key in process memory. Each key
// may make limit requests per window, with a burst of limit.
type Local struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	every   rate.Limit

	idleTTL time.Duration
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocal creates an in-process limiter allowing limit requests per window.
// A limit of 0 means unlimited.
func NewLocal(limit int, window time.Duration) *Local {
	l := &Local{
		buckets: make(map[string]*bucket),
		limit:   limit,
		idleTTL: 2 * window,
		now:     time.Now,
	}
	if limit > 0 && window > 0 {
		l.every = rate.Every(window / time.Duration(limit))
	}
	return l
}

// Allow reports whether key may proceed.
func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	if l.limit <= 0 || l.every == 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.getOrCreateBucket(key, now)
	b.lastSeen = now
	l.evictIdle(now)
	return b.limiter.AllowN(now, 1), nil
}

// Reset clears the limit state for key.
func (l *Local) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Close releases nothing; it satisfies Limiter.
func (l *Local) Close() error { return nil }

func (l *Local) getOrCreateBucket(key string, now time.Time) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.every, l.limit), lastSeen: now}
		l.buckets[key] = b
	}
	return b
}

// evictIdle drops buckets that have been full long enough to be
// indistinguishable from new ones.
func (l *Local) evictIdle(now time.Time) {
	if l.idleTTL <= 0 || len(l.buckets) < 1024 {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, key)
		}
	}
}

// NoOp always allows requests.
type NoOp struct{}

// Allow always returns true.
func (NoOp) Allow(context.Context, string) (bool, error) { return true, nil }

// Close does nothing.
func (NoOp) Close() error { return nil }
