package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps one token bucket per key in process memory. Suitable
// for single-instance deployments; use [RedisLimiter] when the bound must
// hold across replicas. Buckets idle for a full window have refilled to a
// full burst and are swept out, so enumeration traffic cannot grow the map
// without bound.
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*memoryBucket
	config    Config
	lastSweep time.Time
}

type memoryBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		buckets:   make(map[string]*memoryBucket),
		config:    cfg.withDefaults(),
		lastSweep: time.Now(),
	}
}

// Check consumes one attempt for key. It never returns an error; memory
// access cannot fail the way a shared store can.
func (l *MemoryLimiter) Check(_ context.Context, key string) (Decision, error) {
	now := time.Now()

	l.mu.Lock()
	l.sweepLocked(now)
	bucket, ok := l.buckets[key]
	if !ok {
		limit := rate.Every(l.config.Window / time.Duration(l.config.MaxAttempts))
		bucket = &memoryBucket{limiter: rate.NewLimiter(limit, l.config.MaxAttempts)}
		l.buckets[key] = bucket
	}
	bucket.lastSeen = now
	l.mu.Unlock()

	reservation := bucket.limiter.Reserve()
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}

// sweepLocked drops buckets that have sat idle for at least one window.
// Runs at most once per window; callers hold l.mu.
func (l *MemoryLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.config.Window {
		return
	}
	l.lastSweep = now
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) >= l.config.Window {
			delete(l.buckets, key)
		}
	}
}

// Reset forgets the bucket for key, restoring a full burst.
func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
	return nil
}
