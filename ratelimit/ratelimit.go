// Package ratelimit provides the injected rate-limiter capability consumed
// by the auth engine. Two implementations ship: a Redis-backed limiter for
// multi-instance deployments and an in-process limiter for a single
// instance. The engine never hard-wires limiter state as a hidden global.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one limiter check. When Allowed is false,
// RetryAfter tells the caller how long to back off.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter consumes one attempt for key per Check call. Reset clears the
// key after a successful operation so legitimate users are not penalized
// for earlier failures.
type Limiter interface {
	Check(ctx context.Context, key string) (Decision, error)
	Reset(ctx context.Context, key string) error
}

// Config bounds attempts per key within a sliding cooldown window.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.Window <= 0 {
		c.Window = 15 * time.Minute
	}
	return c
}
