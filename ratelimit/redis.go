package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts attempts in Redis so the bound holds across
// instances. Keys follow the pattern "<prefix>:<key>" with the window as
// TTL; the first attempt in a window sets the expiry.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	config Config
}

// NewRedisLimiter creates a limiter on client under the given key prefix.
func NewRedisLimiter(client *redis.Client, prefix string, cfg Config) *RedisLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		config: cfg.withDefaults(),
	}
}

// Check consumes one attempt for key and reports whether it is allowed.
// Redis being unreachable is an infrastructure error, not a denial.
func (l *RedisLimiter) Check(ctx context.Context, key string) (Decision, error) {
	k := l.key(key)

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limiter unavailable: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.config.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limiter unavailable: %w", err)
		}
	}

	if count > int64(l.config.MaxAttempts) {
		ttl, err := l.client.TTL(ctx, k).Result()
		if err != nil || ttl < 0 {
			ttl = l.config.Window
		}
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}

	return Decision{Allowed: true}, nil
}

// Reset clears the counter for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.key(key)).Err()
}

func (l *RedisLimiter) key(key string) string {
	return l.prefix + ":" + key
}
