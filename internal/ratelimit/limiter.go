// Package ratelimit implements fixed-window counters in Redis for challenge
// dispatch and verification attempts.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable wraps Redis failures.
	ErrUnavailable = errors.New("rate limiter unavailable")
)

// LimitedError is returned when a key exceeded its budget. RetryAfter is the remaining window.
type LimitedError struct {
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Rule is a budget of Max events per Window.
type Rule struct {
	Max    int
	Window time.Duration
}

// Limiter counts events per key in Redis. The window starts at the first event.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New returns a Limiter storing counters under prefix.
func New(client redis.UniversalClient, prefix string) *Limiter {
	return &Limiter{redis: client, prefix: prefix}
}

func (l *Limiter) key(scope, id string) string {
	return l.prefix + ":" + scope + ":" + id
}

// Allow records one event for scope/id and returns *LimitedError once the count exceeds rule.Max.
func (l *Limiter) Allow(ctx context.Context, scope, id string, rule Rule) error {
	if rule.Max <= 0 || rule.Window <= 0 {
		return nil
	}
	key := l.key(scope, id)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	wait, err := l.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 || wait < 0 {
		if err := l.redis.PExpire(ctx, key, rule.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		wait = rule.Window
	}
	if count > int64(rule.Max) {
		return &LimitedError{RetryAfter: wait}
	}
	return nil
}

// Check returns *LimitedError when scope/id has already used its budget, without recording an event.
func (l *Limiter) Check(ctx context.Context, scope, id string, rule Rule) error {
	if rule.Max <= 0 {
		return nil
	}
	key := l.key(scope, id)
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count < int64(rule.Max) {
		return nil
	}
	wait, err := l.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if wait <= 0 {
		wait = rule.Window
	}
	return &LimitedError{RetryAfter: wait}
}

// Reset clears the counter for scope/id.
func (l *Limiter) Reset(ctx context.Context, scope, id string) error {
	if err := l.redis.Del(ctx, l.key(scope, id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
