package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCounterUnavailable wraps Redis failures so callers can fail closed
// without inspecting driver errors.
var ErrCounterUnavailable = errors.New("counter store unavailable")

// Result reports the outcome of one consume attempt.
type Result struct {
	Allowed bool
	// Count is the bucket value after this attempt's increment.
	Count int64
	// RetryAfter is how long until the window resets. Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter enforces fixed-window limits over Redis counters. Buckets are
// namespaced per endpoint class so abuse of one endpoint cannot exhaust
// another's quota.
type Limiter struct {
	redis redis.UniversalClient
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient) *Limiter {
	return &Limiter{redis: redisClient}
}

func bucketKey(class, clientKey string) string {
	return "rl:" + class + ":" + clientKey
}

// TryConsume spends one unit from the bucket. The increment happens before
// the comparison and is never rolled back on rejection.
func (l *Limiter) TryConsume(ctx context.Context, class, clientKey string, limit int, window time.Duration) (Result, error) {
	key := bucketKey(class, clientKey)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}

	// First hit in the window arms the reset TTL.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, window).Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
		}
	}

	if count <= int64(limit) {
		return Result{Allowed: true, Count: count}, nil
	}

	retryAfter, err := l.redis.PTTL(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	if retryAfter < 0 {
		retryAfter = window
	}

	return Result{Allowed: false, Count: count, RetryAfter: retryAfter}, nil
}

// Peek reads the bucket without consuming. Missing buckets report zero and
// do not reveal whether the client key exists.
func (l *Limiter) Peek(ctx context.Context, class, clientKey string) (int64, error) {
	count, err := l.redis.Get(ctx, bucketKey(class, clientKey)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return count, nil
}

// Reset clears the bucket, e.g. after a successful login.
func (l *Limiter) Reset(ctx context.Context, class, clientKey string) error {
	if err := l.redis.Del(ctx, bucketKey(class, clientKey)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return nil
}
