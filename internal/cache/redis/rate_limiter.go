package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/precog-trading/precog/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// minWait and maxWait bound how long Wait sleeps between attempts.
const (
	minWait = 10 * time.Millisecond
	maxWait = 5 * time.Second
)

// RateLimiter implements domain.RateLimiter using a sliding window kept in a
// Redis sorted set and updated by an atomic Lua script, so every engine
// instance draws from the same budget.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:           c.rdb,
		slidingWindow: redis.NewScript(slidingWindowLua),
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// take runs the script once and returns whether the call was admitted and,
// if not, how long until the oldest call leaves the window.
func (rl *RateLimiter) take(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	if limit <= 0 || window <= 0 {
		return false, 0, fmt.Errorf("redis: rate limit %s: invalid limit %d per %s", key, limit, window)
	}

	result, err := rl.slidingWindow.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, 0, fmt.Errorf("redis: rate limit %s: unexpected result length %d", key, len(result))
	}

	return result[0] == 1, time.Duration(result[1]) * time.Microsecond, nil
}

// Allow reports whether a call for key fits in the window, counting it if
// so.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ok, _, err := rl.take(ctx, key, limit, window)
	return ok, err
}

// Wait blocks until a call for key is admitted or ctx is done. It sleeps
// until the oldest counted call is due to leave the window.
func (rl *RateLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	for {
		ok, retry, err := rl.take(ctx, key, limit, window)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		retry = min(max(retry, minWait), maxWait)
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
