package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/precog-trading/precog/internal/domain"
)

type limiterKey struct {
	key    string
	limit  int
	window time.Duration
}

// RateLimiter implements domain.RateLimiter with one token bucket per key.
// A bucket refills at limit/window and holds at most limit tokens.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[limiterKey]*rate.Limiter
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[limiterKey]*rate.Limiter)}
}

func (rl *RateLimiter) get(key string, limit int, window time.Duration) *rate.Limiter {
	k := limiterKey{key: key, limit: limit, window: window}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[k]
	if !ok {
		l = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		rl.limiters[k] = l
	}
	return l
}

// Allow reports whether one call for key fits under the limit now.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, fmt.Errorf("memory: rate limit %s: invalid limit %d per %s", key, limit, window)
	}
	return rl.get(key, limit, window).Allow(), nil
}

// Wait blocks until one call for key fits under the limit.
func (rl *RateLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return fmt.Errorf("memory: rate limit %s: invalid limit %d per %s", key, limit, window)
	}
	if err := rl.get(key, limit, window).Wait(ctx); err != nil {
		return fmt.Errorf("memory: rate limit wait %s: %w", key, err)
	}
	return nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
