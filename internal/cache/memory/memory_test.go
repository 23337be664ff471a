package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precog-trading/precog/internal/domain"
)

func TestSnapshotCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewSnapshotCache(10 * time.Second)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.GetSnapshot(ctx, "MKT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, c.SetSnapshot(ctx, domain.MarketSnapshot{MarketID: "MKT", Bid: decimal.RequireFromString("0.41")}))

	now = now.Add(9 * time.Second)
	snap, err := c.GetSnapshot(ctx, "MKT")
	require.NoError(t, err)
	assert.True(t, snap.Bid.Equal(decimal.RequireFromString("0.41")))

	now = now.Add(time.Second)
	_, err = c.GetSnapshot(ctx, "MKT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRateLimiter_CapsBurstAtLimit(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter()

	allowed := 0
	for i := 0; i < 100; i++ {
		ok, err := rl.Allow(ctx, "precog:outbound", 60, time.Minute)
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 60, allowed)

	// Separate keys have separate budgets.
	ok, err := rl.Allow(ctx, "other", 60, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter()
	ctx := context.Background()
	require.NoError(t, rl.Wait(ctx, "k", 1, time.Hour))

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx, "k", 1, time.Hour))

	_, err := rl.Allow(context.Background(), "k", 0, time.Minute)
	assert.Error(t, err)
}
