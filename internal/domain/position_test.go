package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPosition_MarkYes(t *testing.T) {
	p := Position{ID: "p1", Side: SideYes, EntryPrice: d("0.55"), Quantity: 100, OriginalQuantity: 100}
	now := time.Now()

	p.Mark(d("0.45"), now)

	assert.True(t, p.CurrentPrice.Equal(d("0.45")))
	assert.True(t, p.UnrealizedPnL.Equal(d("-10")), "got %s", p.UnrealizedPnL)
	assert.True(t, p.UnrealizedPnLPct.Equal(d("-0.1818")), "got %s", p.UnrealizedPnLPct)
	assert.Equal(t, now, p.LastUpdate)
}

func TestPosition_MarkNoIsMirrored(t *testing.T) {
	// Holding NO at a yes price of 0.60 costs 0.40 per contract.
	p := Position{ID: "p1", Side: SideNo, EntryPrice: d("0.60"), Quantity: 10, OriginalQuantity: 10}

	p.Mark(d("0.50"), time.Now())

	assert.True(t, p.UnrealizedPnL.Equal(d("1")), "got %s", p.UnrealizedPnL)
	assert.True(t, p.UnrealizedPnLPct.Equal(d("0.25")), "got %s", p.UnrealizedPnLPct)
	assert.True(t, p.IsFavorable(d("0.50"), d("0.49")))
	assert.False(t, p.IsFavorable(d("0.50"), d("0.51")))
}

func TestPosition_PriceAtPnLPct(t *testing.T) {
	yes := Position{Side: SideYes, EntryPrice: d("0.50")}
	assert.True(t, yes.PriceAtPnLPct(d("-0.15")).Equal(d("0.425")))
	assert.True(t, yes.PriceAtPnLPct(d("0.10")).Equal(d("0.55")))

	no := Position{Side: SideNo, EntryPrice: d("0.60")}
	// 25% profit on a 0.40 basis is a 0.10 drop in the yes price.
	assert.True(t, no.PriceAtPnLPct(d("0.25")).Equal(d("0.50")))
}

func TestPosition_ApplyFill(t *testing.T) {
	now := time.Now()

	t.Run("partial then close", func(t *testing.T) {
		p := Position{ID: "p1", Side: SideYes, EntryPrice: d("0.50"), Quantity: 10, OriginalQuantity: 10, Status: PositionStatusOpen}

		require.NoError(t, p.ApplyFill(4, d("0.60"), now))
		assert.Equal(t, int64(6), p.Quantity)
		assert.Equal(t, PositionStatusPartiallyExited, p.Status)
		assert.True(t, p.RealizedPnL.Equal(d("0.4")))
		assert.Nil(t, p.ClosedAt)

		require.NoError(t, p.ApplyFill(6, d("0.55"), now))
		assert.Equal(t, int64(0), p.Quantity)
		assert.Equal(t, PositionStatusClosed, p.Status)
		assert.True(t, p.RealizedPnL.Equal(d("0.7")))
		require.NotNil(t, p.ClosedAt)
	})

	t.Run("overfill is an invariant violation", func(t *testing.T) {
		p := Position{ID: "p1", Side: SideYes, EntryPrice: d("0.50"), Quantity: 3, Status: PositionStatusOpen}

		err := p.ApplyFill(4, d("0.60"), now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrQuantityInvariant))
		assert.Equal(t, int64(3), p.Quantity)
		assert.Equal(t, PositionStatusOpen, p.Status)
	})
}

func TestPriority_Order(t *testing.T) {
	assert.Greater(t, PriorityCritical, PriorityHigh)
	assert.Greater(t, PriorityHigh, PriorityMedium)
	assert.Greater(t, PriorityMedium, PriorityLow)
	for _, c := range ExitConditions {
		assert.NotEqual(t, PriorityNone, c.Priority(), string(c))
		assert.Equal(t, c.Priority(), ParsePriority(c.Priority().String()))
	}
}
