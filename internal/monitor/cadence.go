package monitor

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/precog-trading/precog/internal/domain"
	"github.com/precog-trading/precog/internal/exit"
)

// Cadence selects how often a position is ticked.
type Cadence struct {
	Normal time.Duration
	Urgent time.Duration
	// Proximity is the relative distance to a threshold that engages the
	// urgent cadence (0.02 means within 2%).
	Proximity decimal.Decimal
}

// DefaultCadence returns 30s normal, 5s urgent within 2%.
func DefaultCadence() Cadence {
	return Cadence{
		Normal:    30 * time.Second,
		Urgent:    5 * time.Second,
		Proximity: decimal.RequireFromString("0.02"),
	}
}

// NextInterval returns the delay before pos should be ticked again. It is
// urgent when the current price is near the stop-loss level, the active
// trailing stop, or the profit target.
func (c Cadence) NextInterval(pos *domain.Position, th exit.Thresholds) time.Duration {
	if !pos.CurrentPrice.IsPositive() {
		return c.Normal
	}

	levels := []decimal.Decimal{
		pos.PriceAtPnLPct(th.StopLossPct),
		pos.PriceAtPnLPct(th.ProfitTargetPct),
	}
	if pos.TrailingStop.IsActive() {
		levels = append(levels, pos.TrailingStop.CurrentStopPrice)
	}

	for _, level := range levels {
		if c.near(pos.CurrentPrice, level) {
			return c.Urgent
		}
	}
	return c.Normal
}

func (c Cadence) near(price, level decimal.Decimal) bool {
	if !level.IsPositive() {
		return false
	}
	return price.Sub(level).Abs().Div(level).LessThanOrEqual(c.Proximity)
}
