package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/precog-trading/precog/internal/domain"
)

// TierPolicy describes how orders for one priority tier are placed and walked.
type TierPolicy struct {
	// Market sends market orders only and skips limit walking.
	Market bool
	// OffsetTicks is added to the touch price in the crossing direction for
	// the first limit order. Positive is more aggressive.
	OffsetTicks int
	// Timeout bounds how long one submission may rest before it is cancelled.
	Timeout time.Duration
	// MaxAttempts is the number of limit submissions, including the first.
	MaxAttempts int
	// EscalateToMarket sends a market order once the limit walk is spent.
	// Without it the exit is abandoned.
	EscalateToMarket bool
}

// Policy holds the tier table and the walking parameters.
type Policy struct {
	TickSize         decimal.Decimal
	PollInterval     time.Duration
	MaxMarketRetries int
	MinPrice         decimal.Decimal
	MaxPrice         decimal.Decimal
	Tiers            map[domain.Priority]TierPolicy
}

// pollsPerAttempt caps fill-status polls for one resting order, so long
// tiers poll less often and stay inside the shared outbound budget.
const pollsPerAttempt = 10

// pollEvery returns the fill-status poll interval for an order resting up
// to timeout: PollInterval, stretched to timeout/pollsPerAttempt.
func (p Policy) pollEvery(timeout time.Duration) time.Duration {
	return max(p.PollInterval, timeout/pollsPerAttempt)
}

// DefaultPolicy returns the production tier table.
func DefaultPolicy() Policy {
	return Policy{
		TickSize:         decimal.RequireFromString("0.01"),
		PollInterval:     time.Second,
		MaxMarketRetries: 3,
		MinPrice:         decimal.RequireFromString("0.01"),
		MaxPrice:         decimal.RequireFromString("0.99"),
		Tiers: map[domain.Priority]TierPolicy{
			domain.PriorityCritical: {Market: true, Timeout: 5 * time.Second},
			domain.PriorityHigh:     {OffsetTicks: 1, Timeout: 10 * time.Second, MaxAttempts: 2, EscalateToMarket: true},
			domain.PriorityMedium:   {OffsetTicks: 0, Timeout: 30 * time.Second, MaxAttempts: 5},
			domain.PriorityLow:      {OffsetTicks: -1, Timeout: 60 * time.Second, MaxAttempts: 10},
		},
	}
}

// Validate checks that every tier is usable.
func (p Policy) Validate() error {
	var errs []string
	if !p.TickSize.IsPositive() {
		errs = append(errs, "tick_size must be positive")
	}
	if p.PollInterval <= 0 {
		errs = append(errs, "poll_interval must be positive")
	}
	if p.MaxMarketRetries < 0 {
		errs = append(errs, "max_market_retries must be >= 0")
	}
	if !p.MinPrice.IsPositive() || !p.MaxPrice.GreaterThan(p.MinPrice) || p.MaxPrice.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "price bounds must satisfy 0 < min < max < 1")
	}
	for _, pr := range []domain.Priority{domain.PriorityCritical, domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow} {
		t, ok := p.Tiers[pr]
		if !ok {
			errs = append(errs, fmt.Sprintf("tier %s is missing", pr))
			continue
		}
		if t.Timeout <= 0 {
			errs = append(errs, fmt.Sprintf("tier %s: timeout must be positive", pr))
		}
		if !t.Market && t.MaxAttempts < 1 {
			errs = append(errs, fmt.Sprintf("tier %s: max_attempts must be >= 1", pr))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("executor policy invalid:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// marketTimeout is the wait applied to every market order.
func (p Policy) marketTimeout() time.Duration {
	return p.Tiers[domain.PriorityCritical].Timeout
}

// crossing returns the sign of a price move, in YES terms, that makes a sell
// of side more likely to fill. Selling yes means asking less; selling no
// means the yes-equivalent price rises.
func crossing(side domain.Side) decimal.Decimal {
	if side == domain.SideNo {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// limitPrice returns the price for the n-th (zero-based) limit submission.
func (p Policy) limitPrice(side domain.Side, touch decimal.Decimal, t TierPolicy, n int) decimal.Decimal {
	ticks := decimal.NewFromInt(int64(t.OffsetTicks + n))
	px := touch.Add(p.TickSize.Mul(ticks).Mul(crossing(side)))
	if px.LessThan(p.MinPrice) {
		px = p.MinPrice
	}
	if px.GreaterThan(p.MaxPrice) {
		px = p.MaxPrice
	}
	return px.Round(domain.PriceScale)
}
