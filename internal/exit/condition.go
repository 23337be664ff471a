// Package exit decides whether, how much, and how urgently a position should
// be exited. The Evaluator returns every currently-true exit condition, the
// resolver collapses them into one winner, and the Stager tracks which
// profit-taking stages have already fired.
package exit

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Thresholds holds the configured trigger levels. Percentages are
// fractions of cost basis (-0.15 means a 15% loss).
type Thresholds struct {
	StopLossPct     decimal.Decimal
	ProfitTargetPct decimal.Decimal

	Stage1Pct      decimal.Decimal
	Stage1Fraction decimal.Decimal
	Stage2Pct      decimal.Decimal
	Stage2Fraction decimal.Decimal

	// TimeUrgent is the time-to-settlement below which a losing position
	// is exited with HIGH priority.
	TimeUrgent time.Duration
	MaxSpread  decimal.Decimal
	MinVolume  int64

	// EarlyExitEdge is the edge below which a still-positive edge is
	// considered too thin to hold.
	EarlyExitEdge decimal.Decimal
}

// DefaultThresholds returns the stock trigger levels.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StopLossPct:     decimal.RequireFromString("-0.15"),
		ProfitTargetPct: decimal.RequireFromString("0.50"),
		Stage1Pct:       decimal.RequireFromString("0.15"),
		Stage1Fraction:  decimal.RequireFromString("0.50"),
		Stage2Pct:       decimal.RequireFromString("0.25"),
		Stage2Fraction:  decimal.RequireFromString("0.25"),
		TimeUrgent:      10 * time.Minute,
		MaxSpread:       decimal.RequireFromString("0.03"),
		MinVolume:       50,
		EarlyExitEdge:   decimal.RequireFromString("0.02"),
	}
}

// Validate checks the thresholds are internally consistent.
func (t Thresholds) Validate() error {
	if !t.StopLossPct.IsNegative() {
		return fmt.Errorf("exit: stop_loss_pct must be negative, got %s", t.StopLossPct)
	}
	if !t.ProfitTargetPct.IsPositive() {
		return fmt.Errorf("exit: profit_target_pct must be positive, got %s", t.ProfitTargetPct)
	}
	if !t.Stage1Pct.IsPositive() || t.Stage2Pct.LessThanOrEqual(t.Stage1Pct) {
		return fmt.Errorf("exit: stage thresholds must satisfy 0 < stage1 (%s) < stage2 (%s)", t.Stage1Pct, t.Stage2Pct)
	}
	one := decimal.NewFromInt(1)
	for name, f := range map[string]decimal.Decimal{"stage1_fraction": t.Stage1Fraction, "stage2_fraction": t.Stage2Fraction} {
		if !f.IsPositive() || f.GreaterThan(one) {
			return fmt.Errorf("exit: %s must be in (0, 1], got %s", name, f)
		}
	}
	if t.MaxSpread.IsNegative() {
		return fmt.Errorf("exit: max_spread must be >= 0, got %s", t.MaxSpread)
	}
	if t.MinVolume < 0 {
		return fmt.Errorf("exit: min_volume must be >= 0, got %d", t.MinVolume)
	}
	return nil
}
