// Package trailing implements the per-position trailing-stop ratchet.
//
// The state machine moves inactive -> active once the price crosses the
// activation level in the holder's favor, ratchets the stop behind every new
// peak, and moves active -> triggered when the price crosses the stop
// against the holder. The stop only ever tightens.
package trailing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/precog-trading/precog/internal/domain"
)

// Config holds the trailing-stop parameters applied to new positions.
type Config struct {
	Enabled bool
	// ActivationPct is the unrealized P&L fraction at which trailing starts.
	ActivationPct decimal.Decimal
	Distance      domain.TrailingDistance
}

// Validate checks the distance is usable.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !c.Distance.Value.IsPositive() {
		return fmt.Errorf("trailing: distance must be > 0, got %s", c.Distance.Value)
	}
	switch c.Distance.Kind {
	case domain.DistanceAbsolute:
	case domain.DistancePercent:
		if c.Distance.Value.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("trailing: percent distance must be < 1, got %s", c.Distance.Value)
		}
	default:
		return fmt.Errorf("trailing: unknown distance kind %q", c.Distance.Kind)
	}
	return nil
}

// Transition describes what a single Update did.
type Transition string

const (
	TransitionNone      Transition = ""
	TransitionActivated Transition = "activated"
	TransitionRatcheted Transition = "ratcheted"
	TransitionTriggered Transition = "triggered"
)

// New returns the initial inactive state for pos.
func New(pos *domain.Position, cfg Config) domain.TrailingStopState {
	st := domain.TrailingStopState{
		Enabled:  cfg.Enabled,
		State:    domain.TrailingInactive,
		Distance: cfg.Distance,
	}
	if cfg.Enabled {
		st.ActivationPrice = pos.PriceAtPnLPct(cfg.ActivationPct)
	}
	return st
}

// Update advances st for a new observed price. It never loosens the stop.
func Update(st domain.TrailingStopState, side domain.Side, price decimal.Decimal, now time.Time) (domain.TrailingStopState, Transition) {
	if !st.Enabled {
		return st, TransitionNone
	}

	switch st.State {
	case domain.TrailingInactive, "":
		if !reached(side, price, st.ActivationPrice) {
			return st, TransitionNone
		}
		st.State = domain.TrailingActive
		st.PeakPrice = price
		st.CurrentStopPrice = StopFor(side, price, st.Distance)
		activated := now
		st.ActivatedAt = &activated
		return st, TransitionActivated

	case domain.TrailingActive:
		tr := TransitionNone
		if favorable(side, st.PeakPrice, price) {
			st.PeakPrice = price
			if candidate := StopFor(side, price, st.Distance); favorable(side, st.CurrentStopPrice, candidate) {
				st.CurrentStopPrice = candidate
				tr = TransitionRatcheted
			}
		}
		if reached(side, st.CurrentStopPrice, price) {
			st.State = domain.TrailingTriggered
			triggered := now
			st.TriggeredAt = &triggered
			return st, TransitionTriggered
		}
		return st, tr

	default:
		return st, TransitionNone
	}
}

// StopFor computes the stop that trails peak by distance for side.
func StopFor(side domain.Side, peak decimal.Decimal, dist domain.TrailingDistance) decimal.Decimal {
	gap := dist.Value
	if dist.Kind == domain.DistancePercent {
		gap = peak.Mul(dist.Value)
	}
	if side == domain.SideNo {
		return peak.Add(gap).Round(domain.PriceScale)
	}
	return peak.Sub(gap).Round(domain.PriceScale)
}

// favorable reports whether to is strictly better than from for the holder.
func favorable(side domain.Side, from, to decimal.Decimal) bool {
	if side == domain.SideNo {
		return to.LessThan(from)
	}
	return to.GreaterThan(from)
}

// reached reports whether a has reached or passed b in the holder's favor.
func reached(side domain.Side, a, b decimal.Decimal) bool {
	if side == domain.SideNo {
		return a.LessThanOrEqual(b)
	}
	return a.GreaterThanOrEqual(b)
}
