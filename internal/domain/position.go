package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of fractional digits kept on every price and P&L
// value.
const PriceScale int32 = 4

// Side is the contract held on a binary market.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// PositionStatus tracks where a position is in its lifecycle.
type PositionStatus string

const (
	PositionStatusOpen            PositionStatus = "open"
	PositionStatusPartiallyExited PositionStatus = "partially_exited"
	PositionStatusClosed          PositionStatus = "closed"
)

// PartialExitStages records which profit-taking stages have fired.
type PartialExitStages struct {
	Stage1 bool `json:"stage1"`
	Stage2 bool `json:"stage2"`
}

// Position is a currently-or-formerly open trade. Prices are quoted in YES
// terms: a yes position is long the price and a no position is its mirror.
type Position struct {
	ID               string
	MarketID         string
	Side             Side
	Quantity         int64
	OriginalQuantity int64

	EntryPrice       decimal.Decimal
	CurrentPrice     decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	UnrealizedPnLPct decimal.Decimal
	RealizedPnL      decimal.Decimal

	// ModelProbability is the upstream model's probability of YES. Nil when
	// no model estimate is available.
	ModelProbability *decimal.Decimal

	Status       PositionStatus
	LastUpdate   time.Time
	ExitReason   ExitCondition
	ExitPriority Priority

	TrailingStop TrailingStopState
	Stages       PartialExitStages

	Halted     bool
	HaltReason string

	Strategy string
	OpenedAt time.Time
	ClosedAt *time.Time
}

// Direction is +1 for yes and -1 for no.
func (p *Position) Direction() decimal.Decimal {
	if p.Side == SideNo {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// CostBasis is the per-contract cost of the position.
func (p *Position) CostBasis() decimal.Decimal {
	if p.Side == SideNo {
		return decimal.NewFromInt(1).Sub(p.EntryPrice)
	}
	return p.EntryPrice
}

// PnLPerContract returns the profit of one contract at the given price.
func (p *Position) PnLPerContract(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.EntryPrice).Mul(p.Direction())
}

// PnLPct returns the unrealized P&L fraction at the given price.
func (p *Position) PnLPct(price decimal.Decimal) decimal.Decimal {
	basis := p.CostBasis()
	if basis.IsZero() {
		return decimal.Zero
	}
	return p.PnLPerContract(price).DivRound(basis, PriceScale)
}

// PriceAtPnLPct converts a P&L fraction into the yes-terms price at which
// the position would realize it.
func (p *Position) PriceAtPnLPct(pct decimal.Decimal) decimal.Decimal {
	move := p.CostBasis().Mul(pct).Mul(p.Direction())
	return p.EntryPrice.Add(move).Round(PriceScale)
}

// IsFavorable reports whether moving from -> to is in the holder's favor.
func (p *Position) IsFavorable(from, to decimal.Decimal) bool {
	if p.Side == SideNo {
		return to.LessThan(from)
	}
	return to.GreaterThan(from)
}

// Mark records a new current price and recomputes unrealized P&L.
func (p *Position) Mark(price decimal.Decimal, now time.Time) {
	p.CurrentPrice = price.Round(PriceScale)
	p.UnrealizedPnL = p.PnLPerContract(p.CurrentPrice).Mul(decimal.NewFromInt(p.Quantity)).Round(PriceScale)
	p.UnrealizedPnLPct = p.PnLPct(p.CurrentPrice)
	p.LastUpdate = now
}

// ApplyFill removes qty contracts filled at price. The position becomes
// partially_exited, or closed when nothing remains.
func (p *Position) ApplyFill(qty int64, price decimal.Decimal, now time.Time) error {
	if qty <= 0 {
		return fmt.Errorf("domain: apply fill %s: non-positive quantity %d", p.ID, qty)
	}
	if p.Quantity-qty < 0 {
		return fmt.Errorf("domain: apply fill %s: %d of %d: %w", p.ID, qty, p.Quantity, ErrQuantityInvariant)
	}

	p.Quantity -= qty
	realized := p.PnLPerContract(price).Mul(decimal.NewFromInt(qty))
	p.RealizedPnL = p.RealizedPnL.Add(realized).Round(PriceScale)
	p.UnrealizedPnL = p.PnLPerContract(p.CurrentPrice).Mul(decimal.NewFromInt(p.Quantity)).Round(PriceScale)
	p.LastUpdate = now

	if p.Quantity == 0 {
		p.Status = PositionStatusClosed
		closed := now
		p.ClosedAt = &closed
	} else {
		p.Status = PositionStatusPartiallyExited
	}
	return nil
}

// Halt stops all further automated handling of the position.
func (p *Position) Halt(reason string) {
	p.Halted = true
	p.HaltReason = reason
}

// IsTerminal reports whether the monitor should stop driving the position.
func (p *Position) IsTerminal() bool {
	return p.Status == PositionStatusClosed || p.Halted
}
