package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is a point-in-time view of a binary market in YES terms.
type MarketSnapshot struct {
	MarketID       string          `json:"market_id"`
	Bid            decimal.Decimal `json:"bid"`
	Ask            decimal.Decimal `json:"ask"`
	Last           decimal.Decimal `json:"last"`
	Volume         int64           `json:"volume"`
	SettlementTime time.Time       `json:"settlement_time"`
	FetchedAt      time.Time       `json:"fetched_at"`
}

// Spread returns Ask - Bid.
func (s MarketSnapshot) Spread() decimal.Decimal {
	return s.Ask.Sub(s.Bid)
}

// MarkFor returns the price the holder of side could exit at: the bid for
// yes, the ask for no. It falls back to the last trade when that side of
// the book is empty.
func (s MarketSnapshot) MarkFor(side Side) decimal.Decimal {
	px := s.Bid
	if side == SideNo {
		px = s.Ask
	}
	if px.IsPositive() {
		return px
	}
	return s.Last
}

// BestExitPrice returns the touch price, in YES terms, an exit order for
// side starts from. Selling no at the no bid is the yes ask.
func (s MarketSnapshot) BestExitPrice(side Side) decimal.Decimal {
	return s.MarkFor(side)
}

// Valid reports whether the snapshot carries a usable price.
func (s MarketSnapshot) Valid() bool {
	return s.Bid.IsPositive() || s.Ask.IsPositive() || s.Last.IsPositive()
}
