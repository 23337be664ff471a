package domain

import (
	"github.com/shopspring/decimal"
)

// OrderType distinguishes resting limit orders from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderRequest is an exit order: a sell of Quantity contracts of Side.
// Price is in YES terms and nil for market orders.
type OrderRequest struct {
	ClientID string
	MarketID string
	Side     Side
	Type     OrderType
	Price    *decimal.Decimal
	Quantity int64
}

// FillState is the venue-reported state of a submitted order.
type FillState string

const (
	FillPending  FillState = "pending"
	FillFilled   FillState = "filled"
	FillTimedOut FillState = "timed_out"
	FillRejected FillState = "rejected"
)

// FillStatus is the answer to a fill-status poll. FilledQuantity may be
// positive while the state is still pending (a partial fill).
type FillStatus struct {
	State          FillState
	FilledQuantity int64
	AvgPrice       decimal.Decimal
	Reason         string
}

// Done reports whether the order can no longer change.
func (f FillStatus) Done() bool {
	return f.State == FillFilled || f.State == FillRejected || f.State == FillTimedOut
}
