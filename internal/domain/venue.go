package domain

import "context"

// MarketFeed reads current market data.
type MarketFeed interface {
	Snapshot(ctx context.Context, marketID string) (MarketSnapshot, error)
}

// OrderVenue places and tracks exit orders.
type OrderVenue interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (orderID string, err error)
	FillStatus(ctx context.Context, orderID string) (FillStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
}
