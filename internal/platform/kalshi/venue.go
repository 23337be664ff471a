package kalshi

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/precog-trading/precog/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Venue adapts Client to domain.MarketFeed and domain.OrderVenue. Every
// order it places is a sell of the held side; prices cross the boundary in
// YES terms and are converted to the held side's cents here.
type Venue struct {
	client *Client
	now    func() time.Time
}

// NewVenue wraps client.
func NewVenue(client *Client) *Venue {
	return &Venue{client: client, now: func() time.Time { return time.Now().UTC() }}
}

// Snapshot reads the market's top of book, last trade, 24h volume and close
// time in a single call.
func (v *Venue) Snapshot(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	m, err := v.client.GetMarket(ctx, marketID)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	snap := domain.MarketSnapshot{
		MarketID:  marketID,
		Bid:       fromCents(m.YesBid),
		Ask:       fromCents(m.YesAsk),
		Last:      fromCents(m.LastPrice),
		Volume:    m.Volume24H,
		FetchedAt: v.now(),
	}
	closeTime := m.CloseTime
	if closeTime == "" {
		closeTime = m.ExpirationTime
	}
	if closeTime != "" {
		t, err := time.Parse(time.RFC3339, closeTime)
		if err != nil {
			return domain.MarketSnapshot{}, fmt.Errorf("kalshi: parse close_time %q: %w", closeTime, err)
		}
		snap.SettlementTime = t.UTC()
	}
	return snap, nil
}

// PlaceOrder sells req.Quantity contracts of req.Side. Market orders carry a
// 1 cent floor so they execute against any resting bid.
func (v *Venue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	order := KalshiOrder{
		Ticker:        req.MarketID,
		ClientOrderID: req.ClientID,
		Action:        "sell",
		Side:          string(req.Side),
		Type:          string(req.Type),
		Count:         req.Quantity,
	}

	var cents int64 = 1
	if req.Type == domain.OrderTypeLimit {
		if req.Price == nil {
			return "", fmt.Errorf("kalshi: place order %s: limit order without price: %w", req.ClientID, domain.ErrInvalidOrder)
		}
		cents = sideCents(req.Side, *req.Price)
	}
	if req.Side == domain.SideNo {
		order.NoPrice = &cents
	} else {
		order.YesPrice = &cents
	}

	st, err := v.client.PlaceOrder(ctx, order)
	if err != nil {
		return "", err
	}
	return st.OrderID, nil
}

// FillStatus maps the order's venue state. A cancelled order with no
// remaining quantity counts as filled.
func (v *Venue) FillStatus(ctx context.Context, orderID string) (domain.FillStatus, error) {
	st, err := v.client.GetOrder(ctx, orderID)
	if err != nil {
		return domain.FillStatus{}, err
	}
	return fillStatus(st), nil
}

// CancelOrder cancels a resting order.
func (v *Venue) CancelOrder(ctx context.Context, orderID string) error {
	return v.client.CancelOrder(ctx, orderID)
}

func fillStatus(st KalshiOrderState) domain.FillStatus {
	fs := domain.FillStatus{FilledQuantity: st.FillCount()}
	if n := st.FillCount(); n > 0 {
		avg := decimal.NewFromInt(st.TakerFillCost + st.MakerFillCost).
			Div(decimal.NewFromInt(n)).
			Div(hundred)
		if domain.Side(st.Side) == domain.SideNo {
			avg = decimal.NewFromInt(1).Sub(avg)
		}
		fs.AvgPrice = avg.Round(domain.PriceScale)
	}

	switch st.Status {
	case "executed":
		fs.State = domain.FillFilled
	case "canceled":
		if st.RemainingCount == 0 && fs.FilledQuantity > 0 {
			fs.State = domain.FillFilled
		} else {
			fs.State = domain.FillTimedOut
		}
	default:
		fs.State = domain.FillPending
	}
	return fs
}

// sideCents converts a YES-terms price into integer cents of side, clamped
// to the tradable 1..99 range.
func sideCents(side domain.Side, yesPrice decimal.Decimal) int64 {
	px := yesPrice
	if side == domain.SideNo {
		px = decimal.NewFromInt(1).Sub(yesPrice)
	}
	c := px.Mul(hundred).Round(0).IntPart()
	if c < 1 {
		return 1
	}
	if c > 99 {
		return 99
	}
	return c
}

func fromCents(c int64) decimal.Decimal {
	return decimal.NewFromInt(c).Div(hundred)
}

// Compile-time interface checks.
var (
	_ domain.MarketFeed = (*Venue)(nil)
	_ domain.OrderVenue = (*Venue)(nil)
)
