package kalshi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/precog-trading/precog/internal/domain"
)

// --------------------------------------------------------------------------
// Kalshi API DTOs
// --------------------------------------------------------------------------

// KalshiMarket represents a market as returned by the Kalshi REST API.
// Prices are integer cents.
type KalshiMarket struct {
	Ticker         string `json:"ticker"`
	EventTicker    string `json:"event_ticker"`
	Title          string `json:"title"`
	Status         string `json:"status"` // "active", "closed", "settled"
	YesBid         int64  `json:"yes_bid"`
	YesAsk         int64  `json:"yes_ask"`
	NoBid          int64  `json:"no_bid"`
	NoAsk          int64  `json:"no_ask"`
	LastPrice      int64  `json:"last_price"`
	Volume         int64  `json:"volume"`
	Volume24H      int64  `json:"volume_24h"`
	OpenInterest   int64  `json:"open_interest"`
	CloseTime      string `json:"close_time"`
	ExpirationTime string `json:"expiration_time"`
	Result         string `json:"result"` // "yes", "no", "" (unsettled)
}

// KalshiOrder represents an order to be placed on the Kalshi exchange.
type KalshiOrder struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	Action        string `json:"action"` // "buy" or "sell"
	Side          string `json:"side"`   // "yes" or "no"
	Type          string `json:"type"`   // "market" or "limit"
	Count         int64  `json:"count"`
	YesPrice      *int64 `json:"yes_price,omitempty"` // cents (1-99)
	NoPrice       *int64 `json:"no_price,omitempty"`  // cents (1-99)
}

// KalshiOrderState is the order record returned by the portfolio endpoints.
type KalshiOrderState struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
	Action         string `json:"action"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	YesPrice       int64  `json:"yes_price"`
	NoPrice        int64  `json:"no_price"`
	RemainingCount int64  `json:"remaining_count"`
	TakerFillCount int64  `json:"taker_fill_count"`
	TakerFillCost  int64  `json:"taker_fill_cost"`
	MakerFillCount int64  `json:"maker_fill_count"`
	MakerFillCost  int64  `json:"maker_fill_cost"`
	LastUpdateTime string `json:"last_update_time"`
}

// FillCount is the number of contracts executed so far.
func (o KalshiOrderState) FillCount() int64 {
	return o.TakerFillCount + o.MakerFillCount
}

// KalshiOrderResponse wraps a single order in API responses.
type KalshiOrderResponse struct {
	Order KalshiOrderState `json:"order"`
}

// KalshiErrorResponse represents a Kalshi API error response.
type KalshiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is a non-2xx response. It unwraps to the matching domain
// sentinel so callers can branch with errors.Is.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kalshi: HTTP %d: %s (%s)", e.Status, e.Message, e.Code)
}

// Unwrap maps the HTTP status onto a domain error.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return domain.ErrNotFound
	case e.Status == http.StatusUnauthorized, e.Status == http.StatusForbidden:
		return domain.ErrUnauthorized
	case e.Status == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case e.Status == http.StatusBadRequest, e.Status == http.StatusConflict,
		e.Status == http.StatusUnprocessableEntity:
		return domain.ErrOrderRejected
	case e.Status >= 500:
		return domain.ErrVenueUnavailable
	default:
		return nil
	}
}

// IsAPIStatus reports whether err is an APIError with the given status.
func IsAPIStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// --------------------------------------------------------------------------
// Kalshi WebSocket DTOs
// --------------------------------------------------------------------------

// KalshiWSMessage is the envelope for Kalshi WebSocket messages.
type KalshiWSMessage struct {
	Type string          `json:"type"` // "ticker", "subscribed", "error", ...
	Msg  json.RawMessage `json:"msg"`
	SID  int64           `json:"sid"`
}

// KalshiWSTicker is a top-of-book update from the ticker channel. Prices are
// cents.
type KalshiWSTicker struct {
	Ticker string `json:"market_ticker"`
	Price  int64  `json:"price"`
	YesBid int64  `json:"yes_bid"`
	YesAsk int64  `json:"yes_ask"`
	Volume int64  `json:"volume"`
	TS     int64  `json:"ts"`
}

// KalshiWSSubscribeCmd is the command sent to subscribe to Kalshi WebSocket channels.
type KalshiWSSubscribeCmd struct {
	ID     int64                   `json:"id"`
	Cmd    string                  `json:"cmd"` // "subscribe" or "unsubscribe"
	Params KalshiWSSubscribeParams `json:"params"`
}

// KalshiWSSubscribeParams defines the subscription parameters.
type KalshiWSSubscribeParams struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers"`
}
