// Package kalshi is the REST and WebSocket client for the Kalshi exchange,
// plus the adapter that exposes it as the engine's market feed and order venue.
package kalshi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	requestTimeout = 15 * time.Second
	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20
	userAgent        = "precog-exit-engine"
)

// Client talks to the Kalshi trade API. Every request is signed, so a key
// must be loaded with SetRSAPrivateKey before use.
type Client struct {
	baseURL string
	http    *http.Client
	signer  signer
}

// NewClient returns a client for the API root baseURL, for example
// "https://api.elections.kalshi.com/trade-api/v2".
func NewClient(baseURL, apiKeyID string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		signer:  signer{keyID: apiKeyID, now: time.Now},
	}
}

// SetRSAPrivateKey loads the PEM-encoded signing key.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	key, err := parseRSAKey(pemBytes)
	if err != nil {
		return err
	}
	c.signer.key = key
	return nil
}

// AuthHeaders signs a request made outside this client, such as the
// WebSocket upgrade.
func (c *Client) AuthHeaders(method, path string) (http.Header, error) {
	return c.signer.headers(method, path)
}

func (c *Client) GetMarket(ctx context.Context, ticker string) (KalshiMarket, error) {
	resp, err := call[struct {
		Market KalshiMarket `json:"market"`
	}](ctx, c, http.MethodGet, "/markets/"+url.PathEscape(ticker), nil)
	if err != nil {
		return KalshiMarket{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}
	return resp.Market, nil
}

// PlaceOrder submits order and returns the venue's view of it.
func (c *Client) PlaceOrder(ctx context.Context, order KalshiOrder) (KalshiOrderState, error) {
	resp, err := call[KalshiOrderResponse](ctx, c, http.MethodPost, "/portfolio/orders", order)
	if err != nil {
		return KalshiOrderState{}, fmt.Errorf("kalshi: place order %s: %w", order.ClientOrderID, err)
	}
	if resp.Order.OrderID == "" {
		return KalshiOrderState{}, fmt.Errorf("kalshi: place order %s: response has no order id", order.ClientOrderID)
	}
	return resp.Order, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (KalshiOrderState, error) {
	resp, err := call[KalshiOrderResponse](ctx, c, http.MethodGet, "/portfolio/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return KalshiOrderState{}, fmt.Errorf("kalshi: get order %s: %w", orderID, err)
	}
	return resp.Order, nil
}

// CancelOrder cancels orderID. A 404 means the order already reached a
// final state and is not reported.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/portfolio/orders/"+url.PathEscape(orderID), nil)
	if err != nil && !IsAPIStatus(err, http.StatusNotFound) {
		return fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}
	return nil
}

// call performs a request and decodes a JSON response into T.
func call[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var out T
	raw, err := c.do(ctx, method, path, body)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// do sends a signed request and returns the body of a 2xx response. Other
// statuses come back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	auth, err := c.signer.headers(method, req.URL.Path)
	if err != nil {
		return nil, err
	}
	req.Header = auth
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, newAPIError(resp.StatusCode, raw)
	}
	return raw, nil
}

func newAPIError(status int, body []byte) *APIError {
	var er KalshiErrorResponse
	_ = json.Unmarshal(body, &er)
	return &APIError{Status: status, Code: er.Error.Code, Message: er.Error.Message}
}
