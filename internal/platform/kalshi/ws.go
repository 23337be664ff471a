package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	// kalshiWriteWait is the time allowed to write a message to the peer.
	kalshiWriteWait = 10 * time.Second

	// kalshiPongWait is the time allowed to read the next pong message.
	kalshiPongWait = 30 * time.Second

	// kalshiPingPeriod sends pings at this interval. Must be less than pongWait.
	kalshiPingPeriod = (kalshiPongWait * 9) / 10

	// kalshiReconnectDelay is the base delay before attempting to reconnect.
	kalshiReconnectDelay = 2 * time.Second

	// kalshiMaxReconnectDelay caps the exponential backoff.
	kalshiMaxReconnectDelay = 60 * time.Second
)

var errNoHandler = errors.New("kalshi/ws: no quote handler")

// Quote is a top-of-book update in YES terms.
type Quote struct {
	MarketID string
	Bid      decimal.Decimal
	Ask      decimal.Decimal
}

// QuoteHandler receives every streamed quote.
type QuoteHandler func(ctx context.Context, q Quote)

// HeaderSigner produces authentication headers for the handshake.
type HeaderSigner interface {
	AuthHeaders(method, path string) (http.Header, error)
}

// WSClient streams ticker updates for the markets it has been asked to
// watch and reconnects with exponential backoff until its context ends.
type WSClient struct {
	wsURL   string
	signer  HeaderSigner
	handler QuoteHandler
	logger  *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	tickers map[string]struct{}
	cmdID   int64
}

// NewWSClient creates a new Kalshi WebSocket client.
//
// wsURL is the WebSocket endpoint, e.g. "wss://api.elections.kalshi.com/trade-api/ws/v2".
// signer may be nil for unauthenticated endpoints.
func NewWSClient(wsURL string, signer HeaderSigner, handler QuoteHandler, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:   wsURL,
		signer:  signer,
		handler: handler,
		logger:  logger.With(slog.String("component", "kalshi_ws")),
		tickers: make(map[string]struct{}),
	}
}

// Watch adds tickers to the subscription set. New tickers are subscribed
// immediately when connected and on every reconnect.
func (w *WSClient) Watch(tickers ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var added []string
	for _, t := range tickers {
		if _, ok := w.tickers[t]; !ok {
			w.tickers[t] = struct{}{}
			added = append(added, t)
		}
	}
	if len(added) == 0 || w.conn == nil {
		return nil
	}
	if err := w.sendSubscribe(added); err != nil {
		return fmt.Errorf("kalshi/ws: subscribe: %w", err)
	}
	return nil
}

// Run connects and reads until ctx is cancelled, reconnecting after every
// dropped connection.
func (w *WSClient) Run(ctx context.Context) error {
	if w.handler == nil {
		return errNoHandler
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = kalshiReconnectDelay
	bo.MaxInterval = kalshiMaxReconnectDelay
	bo.MaxElapsedTime = 0

	for {
		start := time.Now()
		err := w.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) > kalshiMaxReconnectDelay {
			bo.Reset()
		}
		delay := bo.NextBackOff()
		w.logger.WarnContext(ctx, "stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// session runs one connection until it fails or ctx ends.
func (w *WSClient) session(ctx context.Context) error {
	conn, err := w.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	w.mu.Lock()
	w.conn = conn
	var tickers []string
	for t := range w.tickers {
		tickers = append(tickers, t)
	}
	if len(tickers) > 0 {
		err = w.sendSubscribe(tickers)
	}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
	}()
	if err != nil {
		return fmt.Errorf("kalshi/ws: restore subscriptions: %w", err)
	}
	w.logger.InfoContext(ctx, "stream connected", slog.Int("markets", len(tickers)))

	_ = conn.SetReadDeadline(time.Now().Add(kalshiPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(kalshiPongWait))
	})

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.pingLoop(sessionCtx, conn)
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kalshi/ws: read: %w", err)
		}
		w.handleMessage(ctx, message)
	}
}

func (w *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	var header http.Header
	if w.signer != nil {
		u, err := url.Parse(w.wsURL)
		if err != nil {
			return nil, fmt.Errorf("kalshi/ws: parse url: %w", err)
		}
		if header, err = w.signer.AuthHeaders(http.MethodGet, u.Path); err != nil {
			return nil, fmt.Errorf("kalshi/ws: sign handshake: %w", err)
		}
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("kalshi/ws: connect: %w", err)
	}
	return conn, nil
}

// sendSubscribe sends a subscribe command. Caller must hold w.mu.
func (w *WSClient) sendSubscribe(tickers []string) error {
	w.cmdID++

	cmd := KalshiWSSubscribeCmd{
		ID:  w.cmdID,
		Cmd: "subscribe",
		Params: KalshiWSSubscribeParams{
			Channels: []string{"ticker"},
			Tickers:  tickers,
		},
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}

	_ = w.conn.SetWriteDeadline(time.Now().Add(kalshiWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// pingLoop sends periodic pings to keep the connection alive.
func (w *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(kalshiPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(kalshiWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw WebSocket message and routes it.
func (w *WSClient) handleMessage(ctx context.Context, raw []byte) {
	var envelope KalshiWSMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		w.logger.DebugContext(ctx, "undecodable stream message", slog.String("error", err.Error()))
		return
	}

	switch envelope.Type {
	case "ticker":
		var t KalshiWSTicker
		if err := json.Unmarshal(envelope.Msg, &t); err != nil {
			return
		}
		if t.Ticker == "" || w.handler == nil {
			return
		}
		w.handler(ctx, Quote{
			MarketID: t.Ticker,
			Bid:      fromCents(t.YesBid),
			Ask:      fromCents(t.YesAsk),
		})
	case "error":
		w.logger.WarnContext(ctx, "stream error message", slog.String("msg", string(envelope.Msg)))
	}
}
