// Package gateway funnels every outbound market-data and order call through
// one shared rate limiter. Snapshots are served from a short-lived cache,
// concurrent misses for the same market are coalesced, and a circuit breaker
// sheds feed calls while the venue is failing.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/precog-trading/precog/internal/domain"
)

// fetchTimeout bounds a coalesced snapshot fetch, which runs detached from
// any single caller's context.
const fetchTimeout = 30 * time.Second

// Config controls limits and cache freshness.
type Config struct {
	// Key is the limiter key shared by every outbound call: snapshots, order
	// placement, fill-status polls and cancels.
	Key    string
	Limit  int
	Window time.Duration
	// SnapshotTTL is the maximum age of a cached snapshot.
	SnapshotTTL time.Duration
	// BreakerFailures consecutive feed failures open the breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown time.Duration
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		Key:             "precog:outbound",
		Limit:           60,
		Window:          time.Minute,
		SnapshotTTL:     10 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// Gateway wraps a feed and a venue. It implements domain.MarketFeed and
// domain.OrderVenue.
type Gateway struct {
	feed    domain.MarketFeed
	venue   domain.OrderVenue
	cache   domain.SnapshotCache
	limiter domain.RateLimiter
	cfg     Config
	logger  *slog.Logger

	sf singleflight.Group
	cb *gobreaker.CircuitBreaker
	// now is swapped in tests.
	now func() time.Time
}

// New creates a Gateway.
func New(feed domain.MarketFeed, venue domain.OrderVenue, cache domain.SnapshotCache,
	limiter domain.RateLimiter, cfg Config, logger *slog.Logger) *Gateway {
	g := &Gateway{
		feed:    feed,
		venue:   venue,
		cache:   cache,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "gateway")),
		now:     func() time.Time { return time.Now().UTC() },
	}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "market-feed",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return g
}

// Snapshot returns a cached snapshot younger than SnapshotTTL, or fetches a
// fresh one. Concurrent misses for the same market share one fetch; each
// caller stops waiting when its own ctx ends, and the fetch itself is not
// cancelled by any one caller.
func (g *Gateway) Snapshot(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	if snap, ok := g.cached(ctx, marketID); ok {
		return snap, nil
	}

	ch := g.sf.DoChan(marketID, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		// Another caller may have filled the cache while we queued.
		if snap, ok := g.cached(fctx, marketID); ok {
			return snap, nil
		}
		return g.fetch(fctx, marketID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.MarketSnapshot{}, res.Err
		}
		return res.Val.(domain.MarketSnapshot), nil
	case <-ctx.Done():
		return domain.MarketSnapshot{}, fmt.Errorf("gateway: snapshot %s: %w", marketID, ctx.Err())
	}
}

func (g *Gateway) cached(ctx context.Context, marketID string) (domain.MarketSnapshot, bool) {
	snap, err := g.cache.GetSnapshot(ctx, marketID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			g.logger.Warn("snapshot cache read failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
		return domain.MarketSnapshot{}, false
	}
	if g.now().Sub(snap.FetchedAt) >= g.cfg.SnapshotTTL {
		return domain.MarketSnapshot{}, false
	}
	return snap, true
}

func (g *Gateway) fetch(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	if err := g.limiter.Wait(ctx, g.cfg.Key, g.cfg.Limit, g.cfg.Window); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("gateway: snapshot %s: %w", marketID, err)
	}

	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.feed.Snapshot(ctx, marketID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.MarketSnapshot{}, fmt.Errorf("gateway: snapshot %s: %w", marketID, domain.ErrVenueUnavailable)
		}
		return domain.MarketSnapshot{}, fmt.Errorf("gateway: snapshot %s: %w", marketID, err)
	}

	snap := v.(domain.MarketSnapshot)
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = g.now()
	}
	if err := g.cache.SetSnapshot(ctx, snap); err != nil {
		g.logger.Warn("snapshot cache write failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
	return snap, nil
}

// ApplyQuote merges a streamed top-of-book update into the cached snapshot
// for marketID, refreshing its age. Markets with no cached snapshot are
// ignored, since a quote alone carries no volume or settlement time.
func (g *Gateway) ApplyQuote(ctx context.Context, marketID string, bid, ask decimal.Decimal) error {
	snap, err := g.cache.GetSnapshot(ctx, marketID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("gateway: apply quote %s: %w", marketID, err)
	}
	if bid.IsPositive() {
		snap.Bid = bid
	}
	if ask.IsPositive() {
		snap.Ask = ask
	}
	snap.FetchedAt = g.now()
	if err := g.cache.SetSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("gateway: apply quote %s: %w", marketID, err)
	}
	return nil
}

// PlaceOrder submits an order under the shared limit.
func (g *Gateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if err := g.limiter.Wait(ctx, g.cfg.Key, g.cfg.Limit, g.cfg.Window); err != nil {
		return "", fmt.Errorf("gateway: place order %s: %w", req.ClientID, err)
	}
	return g.venue.PlaceOrder(ctx, req)
}

// FillStatus polls an order under the shared limit.
func (g *Gateway) FillStatus(ctx context.Context, orderID string) (domain.FillStatus, error) {
	if err := g.limiter.Wait(ctx, g.cfg.Key, g.cfg.Limit, g.cfg.Window); err != nil {
		return domain.FillStatus{}, fmt.Errorf("gateway: fill status %s: %w", orderID, err)
	}
	return g.venue.FillStatus(ctx, orderID)
}

// CancelOrder cancels an order under the shared limit.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	if err := g.limiter.Wait(ctx, g.cfg.Key, g.cfg.Limit, g.cfg.Window); err != nil {
		return fmt.Errorf("gateway: cancel order %s: %w", orderID, err)
	}
	return g.venue.CancelOrder(ctx, orderID)
}

var (
	_ domain.MarketFeed = (*Gateway)(nil)
	_ domain.OrderVenue = (*Gateway)(nil)
)
