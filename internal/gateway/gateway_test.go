package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precog-trading/precog/internal/cache/memory"
	"github.com/precog-trading/precog/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeFeed struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (f *fakeFeed) Snapshot(_ context.Context, marketID string) (domain.MarketSnapshot, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return domain.MarketSnapshot{}, f.err
	}
	return domain.MarketSnapshot{MarketID: marketID, Bid: d("0.40"), Ask: d("0.42"), Volume: 900}, nil
}

type fakeVenue struct {
	placed    atomic.Int32
	polled    atomic.Int32
	cancelled atomic.Int32
}

func (v *fakeVenue) PlaceOrder(context.Context, domain.OrderRequest) (string, error) {
	v.placed.Add(1)
	return "ord-1", nil
}

func (v *fakeVenue) FillStatus(context.Context, string) (domain.FillStatus, error) {
	v.polled.Add(1)
	return domain.FillStatus{State: domain.FillFilled, FilledQuantity: 1}, nil
}

func (v *fakeVenue) CancelOrder(context.Context, string) error {
	v.cancelled.Add(1)
	return nil
}

func (v *fakeVenue) total() int32 { return v.placed.Load() + v.polled.Load() + v.cancelled.Load() }

func newGateway(feed domain.MarketFeed, venue domain.OrderVenue) *Gateway {
	cfg := DefaultConfig()
	cfg.Limit = 1000
	return New(feed, venue, memory.NewSnapshotCache(time.Minute), memory.NewRateLimiter(), cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSnapshot_ServesFromCacheWithinTTL(t *testing.T) {
	feed := &fakeFeed{}
	g := newGateway(feed, &fakeVenue{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := g.Snapshot(ctx, "MKT")
	require.NoError(t, err)
	assert.Equal(t, now, first.FetchedAt)

	now = now.Add(9 * time.Second)
	_, err = g.Snapshot(ctx, "MKT")
	require.NoError(t, err)
	assert.Equal(t, int32(1), feed.calls.Load())

	now = now.Add(2 * time.Second)
	_, err = g.Snapshot(ctx, "MKT")
	require.NoError(t, err)
	assert.Equal(t, int32(2), feed.calls.Load())
}

func TestSnapshot_CoalescesConcurrentMisses(t *testing.T) {
	feed := &fakeFeed{gate: make(chan struct{})}
	g := newGateway(feed, &fakeVenue{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Snapshot(context.Background(), "MKT")
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(feed.gate)
	wg.Wait()

	assert.Equal(t, int32(1), feed.calls.Load())
}

func TestSnapshot_BreakerOpensAfterFailures(t *testing.T) {
	feed := &fakeFeed{err: errors.New("kalshi: 502 bad gateway")}
	g := newGateway(feed, &fakeVenue{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := g.Snapshot(ctx, "MKT")
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrVenueUnavailable)
	}

	_, err := g.Snapshot(ctx, "MKT")
	assert.ErrorIs(t, err, domain.ErrVenueUnavailable)
	assert.Equal(t, int32(5), feed.calls.Load())
}

func TestApplyQuote_MergesIntoCachedSnapshot(t *testing.T) {
	feed := &fakeFeed{}
	g := newGateway(feed, &fakeVenue{})
	ctx := context.Background()

	// Unknown markets are ignored.
	require.NoError(t, g.ApplyQuote(ctx, "MKT", d("0.45"), d("0.47")))
	_, err := g.cache.GetSnapshot(ctx, "MKT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = g.Snapshot(ctx, "MKT")
	require.NoError(t, err)
	require.NoError(t, g.ApplyQuote(ctx, "MKT", d("0.45"), decimal.Zero))

	snap, err := g.Snapshot(ctx, "MKT")
	require.NoError(t, err)
	assert.True(t, snap.Bid.Equal(d("0.45")))
	assert.True(t, snap.Ask.Equal(d("0.42")))
	assert.Equal(t, int64(900), snap.Volume)
	assert.Equal(t, int32(1), feed.calls.Load())
}

func TestOrders_PassThroughLimiter(t *testing.T) {
	venue := &fakeVenue{}
	g := newGateway(&fakeFeed{}, venue)
	ctx := context.Background()

	id, err := g.PlaceOrder(ctx, domain.OrderRequest{ClientID: "c1", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", id)

	st, err := g.FillStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.FillFilled, st.State)
	require.NoError(t, g.CancelOrder(ctx, id))
	assert.Equal(t, int32(1), venue.placed.Load())
}

func TestOrders_LimiterCancellation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limit = 1
	cfg.Window = time.Hour
	g := New(&fakeFeed{}, &fakeVenue{}, memory.NewSnapshotCache(time.Minute), memory.NewRateLimiter(), cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := g.PlaceOrder(context.Background(), domain.OrderRequest{ClientID: "c1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.PlaceOrder(ctx, domain.OrderRequest{ClientID: "c2"})
	assert.Error(t, err)
}

func TestOrders_ShareOneOutboundBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limit = 6
	cfg.Window = time.Hour
	feed := &fakeFeed{}
	venue := &fakeVenue{}
	g := New(feed, venue, memory.NewSnapshotCache(time.Minute), memory.NewRateLimiter(), cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	call := func(fn func(ctx context.Context) error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()
		_ = fn(ctx)
	}
	for i := 0; i < 20; i++ {
		call(func(ctx context.Context) error {
			_, err := g.PlaceOrder(ctx, domain.OrderRequest{ClientID: "c"})
			return err
		})
		call(func(ctx context.Context) error {
			_, err := g.FillStatus(ctx, "ord-1")
			return err
		})
		call(func(ctx context.Context) error { return g.CancelOrder(ctx, "ord-1") })
	}
	call(func(ctx context.Context) error {
		_, err := g.Snapshot(ctx, "MKT")
		return err
	})

	assert.Equal(t, int32(cfg.Limit), venue.total()+feed.calls.Load())
	assert.Equal(t, int32(2), venue.placed.Load())
	assert.Equal(t, int32(2), venue.polled.Load())
	assert.Equal(t, int32(2), venue.cancelled.Load())
	assert.Zero(t, feed.calls.Load())
}

func TestSnapshot_CancelledCallerDoesNotFailCoalescedCallers(t *testing.T) {
	feed := &fakeFeed{gate: make(chan struct{})}
	g := newGateway(feed, &fakeVenue{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := g.Snapshot(firstCtx, "MKT")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return feed.calls.Load() == 1 }, time.Second, time.Millisecond)

	secondErr := make(chan error, 1)
	go func() {
		_, err := g.Snapshot(context.Background(), "MKT")
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(feed.gate)
	assert.NoError(t, <-secondErr)
	assert.Equal(t, int32(1), feed.calls.Load())
}
