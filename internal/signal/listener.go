package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/precog-trading/precog/internal/domain"
)

// Channels the listener subscribes to.
const (
	ChannelCircuitBreaker = "precog:circuit_breaker"
	ChannelRebalance      = "precog:rebalance"
)

// BreakerMessage is the payload on ChannelCircuitBreaker.
type BreakerMessage struct {
	Asserted bool   `json:"asserted"`
	Reason   string `json:"reason,omitempty"`
}

// RebalanceMessage is the payload on ChannelRebalance.
type RebalanceMessage struct {
	PositionIDs []string `json:"position_ids"`
}

// Listener feeds bus messages into a Breaker and a Rebalance set.
type Listener struct {
	bus       domain.SignalBus
	breaker   *Breaker
	rebalance *Rebalance
	logger    *slog.Logger
	// onBreaker is called after the breaker changes state.
	onBreaker func(ctx context.Context, st BreakerState)
}

// NewListener creates a Listener.
func NewListener(bus domain.SignalBus, breaker *Breaker, rebalance *Rebalance, logger *slog.Logger) *Listener {
	return &Listener{
		bus:       bus,
		breaker:   breaker,
		rebalance: rebalance,
		logger:    logger.With(slog.String("component", "signal-listener")),
	}
}

// OnBreakerChange registers a hook for breaker transitions.
func (l *Listener) OnBreakerChange(fn func(ctx context.Context, st BreakerState)) {
	l.onBreaker = fn
}

// Run subscribes to both channels and applies messages until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	breakerCh, err := l.bus.Subscribe(ctx, ChannelCircuitBreaker)
	if err != nil {
		return fmt.Errorf("signal: subscribe breaker: %w", err)
	}
	rebalanceCh, err := l.bus.Subscribe(ctx, ChannelRebalance)
	if err != nil {
		return fmt.Errorf("signal: subscribe rebalance: %w", err)
	}

	l.logger.Info("signal listener started")
	defer l.logger.Info("signal listener stopped")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for payload := range breakerCh {
			l.HandleBreaker(gctx, payload)
		}
		return nil
	})
	g.Go(func() error {
		for payload := range rebalanceCh {
			l.HandleRebalance(payload)
		}
		return nil
	})
	return g.Wait()
}

// HandleBreaker applies one breaker message.
func (l *Listener) HandleBreaker(ctx context.Context, payload []byte) {
	var msg BreakerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		l.logger.Warn("bad breaker message", slog.String("error", err.Error()))
		return
	}
	if !l.breaker.Set(msg.Asserted, msg.Reason) {
		return
	}
	st := l.breaker.State()
	l.logger.Warn("circuit breaker changed",
		slog.Bool("asserted", st.Asserted),
		slog.String("reason", st.Reason),
	)
	if l.onBreaker != nil {
		l.onBreaker(ctx, st)
	}
}

// HandleRebalance applies one rebalance message.
func (l *Listener) HandleRebalance(payload []byte) {
	var msg RebalanceMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		l.logger.Warn("bad rebalance message", slog.String("error", err.Error()))
		return
	}
	for _, id := range msg.PositionIDs {
		l.rebalance.Request(id)
	}
	l.logger.Info("rebalance requested", slog.Int("positions", len(msg.PositionIDs)))
}
