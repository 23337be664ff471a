package signal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/precog-trading/precog/internal/domain"
)

// Publisher sends control signals. With a bus they reach every instance
// through its Listener; without one they are applied to this process only.
type Publisher struct {
	bus      domain.SignalBus
	listener *Listener
}

// NewPublisher creates a Publisher. bus may be nil.
func NewPublisher(bus domain.SignalBus, listener *Listener) *Publisher {
	return &Publisher{bus: bus, listener: listener}
}

// SetBreaker asserts or releases the global circuit breaker.
func (p *Publisher) SetBreaker(ctx context.Context, asserted bool, reason string) error {
	payload, err := json.Marshal(BreakerMessage{Asserted: asserted, Reason: reason})
	if err != nil {
		return fmt.Errorf("signal: marshal breaker: %w", err)
	}
	if p.bus == nil {
		p.listener.HandleBreaker(ctx, payload)
		return nil
	}
	if err := p.bus.Publish(ctx, ChannelCircuitBreaker, payload); err != nil {
		return fmt.Errorf("signal: publish breaker: %w", err)
	}
	return nil
}

// RequestRebalance asks the monitor to exit the given positions.
func (p *Publisher) RequestRebalance(ctx context.Context, positionIDs ...string) error {
	payload, err := json.Marshal(RebalanceMessage{PositionIDs: positionIDs})
	if err != nil {
		return fmt.Errorf("signal: marshal rebalance: %w", err)
	}
	if p.bus == nil {
		p.listener.HandleRebalance(payload)
		return nil
	}
	if err := p.bus.Publish(ctx, ChannelRebalance, payload); err != nil {
		return fmt.Errorf("signal: publish rebalance: %w", err)
	}
	return nil
}

// BreakerState returns this process's view of the breaker.
func (p *Publisher) BreakerState() BreakerState {
	return p.listener.breaker.State()
}
