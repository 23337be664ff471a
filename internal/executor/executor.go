package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/precog-trading/precog/internal/domain"
)

// Recorder persists the exit audit trail. RecordExit must write the
// position and its exit event atomically.
type Recorder interface {
	RecordAttempt(ctx context.Context, a domain.ExitAttempt) error
	RecordExit(ctx context.Context, pos domain.Position, ev domain.ExitEvent) error
}

// Order is a resolved exit ready for the venue.
type Order struct {
	Condition domain.ExitCondition
	Priority  domain.Priority
	Quantity  int64
	// Snapshot supplies the touch price the first limit order is offset from.
	Snapshot domain.MarketSnapshot
}

// Outcome is how an execution episode ended.
type Outcome string

const (
	OutcomeFilled      Outcome = "filled"
	OutcomePartial     Outcome = "partially_filled"
	OutcomeAbandoned   Outcome = "abandoned"
	OutcomeFailed      Outcome = "failed"
	OutcomeInterrupted Outcome = "interrupted"
)

// Result summarises one execution episode.
type Result struct {
	EpisodeID string
	Outcome   Outcome
	Requested int64
	Filled    int64
	AvgPrice  decimal.Decimal
	Attempts  int
}

// Executor turns a resolved exit into venue orders, walking limit prices
// and escalating per the tier policy. One episode runs at a time per
// position.
type Executor struct {
	venue  domain.OrderVenue
	rec    Recorder
	policy Policy
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewExecutor creates an Executor.
func NewExecutor(venue domain.OrderVenue, rec Recorder, policy Policy, logger *slog.Logger) *Executor {
	return &Executor{
		venue:    venue,
		rec:      rec,
		policy:   policy,
		logger:   logger.With(slog.String("component", "executor")),
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
}

// Execute runs one exit episode for pos. Fills are applied to pos and
// persisted as they happen. A non-nil error means the episode could not be
// carried out or its fills could not be recorded; an unfilled walk is
// reported through Result.Outcome, not as an error.
func (e *Executor) Execute(ctx context.Context, pos *domain.Position, ord Order) (Result, error) {
	if pos.Halted {
		return Result{}, fmt.Errorf("executor: execute %s: %s: %w", pos.ID, pos.HaltReason, domain.ErrPositionHalted)
	}
	if ord.Quantity <= 0 || ord.Quantity > pos.Quantity {
		return Result{}, fmt.Errorf("executor: execute %s: quantity %d of %d: %w",
			pos.ID, ord.Quantity, pos.Quantity, domain.ErrInvalidOrder)
	}
	tier, ok := e.policy.Tiers[ord.Priority]
	if !ok {
		return Result{}, fmt.Errorf("executor: execute %s: no policy for tier %q: %w",
			pos.ID, ord.Priority, domain.ErrInvalidOrder)
	}
	if !e.claim(pos.ID) {
		return Result{}, fmt.Errorf("executor: execute %s: episode in flight: %w", pos.ID, domain.ErrAlreadyExists)
	}
	defer e.release(pos.ID)

	ep := &episode{
		e:         e,
		pos:       pos,
		ord:       ord,
		id:        uuid.NewString(),
		remaining: ord.Quantity,
	}
	ep.log = e.logger.With(
		slog.String("position_id", pos.ID),
		slog.String("episode_id", ep.id),
		slog.String("condition", string(ord.Condition)),
		slog.String("priority", ord.Priority.String()),
	)
	ep.log.Info("exit started", slog.Int64("quantity", ord.Quantity))

	var err error
	if tier.Market {
		err = ep.market(ctx)
	} else {
		err = ep.walk(ctx, tier)
	}

	res := ep.result()
	ep.log.Info("exit finished",
		slog.String("outcome", string(res.Outcome)),
		slog.Int64("filled", res.Filled),
		slog.Int("attempts", res.Attempts),
	)
	return res, err
}

func (e *Executor) claim(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[id]; busy {
		return false
	}
	e.inflight[id] = struct{}{}
	return true
}

func (e *Executor) release(id string) {
	e.mu.Lock()
	delete(e.inflight, id)
	e.mu.Unlock()
}

// episode is the mutable state of one Execute call.
type episode struct {
	e   *Executor
	pos *domain.Position
	ord Order
	id  string
	log *slog.Logger

	attempts    int
	remaining   int64
	filled      int64
	notional    decimal.Decimal
	interrupted bool
	marketSpent bool
}

// submission is what the venue did with one order.
type submission struct {
	attempt  domain.ExitAttempt
	rejected bool
	filled   int64
	avgPrice decimal.Decimal
}

func (s submission) complete() bool {
	return !s.rejected && s.filled >= s.attempt.Quantity
}

func (ep *episode) walk(ctx context.Context, tier TierPolicy) error {
	p := ep.e.policy
	touch := ep.ord.Snapshot.BestExitPrice(ep.pos.Side)
	escalate := tier.EscalateToMarket

	for n := 0; n < tier.MaxAttempts && ep.remaining > 0; n++ {
		if ctx.Err() != nil {
			ep.interrupted = true
			return nil
		}

		px := p.limitPrice(ep.pos.Side, touch, tier, n)
		sub := ep.submit(ctx, domain.OrderTypeLimit, &px, tier.Timeout)
		last := n == tier.MaxAttempts-1

		var out domain.AttemptOutcome
		rejectedUrgent := false
		switch {
		case sub.complete():
			out = domain.OutcomeFilled
		case sub.rejected:
			out = domain.OutcomeRejected
			rejectedUrgent = ep.ord.Priority >= domain.PriorityHigh
		case last && escalate:
			out = domain.OutcomeEscalated
		case last:
			out = domain.OutcomeAbandoned
		default:
			out = domain.OutcomeTimedOut
		}
		if err := ep.finish(ctx, sub, out); err != nil {
			return err
		}
		if rejectedUrgent {
			escalate = true
			break
		}
	}

	if ep.remaining > 0 && escalate && !ep.interrupted {
		ep.log.Warn("escalating to market order", slog.Int64("remaining", ep.remaining))
		return ep.market(ctx)
	}
	return nil
}

func (ep *episode) market(ctx context.Context) error {
	p := ep.e.policy
	ep.marketSpent = true

	for i := 0; i <= p.MaxMarketRetries && ep.remaining > 0; i++ {
		if ctx.Err() != nil {
			ep.interrupted = true
			return nil
		}

		sub := ep.submit(ctx, domain.OrderTypeMarket, nil, p.marketTimeout())
		last := i == p.MaxMarketRetries

		var out domain.AttemptOutcome
		switch {
		case sub.complete():
			out = domain.OutcomeFilled
		case sub.rejected:
			out = domain.OutcomeRejected
		case last:
			out = domain.OutcomeAbandoned
		default:
			out = domain.OutcomeTimedOut
		}
		if err := ep.finish(ctx, sub, out); err != nil {
			return err
		}
	}
	return nil
}

// submit places one order for the remaining quantity and waits up to
// timeout for it to fill. The wait is detached from ctx so shutdown lets a
// resting order finish or time out instead of abandoning it at the venue.
func (ep *episode) submit(ctx context.Context, typ domain.OrderType, price *decimal.Decimal, timeout time.Duration) submission {
	ep.attempts++
	req := domain.OrderRequest{
		ClientID: uuid.NewString(),
		MarketID: ep.pos.MarketID,
		Side:     ep.pos.Side,
		Type:     typ,
		Price:    price,
		Quantity: ep.remaining,
	}
	sub := submission{attempt: domain.ExitAttempt{
		ID:            req.ClientID,
		PositionID:    ep.pos.ID,
		EpisodeID:     ep.id,
		Condition:     ep.ord.Condition,
		Priority:      ep.ord.Priority,
		OrderType:     typ,
		AttemptNumber: ep.attempts,
		Quantity:      req.Quantity,
		LimitPrice:    price,
		Timeout:       timeout,
		SubmittedAt:   ep.e.now(),
	}}

	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout+ep.e.policy.PollInterval)
	defer cancel()

	orderID, err := ep.e.venue.PlaceOrder(attemptCtx, req)
	if err != nil {
		sub.rejected = true
		sub.attempt.Error = err.Error()
		if !errors.Is(err, domain.ErrOrderRejected) {
			ep.log.Warn("order placement failed", slog.Int("attempt", ep.attempts), slog.String("error", err.Error()))
		}
		return sub
	}
	sub.attempt.VenueOrderID = orderID

	st := ep.await(attemptCtx, orderID, timeout)
	if !st.Done() || st.State == domain.FillTimedOut {
		if err := ep.e.venue.CancelOrder(attemptCtx, orderID); err != nil {
			ep.log.Warn("cancel order failed", slog.String("order_id", orderID), slog.String("error", err.Error()))
		}
		// A fill can race the cancel.
		if final, err := ep.e.venue.FillStatus(attemptCtx, orderID); err == nil {
			st = final
		}
	}

	if st.State == domain.FillRejected {
		sub.rejected = true
		sub.attempt.Error = st.Reason
	}
	sub.filled = st.FilledQuantity
	if sub.filled > req.Quantity {
		ep.log.Error("venue reported overfill",
			slog.String("order_id", orderID),
			slog.Int64("requested", req.Quantity),
			slog.Int64("filled", sub.filled),
		)
		sub.filled = req.Quantity
	}
	sub.avgPrice = st.AvgPrice
	return sub
}

// await polls the fill status until the order is done or timeout elapses.
func (ep *episode) await(ctx context.Context, orderID string, timeout time.Duration) domain.FillStatus {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(ep.e.policy.pollEvery(timeout))
	defer poll.Stop()

	var last domain.FillStatus
	for {
		st, err := ep.e.venue.FillStatus(ctx, orderID)
		if err != nil {
			ep.log.Debug("fill status poll failed", slog.String("order_id", orderID), slog.String("error", err.Error()))
		} else {
			last = st
			if st.Done() {
				return st
			}
		}

		select {
		case <-deadline.C:
			return last
		case <-ctx.Done():
			return last
		case <-poll.C:
		}
	}
}

// finish records the attempt and applies any fill it carried.
func (ep *episode) finish(ctx context.Context, sub submission, out domain.AttemptOutcome) error {
	ctx = context.WithoutCancel(ctx)
	att := sub.attempt
	att.Outcome = out
	att.FilledQuantity = sub.filled
	att.CompletedAt = ep.e.now()
	if sub.filled > 0 {
		px := sub.avgPrice
		att.FillPrice = &px
	}

	if err := ep.e.rec.RecordAttempt(ctx, att); err != nil {
		return fmt.Errorf("executor: record attempt %d for %s: %w", att.AttemptNumber, ep.pos.ID, err)
	}
	ep.log.Info("exit attempt",
		slog.Int("attempt", att.AttemptNumber),
		slog.String("order_type", string(att.OrderType)),
		slog.String("outcome", string(out)),
		slog.Int64("filled", sub.filled),
	)

	if sub.filled == 0 {
		return nil
	}

	now := ep.e.now()
	if err := ep.pos.ApplyFill(sub.filled, sub.avgPrice, now); err != nil {
		return fmt.Errorf("executor: apply fill for %s: %w", ep.pos.ID, err)
	}
	ev := domain.ExitEvent{
		ID:         uuid.NewString(),
		PositionID: ep.pos.ID,
		EpisodeID:  ep.id,
		Condition:  ep.ord.Condition,
		Priority:   ep.ord.Priority,
		Quantity:   sub.filled,
		Price:      sub.avgPrice,
		CreatedAt:  now,
	}
	ep.pos.ExitReason = ep.ord.Condition
	ep.pos.ExitPriority = ep.ord.Priority
	if err := ep.e.rec.RecordExit(ctx, *ep.pos, ev); err != nil {
		return fmt.Errorf("executor: record exit for %s: %w", ep.pos.ID, err)
	}

	ep.remaining -= sub.filled
	ep.filled += sub.filled
	ep.notional = ep.notional.Add(sub.avgPrice.Mul(decimal.NewFromInt(sub.filled)))
	return nil
}

func (ep *episode) result() Result {
	res := Result{
		EpisodeID: ep.id,
		Requested: ep.ord.Quantity,
		Filled:    ep.filled,
		Attempts:  ep.attempts,
	}
	if ep.filled > 0 {
		res.AvgPrice = ep.notional.DivRound(decimal.NewFromInt(ep.filled), domain.PriceScale)
	}

	switch {
	case ep.remaining == 0:
		res.Outcome = OutcomeFilled
	case ep.interrupted:
		res.Outcome = OutcomeInterrupted
	case ep.filled > 0:
		res.Outcome = OutcomePartial
	case ep.marketSpent:
		res.Outcome = OutcomeFailed
	default:
		res.Outcome = OutcomeAbandoned
	}
	return res
}
