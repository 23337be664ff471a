package exit

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/precog-trading/precog/internal/domain"
)

// BreakerSignal reports whether the external circuit breaker is asserted.
type BreakerSignal interface {
	Asserted() bool
}

// RebalanceSignal reports whether a portfolio rebalance has asked for a
// position to be exited.
type RebalanceSignal interface {
	Requested(positionID string) bool
}

// Input is everything a predicate can look at.
type Input struct {
	Position *domain.Position
	Snapshot domain.MarketSnapshot
	Now      time.Time
}

// Evaluator checks all exit predicates against a marked position. It holds
// no per-position state.
type Evaluator struct {
	th        Thresholds
	stager    *Stager
	breaker   BreakerSignal
	rebalance RebalanceSignal
}

// NewEvaluator creates an Evaluator. Nil signals are treated as never
// asserted.
func NewEvaluator(th Thresholds, breaker BreakerSignal, rebalance RebalanceSignal) *Evaluator {
	return &Evaluator{
		th:        th,
		stager:    NewStager(th),
		breaker:   breaker,
		rebalance: rebalance,
	}
}

// Stager returns the stager sharing this evaluator's thresholds.
func (e *Evaluator) Stager() *Stager {
	return e.stager
}

// Thresholds returns the configured trigger levels.
func (e *Evaluator) Thresholds() Thresholds {
	return e.th
}

// Evaluate returns every condition that is true for in, in table order.
// The position must already be marked at the snapshot price.
func (e *Evaluator) Evaluate(in Input) []domain.ExitCondition {
	checks := [...]struct {
		cond domain.ExitCondition
		fn   func(Input) bool
	}{
		{domain.ConditionStopLoss, e.stopLoss},
		{domain.ConditionCircuitBreaker, e.circuitBreaker},
		{domain.ConditionTrailingStop, e.trailingStop},
		{domain.ConditionTimeBasedUrgent, e.timeBasedUrgent},
		{domain.ConditionLiquidityDriedUp, e.liquidityDriedUp},
		{domain.ConditionProfitTarget, e.profitTarget},
		{domain.ConditionPartialExitTarget, e.partialExitTarget},
		{domain.ConditionEarlyExit, e.earlyExit},
		{domain.ConditionEdgeDisappeared, e.edgeDisappeared},
		{domain.ConditionRebalance, e.rebalanceRequested},
	}

	var out []domain.ExitCondition
	for _, c := range checks {
		if c.fn(in) {
			out = append(out, c.cond)
		}
	}
	return out
}

func (e *Evaluator) stopLoss(in Input) bool {
	return in.Position.UnrealizedPnLPct.LessThanOrEqual(e.th.StopLossPct)
}

func (e *Evaluator) circuitBreaker(Input) bool {
	return e.breaker != nil && e.breaker.Asserted()
}

func (e *Evaluator) trailingStop(in Input) bool {
	return in.Position.TrailingStop.IsTriggered()
}

func (e *Evaluator) timeBasedUrgent(in Input) bool {
	if in.Snapshot.SettlementTime.IsZero() {
		return false
	}
	remaining := in.Snapshot.SettlementTime.Sub(in.Now)
	return remaining < e.th.TimeUrgent && in.Position.UnrealizedPnL.IsNegative()
}

func (e *Evaluator) liquidityDriedUp(in Input) bool {
	snap := in.Snapshot
	if snap.Bid.IsPositive() && snap.Ask.IsPositive() && snap.Spread().GreaterThan(e.th.MaxSpread) {
		return true
	}
	return snap.Volume < e.th.MinVolume
}

func (e *Evaluator) profitTarget(in Input) bool {
	return in.Position.UnrealizedPnLPct.GreaterThanOrEqual(e.th.ProfitTargetPct)
}

func (e *Evaluator) partialExitTarget(in Input) bool {
	_, _, ok := e.stager.Next(in.Position)
	return ok
}

func (e *Evaluator) earlyExit(in Input) bool {
	edge, ok := Edge(in.Position)
	return ok && !edge.IsNegative() && edge.LessThan(e.th.EarlyExitEdge)
}

func (e *Evaluator) edgeDisappeared(in Input) bool {
	edge, ok := Edge(in.Position)
	return ok && edge.IsNegative()
}

func (e *Evaluator) rebalanceRequested(in Input) bool {
	return e.rebalance != nil && e.rebalance.Requested(in.Position.ID)
}

// Edge returns the holder's current edge: the model's probability for the
// held side minus the market's implied price for it. It is false when the
// position carries no model probability.
func Edge(pos *domain.Position) (decimal.Decimal, bool) {
	if pos.ModelProbability == nil {
		return decimal.Zero, false
	}
	return pos.ModelProbability.Sub(pos.CurrentPrice).Mul(pos.Direction()), true
}

// Plan is a resolved decision sized for execution.
type Plan struct {
	Decision
	Quantity int64
	Stage    Stage
}

// Plan sizes d for pos. Staged partial exits take the stager's quantity;
// every other condition exits the whole remaining position.
func (e *Evaluator) Plan(pos *domain.Position, d Decision) (Plan, bool) {
	p := Plan{Decision: d, Quantity: pos.Quantity}
	if d.Condition == domain.ConditionPartialExitTarget {
		stage, qty, ok := e.stager.Next(pos)
		if !ok {
			return Plan{}, false
		}
		p.Stage = stage
		p.Quantity = qty
	}
	return p, p.Quantity > 0
}
