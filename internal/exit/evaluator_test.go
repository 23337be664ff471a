package exit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precog-trading/precog/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type flag bool

func (f flag) Asserted() bool { return bool(f) }

type requested map[string]bool

func (r requested) Requested(id string) bool { return r[id] }

// healthy returns a snapshot that trips no market-driven condition.
func healthy(price string, now time.Time) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		MarketID:       "MKT",
		Bid:            d(price),
		Ask:            d(price).Add(d("0.01")),
		Last:           d(price),
		Volume:         1000,
		SettlementTime: now.Add(48 * time.Hour),
	}
}

func marked(entry, price string, now time.Time) *domain.Position {
	p := &domain.Position{
		ID:               "pos-1",
		MarketID:         "MKT",
		Side:             domain.SideYes,
		Quantity:         100,
		OriginalQuantity: 100,
		EntryPrice:       d(entry),
		Status:           domain.PositionStatusOpen,
	}
	p.Mark(d(price), now)
	return p
}

func TestEvaluate_NoConditions(t *testing.T) {
	now := time.Now()
	e := NewEvaluator(DefaultThresholds(), flag(false), requested{})
	pos := marked("0.50", "0.52", now)

	got := e.Evaluate(Input{Position: pos, Snapshot: healthy("0.52", now), Now: now})
	assert.Empty(t, got)
}

func TestEvaluate_EachCondition(t *testing.T) {
	now := time.Now()
	th := DefaultThresholds()

	tests := []struct {
		name  string
		setup func() (*Evaluator, Input)
		want  domain.ExitCondition
	}{
		{
			name: "stop loss at 18% loss",
			setup: func() (*Evaluator, Input) {
				pos := marked("0.55", "0.45", now)
				return NewEvaluator(th, nil, nil), Input{pos, healthy("0.45", now), now}
			},
			want: domain.ConditionStopLoss,
		},
		{
			name: "circuit breaker",
			setup: func() (*Evaluator, Input) {
				pos := marked("0.50", "0.50", now)
				return NewEvaluator(th, flag(true), nil), Input{pos, healthy("0.50", now), now}
			},
			want: domain.ConditionCircuitBreaker,
		},
		{
			name: "trailing stop triggered",
			setup: func() (*Evaluator, Input) {
				pos := marked("0.50", "0.55", now)
				pos.TrailingStop = domain.TrailingStopState{Enabled: true, State: domain.TrailingTriggered}
				return NewEvaluator(th, nil, nil), Input{pos, healthy("0.55", now), now}
			},
			want: domain.ConditionTrailingStop,
		},
		{
			name: "losing near settlement",
			setup: func() (*Evaluator, Input) {
				pos := marked("0.50", "0.48", now)
				snap := healthy("0.48", now)
				snap.SettlementTime = now.Add(5 * time.Minute)
				return NewEvaluator(th, nil, nil), Input{pos, snap, now}
			},
			want: domain.ConditionTimeBasedUrgent,
		},
		{
			name: "wide spread",
			setup: func() (*Evaluator, Input) {
				pos := marked("0.50", "0.50", now)
				snap := healthy("0.50", now)
				snap.Ask = d("0.60")
				return NewEvaluator(th, nil, nil), Input{pos, snap, now}
			},
			want: domain.ConditionLiquidityDriedUp,
		},
		{
			name: "thin volume",
			setup: func() (*Evaluator, Input) {
				pos := marked("0.50", "0.50", now)
				snap := healthy("0.50", now)
				snap.Volume = 10
				return NewEvaluator(th, nil, nil), Input{pos, snap, now}
			},
			want: domain.ConditionLiquidityDriedUp,
		},
		{
			name: "profit target",
			setup: func() (*Evaluator, Input) {
				pos := marked("0.40", "0.62", now)
				pos.Stages = domain.PartialExitStages{Stage1: true, Stage2: true}
				return NewEvaluator(th, nil, nil), Input{pos, healthy("0.62", now), now}
			},
			want: domain.ConditionProfitTarget,
		},
		{
			name: "first partial stage",
			setup: func() (*Evaluator, Input) {
				pos := marked("0.50", "0.58", now)
				return NewEvaluator(th, nil, nil), Input{pos, healthy("0.58", now), now}
			},
			want: domain.ConditionPartialExitTarget,
		},
		{
			name: "thin positive edge",
			setup: func() (*Evaluator, Input) {
				pos := marked("0.50", "0.50", now)
				prob := d("0.51")
				pos.ModelProbability = &prob
				return NewEvaluator(th, nil, nil), Input{pos, healthy("0.50", now), now}
			},
			want: domain.ConditionEarlyExit,
		},
		{
			name: "negative edge",
			setup: func() (*Evaluator, Input) {
				pos := marked("0.50", "0.50", now)
				prob := d("0.45")
				pos.ModelProbability = &prob
				return NewEvaluator(th, nil, nil), Input{pos, healthy("0.50", now), now}
			},
			want: domain.ConditionEdgeDisappeared,
		},
		{
			name: "rebalance requested",
			setup: func() (*Evaluator, Input) {
				pos := marked("0.50", "0.50", now)
				return NewEvaluator(th, nil, requested{"pos-1": true}), Input{pos, healthy("0.50", now), now}
			},
			want: domain.ConditionRebalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, in := tt.setup()
			got := e.Evaluate(in)
			assert.Equal(t, []domain.ExitCondition{tt.want}, got)
		})
	}
}

func TestEvaluate_ManyAtOnceInTableOrder(t *testing.T) {
	now := time.Now()
	e := NewEvaluator(DefaultThresholds(), flag(true), requested{"pos-1": true})
	pos := marked("0.55", "0.40", now)
	prob := d("0.30")
	pos.ModelProbability = &prob
	snap := healthy("0.40", now)
	snap.Volume = 0
	snap.SettlementTime = now.Add(time.Minute)

	got := e.Evaluate(Input{Position: pos, Snapshot: snap, Now: now})

	assert.Equal(t, []domain.ExitCondition{
		domain.ConditionStopLoss,
		domain.ConditionCircuitBreaker,
		domain.ConditionTimeBasedUrgent,
		domain.ConditionLiquidityDriedUp,
		domain.ConditionEdgeDisappeared,
		domain.ConditionRebalance,
	}, got)
}

func TestEvaluate_TimeUrgentNeedsLoss(t *testing.T) {
	now := time.Now()
	e := NewEvaluator(DefaultThresholds(), nil, nil)
	pos := marked("0.50", "0.52", now)
	snap := healthy("0.52", now)
	snap.SettlementTime = now.Add(time.Minute)

	assert.NotContains(t, e.Evaluate(Input{pos, snap, now}), domain.ConditionTimeBasedUrgent)
}

func TestEdge_NoSide(t *testing.T) {
	pos := &domain.Position{Side: domain.SideNo, CurrentPrice: d("0.40")}
	_, ok := Edge(pos)
	assert.False(t, ok)

	prob := d("0.30")
	pos.ModelProbability = &prob
	edge, ok := Edge(pos)
	require.True(t, ok)
	// NO is worth 0.70 to the model and costs 0.60.
	assert.True(t, edge.Equal(d("0.10")), "edge %s", edge)
}

func TestPlan_Quantities(t *testing.T) {
	now := time.Now()
	e := NewEvaluator(DefaultThresholds(), nil, nil)

	pos := marked("0.50", "0.58", now)
	plan, ok := e.Plan(pos, Decision{Condition: domain.ConditionPartialExitTarget, Priority: domain.PriorityMedium})
	require.True(t, ok)
	assert.Equal(t, Stage1, plan.Stage)
	assert.Equal(t, int64(50), plan.Quantity)

	plan, ok = e.Plan(pos, Decision{Condition: domain.ConditionStopLoss, Priority: domain.PriorityCritical})
	require.True(t, ok)
	assert.Equal(t, StageNone, plan.Stage)
	assert.Equal(t, int64(100), plan.Quantity)
}

func TestThresholds_Validate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())

	bad := DefaultThresholds()
	bad.StopLossPct = d("0.1")
	assert.Error(t, bad.Validate())

	bad = DefaultThresholds()
	bad.Stage2Pct = d("0.10")
	assert.Error(t, bad.Validate())

	bad = DefaultThresholds()
	bad.Stage1Fraction = d("1.5")
	assert.Error(t, bad.Validate())
}
