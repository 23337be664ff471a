package exit

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precog-trading/precog/internal/domain"
)

func TestResolve_Empty(t *testing.T) {
	_, ok := Resolve(nil)
	assert.False(t, ok)
}

func TestResolve_HighestTierWins(t *testing.T) {
	tests := []struct {
		name      string
		triggered []domain.ExitCondition
		want      domain.ExitCondition
		priority  domain.Priority
	}{
		{
			name:      "critical beats everything",
			triggered: []domain.ExitCondition{domain.ConditionRebalance, domain.ConditionProfitTarget, domain.ConditionCircuitBreaker},
			want:      domain.ConditionCircuitBreaker,
			priority:  domain.PriorityCritical,
		},
		{
			name:      "same tier uses table order",
			triggered: []domain.ExitCondition{domain.ConditionLiquidityDriedUp, domain.ConditionTrailingStop},
			want:      domain.ConditionTrailingStop,
			priority:  domain.PriorityHigh,
		},
		{
			name:      "stop loss before circuit breaker",
			triggered: []domain.ExitCondition{domain.ConditionCircuitBreaker, domain.ConditionStopLoss},
			want:      domain.ConditionStopLoss,
			priority:  domain.PriorityCritical,
		},
		{
			name:      "profit target before partial stage",
			triggered: []domain.ExitCondition{domain.ConditionPartialExitTarget, domain.ConditionProfitTarget},
			want:      domain.ConditionProfitTarget,
			priority:  domain.PriorityMedium,
		},
		{
			name:      "single low",
			triggered: []domain.ExitCondition{domain.ConditionEdgeDisappeared},
			want:      domain.ConditionEdgeDisappeared,
			priority:  domain.PriorityLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.triggered)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Condition)
			assert.Equal(t, tt.priority, got.Priority)
			assert.Equal(t, tt.triggered, got.Triggered)
		})
	}
}

// Any non-empty subset yields exactly one winner carrying the maximum tier.
func TestResolve_TotalityOverRandomSubsets(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 1000; i++ {
		var set []domain.ExitCondition
		for _, c := range domain.ExitConditions {
			if rng.Intn(2) == 0 {
				set = append(set, c)
			}
		}
		if len(set) == 0 {
			continue
		}
		rng.Shuffle(len(set), func(a, b int) { set[a], set[b] = set[b], set[a] })

		got, ok := Resolve(set)
		require.True(t, ok)

		maxTier := domain.PriorityNone
		for _, c := range set {
			if c.Priority() > maxTier {
				maxTier = c.Priority()
			}
		}
		require.Equal(t, maxTier, got.Priority)
		require.Contains(t, set, got.Condition)

		// Deterministic regardless of input order.
		reversed := make([]domain.ExitCondition, len(set))
		for j := range set {
			reversed[len(set)-1-j] = set[j]
		}
		again, _ := Resolve(reversed)
		require.Equal(t, got.Condition, again.Condition)
	}
}
