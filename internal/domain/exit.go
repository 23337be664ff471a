package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Priority ranks how urgently an exit condition must be executed. Higher
// values are more urgent.
type Priority int

const (
	PriorityNone Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String returns the tier name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	default:
		return ""
	}
}

// ParsePriority is the inverse of Priority.String.
func ParsePriority(s string) Priority {
	switch s {
	case "CRITICAL":
		return PriorityCritical
	case "HIGH":
		return PriorityHigh
	case "MEDIUM":
		return PriorityMedium
	case "LOW":
		return PriorityLow
	default:
		return PriorityNone
	}
}

// ExitCondition names one of the exit predicates.
type ExitCondition string

const (
	ConditionStopLoss          ExitCondition = "stop_loss"
	ConditionCircuitBreaker    ExitCondition = "circuit_breaker"
	ConditionTrailingStop      ExitCondition = "trailing_stop"
	ConditionTimeBasedUrgent   ExitCondition = "time_based_urgent"
	ConditionLiquidityDriedUp  ExitCondition = "liquidity_dried_up"
	ConditionProfitTarget      ExitCondition = "profit_target"
	ConditionPartialExitTarget ExitCondition = "partial_exit_target"
	ConditionEarlyExit         ExitCondition = "early_exit"
	ConditionEdgeDisappeared   ExitCondition = "edge_disappeared"
	ConditionRebalance         ExitCondition = "rebalance"
)

// ExitConditions lists every condition in resolution order. Within a tier
// the earlier entry wins.
var ExitConditions = []ExitCondition{
	ConditionStopLoss,
	ConditionCircuitBreaker,
	ConditionTrailingStop,
	ConditionTimeBasedUrgent,
	ConditionLiquidityDriedUp,
	ConditionProfitTarget,
	ConditionPartialExitTarget,
	ConditionEarlyExit,
	ConditionEdgeDisappeared,
	ConditionRebalance,
}

var conditionPriority = map[ExitCondition]Priority{
	ConditionStopLoss:          PriorityCritical,
	ConditionCircuitBreaker:    PriorityCritical,
	ConditionTrailingStop:      PriorityHigh,
	ConditionTimeBasedUrgent:   PriorityHigh,
	ConditionLiquidityDriedUp:  PriorityHigh,
	ConditionProfitTarget:      PriorityMedium,
	ConditionPartialExitTarget: PriorityMedium,
	ConditionEarlyExit:         PriorityLow,
	ConditionEdgeDisappeared:   PriorityLow,
	ConditionRebalance:         PriorityLow,
}

// Priority returns the fixed tier of the condition.
func (c ExitCondition) Priority() Priority {
	return conditionPriority[c]
}

// Rank returns the condition's position in ExitConditions, or -1.
func (c ExitCondition) Rank() int {
	for i, ec := range ExitConditions {
		if ec == c {
			return i
		}
	}
	return -1
}

// ExitEvent is one append-only row per completed or partial exit.
type ExitEvent struct {
	ID         string          `json:"id"`
	PositionID string          `json:"position_id"`
	EpisodeID  string          `json:"episode_id"`
	Condition  ExitCondition   `json:"condition"`
	Priority   Priority        `json:"priority"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AttemptOutcome is the terminal result of a single order submission.
type AttemptOutcome string

const (
	OutcomeFilled    AttemptOutcome = "filled"
	OutcomeTimedOut  AttemptOutcome = "timed_out"
	OutcomeEscalated AttemptOutcome = "escalated"
	OutcomeAbandoned AttemptOutcome = "abandoned"
	OutcomeRejected  AttemptOutcome = "rejected"
)

// ExitAttempt is one append-only row per order submission.
type ExitAttempt struct {
	ID             string           `json:"id"`
	PositionID     string           `json:"position_id"`
	EpisodeID      string           `json:"episode_id"`
	Condition      ExitCondition    `json:"condition"`
	Priority       Priority         `json:"priority"`
	OrderType      OrderType        `json:"order_type"`
	AttemptNumber  int              `json:"attempt_number"`
	Quantity       int64            `json:"quantity"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	FillPrice      *decimal.Decimal `json:"fill_price,omitempty"`
	FilledQuantity int64            `json:"filled_quantity"`
	Timeout        time.Duration    `json:"timeout"`
	Outcome        AttemptOutcome   `json:"outcome"`
	VenueOrderID   string           `json:"venue_order_id,omitempty"`
	Error          string           `json:"error,omitempty"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	CompletedAt    time.Time        `json:"completed_at"`
}
