package exit

import (
	"github.com/precog-trading/precog/internal/domain"
)

// Decision is the single condition chosen to drive execution this tick.
type Decision struct {
	Condition domain.ExitCondition
	Priority  domain.Priority
	// Triggered is every condition that was true, in table order.
	Triggered []domain.ExitCondition
}

// Resolve picks the winner among triggered conditions: the highest tier
// wins and ties go to the earlier entry in domain.ExitConditions. It
// returns false for an empty set.
func Resolve(triggered []domain.ExitCondition) (Decision, bool) {
	if len(triggered) == 0 {
		return Decision{}, false
	}

	best := triggered[0]
	for _, c := range triggered[1:] {
		if c.Priority() > best.Priority() ||
			(c.Priority() == best.Priority() && c.Rank() < best.Rank()) {
			best = c
		}
	}

	return Decision{
		Condition: best,
		Priority:  best.Priority(),
		Triggered: triggered,
	}, true
}
