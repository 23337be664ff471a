package exit

import (
	"github.com/shopspring/decimal"

	"github.com/precog-trading/precog/internal/domain"
)

// Stage identifies a profit-taking stage.
type Stage int

const (
	StageNone Stage = iota
	Stage1
	Stage2
)

// Stager decides staged partial exits. The fired-stage record lives on the
// position so it is persisted with every snapshot.
type Stager struct {
	th Thresholds
}

// NewStager creates a Stager for the given thresholds.
func NewStager(th Thresholds) *Stager {
	return &Stager{th: th}
}

// Next returns the stage that should fire now and how many contracts it
// exits. Stage 1 takes a fraction of the current quantity; stage 2 takes a
// fraction of the original quantity. A stage never empties the position.
func (s *Stager) Next(pos *domain.Position) (Stage, int64, bool) {
	if pos.Quantity <= 1 {
		return StageNone, 0, false
	}
	pct := pos.UnrealizedPnLPct

	switch {
	case !pos.Stages.Stage1 && pct.GreaterThanOrEqual(s.th.Stage1Pct):
		qty := stageQuantity(pos.Quantity, s.th.Stage1Fraction, pos.Quantity)
		return Stage1, qty, qty > 0
	case pos.Stages.Stage1 && !pos.Stages.Stage2 && pct.GreaterThanOrEqual(s.th.Stage2Pct):
		qty := stageQuantity(pos.OriginalQuantity, s.th.Stage2Fraction, pos.Quantity)
		return Stage2, qty, qty > 0
	}
	return StageNone, 0, false
}

// Mark records that stage has fired. Marking is idempotent.
func (s *Stager) Mark(pos *domain.Position, stage Stage) {
	switch stage {
	case Stage1:
		pos.Stages.Stage1 = true
	case Stage2:
		pos.Stages.Stage2 = true
	}
}

// stageQuantity floors base*fraction, keeps at least one contract, and
// leaves at least one contract of remaining open.
func stageQuantity(base int64, fraction decimal.Decimal, remaining int64) int64 {
	qty := decimal.NewFromInt(base).Mul(fraction).Floor().IntPart()
	if qty < 1 {
		qty = 1
	}
	if qty > remaining-1 {
		qty = remaining - 1
	}
	return qty
}
