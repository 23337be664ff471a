package exit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/precog-trading/precog/internal/domain"
)

func TestStager_FiresEachStageOnce(t *testing.T) {
	s := NewStager(DefaultThresholds())
	pos := &domain.Position{
		ID:               "pos-1",
		Side:             domain.SideYes,
		EntryPrice:       d("0.50"),
		Quantity:         100,
		OriginalQuantity: 100,
	}

	// P&L path 10% -> 16% -> 14% -> 17% -> 26% -> 30%.
	prices := []string{"0.55", "0.58", "0.57", "0.585", "0.63", "0.65"}
	var fired []Stage
	var quantities []int64

	for _, px := range prices {
		pos.Mark(d(px), time.Now())
		stage, qty, ok := s.Next(pos)
		if !ok {
			continue
		}
		s.Mark(pos, stage)
		fired = append(fired, stage)
		quantities = append(quantities, qty)
		pos.Quantity -= qty
	}

	assert.Equal(t, []Stage{Stage1, Stage2}, fired)
	// 50% of 100 current, then 25% of the original 100.
	assert.Equal(t, []int64{50, 25}, quantities)
	assert.Equal(t, int64(25), pos.Quantity)
}

func TestStager_JumpPastBothStagesFiresSequentially(t *testing.T) {
	s := NewStager(DefaultThresholds())
	pos := &domain.Position{Side: domain.SideYes, EntryPrice: d("0.40"), Quantity: 10, OriginalQuantity: 10}
	pos.Mark(d("0.52"), time.Now())

	stage, qty, ok := s.Next(pos)
	assert.True(t, ok)
	assert.Equal(t, Stage1, stage)
	assert.Equal(t, int64(5), qty)
	s.Mark(pos, stage)
	pos.Quantity -= qty

	stage, qty, ok = s.Next(pos)
	assert.True(t, ok)
	assert.Equal(t, Stage2, stage)
	assert.Equal(t, int64(2), qty)
}

func TestStager_NeverEmptiesPosition(t *testing.T) {
	s := NewStager(DefaultThresholds())

	one := &domain.Position{Side: domain.SideYes, EntryPrice: d("0.40"), Quantity: 1, OriginalQuantity: 1}
	one.Mark(d("0.60"), time.Now())
	_, _, ok := s.Next(one)
	assert.False(t, ok)

	two := &domain.Position{Side: domain.SideYes, EntryPrice: d("0.40"), Quantity: 2, OriginalQuantity: 2}
	two.Mark(d("0.60"), time.Now())
	stage, qty, ok := s.Next(two)
	assert.True(t, ok)
	assert.Equal(t, Stage1, stage)
	assert.Equal(t, int64(1), qty)
}

func TestStager_MarkIsIdempotent(t *testing.T) {
	s := NewStager(DefaultThresholds())
	pos := &domain.Position{}
	s.Mark(pos, Stage1)
	s.Mark(pos, Stage1)
	assert.True(t, pos.Stages.Stage1)
	assert.False(t, pos.Stages.Stage2)
}
