package trailing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precog-trading/precog/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func absolute(v string) domain.TrailingDistance {
	return domain.TrailingDistance{Kind: domain.DistanceAbsolute, Value: d(v)}
}

func TestUpdate_RatchetsThenTriggers(t *testing.T) {
	pos := &domain.Position{Side: domain.SideYes, EntryPrice: d("0.55")}
	st := New(pos, Config{Enabled: true, ActivationPct: d("0.10"), Distance: absolute("0.05")})
	require.True(t, st.ActivationPrice.Equal(d("0.605")), "activation %s", st.ActivationPrice)

	now := time.Now()

	st, tr := Update(st, pos.Side, d("0.55"), now)
	assert.Equal(t, TransitionNone, tr)
	assert.Equal(t, domain.TrailingInactive, st.State)

	st, tr = Update(st, pos.Side, d("0.65"), now)
	assert.Equal(t, TransitionActivated, tr)
	assert.True(t, st.PeakPrice.Equal(d("0.65")))
	assert.True(t, st.CurrentStopPrice.Equal(d("0.60")))

	st, tr = Update(st, pos.Side, d("0.70"), now)
	assert.Equal(t, TransitionRatcheted, tr)
	assert.True(t, st.CurrentStopPrice.Equal(d("0.65")))

	st, tr = Update(st, pos.Side, d("0.64"), now)
	assert.Equal(t, TransitionTriggered, tr)
	assert.Equal(t, domain.TrailingTriggered, st.State)
	assert.True(t, st.CurrentStopPrice.Equal(d("0.65")), "stop must stay at 0.65, got %s", st.CurrentStopPrice)
	assert.True(t, st.PeakPrice.Equal(d("0.70")))
	require.NotNil(t, st.TriggeredAt)

	// Triggered is terminal.
	st2, tr := Update(st, pos.Side, d("0.90"), now)
	assert.Equal(t, TransitionNone, tr)
	assert.Equal(t, st, st2)
}

func TestUpdate_AdverseMoveDoesNotLoosen(t *testing.T) {
	pos := &domain.Position{Side: domain.SideYes, EntryPrice: d("0.50")}
	st := New(pos, Config{Enabled: true, ActivationPct: d("0.10"), Distance: absolute("0.10")})
	now := time.Now()

	st, _ = Update(st, pos.Side, d("0.80"), now)
	require.True(t, st.CurrentStopPrice.Equal(d("0.70")))

	st, tr := Update(st, pos.Side, d("0.75"), now)
	assert.Equal(t, TransitionNone, tr)
	assert.True(t, st.CurrentStopPrice.Equal(d("0.70")))
	assert.True(t, st.PeakPrice.Equal(d("0.80")))
}

func TestUpdate_NoSideMirrors(t *testing.T) {
	// Holding NO at a yes price of 0.60: basis 0.40, 10% profit at 0.56.
	pos := &domain.Position{Side: domain.SideNo, EntryPrice: d("0.60")}
	st := New(pos, Config{Enabled: true, ActivationPct: d("0.10"), Distance: absolute("0.05")})
	require.True(t, st.ActivationPrice.Equal(d("0.56")), "activation %s", st.ActivationPrice)
	now := time.Now()

	st, tr := Update(st, pos.Side, d("0.58"), now)
	assert.Equal(t, TransitionNone, tr)

	st, tr = Update(st, pos.Side, d("0.50"), now)
	assert.Equal(t, TransitionActivated, tr)
	assert.True(t, st.CurrentStopPrice.Equal(d("0.55")))

	st, tr = Update(st, pos.Side, d("0.45"), now)
	assert.Equal(t, TransitionRatcheted, tr)
	assert.True(t, st.CurrentStopPrice.Equal(d("0.50")))

	st, tr = Update(st, pos.Side, d("0.48"), now)
	assert.Equal(t, TransitionNone, tr)
	assert.True(t, st.CurrentStopPrice.Equal(d("0.50")))

	_, tr = Update(st, pos.Side, d("0.51"), now)
	assert.Equal(t, TransitionTriggered, tr)
}

func TestUpdate_PercentDistance(t *testing.T) {
	pos := &domain.Position{Side: domain.SideYes, EntryPrice: d("0.40")}
	st := New(pos, Config{
		Enabled:       true,
		ActivationPct: d("0.25"),
		Distance:      domain.TrailingDistance{Kind: domain.DistancePercent, Value: d("0.10")},
	})
	now := time.Now()

	st, tr := Update(st, pos.Side, d("0.50"), now)
	require.Equal(t, TransitionActivated, tr)
	assert.True(t, st.CurrentStopPrice.Equal(d("0.45")))

	st, _ = Update(st, pos.Side, d("0.80"), now)
	assert.True(t, st.CurrentStopPrice.Equal(d("0.72")))
}

func TestUpdate_DisabledNeverActivates(t *testing.T) {
	pos := &domain.Position{Side: domain.SideYes, EntryPrice: d("0.50")}
	st := New(pos, Config{Enabled: false})

	st, tr := Update(st, pos.Side, d("0.99"), time.Now())
	assert.Equal(t, TransitionNone, tr)
	assert.False(t, st.IsActive())
	assert.False(t, st.IsTriggered())
}

// The stop must be monotone in the holder's favor for any price path.
func TestUpdate_RatchetInvariantRandomWalk(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tick := d("0.01")

	for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
		for _, dist := range []domain.TrailingDistance{
			absolute("0.03"),
			{Kind: domain.DistancePercent, Value: d("0.05")},
		} {
			pos := &domain.Position{Side: side, EntryPrice: d("0.50")}
			st := New(pos, Config{Enabled: true, ActivationPct: d("0.02"), Distance: dist})
			price := d("0.50")
			var prevStop *decimal.Decimal

			for i := 0; i < 500 && !st.IsTriggered(); i++ {
				step := tick.Mul(decimal.NewFromInt(int64(rng.Intn(5) - 2)))
				price = decimal.Min(decimal.Max(price.Add(step), d("0.01")), d("0.99"))
				st, _ = Update(st, side, price, time.Now())
				if st.State == domain.TrailingInactive {
					continue
				}
				if prevStop != nil {
					if side == domain.SideYes {
						require.True(t, st.CurrentStopPrice.GreaterThanOrEqual(*prevStop), "yes stop loosened %s -> %s", prevStop, st.CurrentStopPrice)
					} else {
						require.True(t, st.CurrentStopPrice.LessThanOrEqual(*prevStop), "no stop loosened %s -> %s", prevStop, st.CurrentStopPrice)
					}
				}
				s := st.CurrentStopPrice
				prevStop = &s
			}
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Enabled: true, Distance: absolute("0.05")}.Validate())
	assert.Error(t, Config{Enabled: true, Distance: absolute("0")}.Validate())
	assert.Error(t, Config{Enabled: true, Distance: domain.TrailingDistance{Kind: domain.DistancePercent, Value: d("1.5")}}.Validate())
	assert.Error(t, Config{Enabled: true, Distance: domain.TrailingDistance{Kind: "weird", Value: d("0.1")}}.Validate())
}
