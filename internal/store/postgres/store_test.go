package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precog-trading/precog/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/precog?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "precog", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t, "postgres://u:p%40ss%2Fw@db:6432/precog?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6432, Database: "precog", User: "u", Password: "p@ss/w", SSLMode: "require"}))
}

func TestPageClause(t *testing.T) {
	q, args := pageClause("SELECT 1 WHERE a = $1", []any{"a"}, 10, 20)
	assert.Equal(t, "SELECT 1 WHERE a = $1 LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{"a", 10, 20}, args)

	q, args = pageClause("SELECT 1", nil, 0, 0)
	assert.Equal(t, "SELECT 1", q)
	assert.Empty(t, args)
}

func TestParseNumeric(t *testing.T) {
	d, err := parseNumeric("price", "0.5500")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("0.55")))

	_, err = parseNumeric("price", "abc")
	assert.Error(t, err)

	p, err := parseNullNumeric("price", nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("PRECOG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PRECOG_TEST_POSTGRES_DSN not set, skipping integration test")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	if err != nil {
		t.Skipf("cannot connect to database: %v", err)
	}
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	return c
}

func TestExitStore_RecordExitIntegration(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	positions := NewPositionStore(c.Pool())
	exits := NewExitStore(c.Pool())

	now := time.Now().UTC().Truncate(time.Millisecond)
	prob := decimal.RequireFromString("0.6200")
	pos := domain.Position{
		ID:               uuid.NewString(),
		MarketID:         "KXTEST-25",
		Side:             domain.SideYes,
		Quantity:         10,
		OriginalQuantity: 10,
		EntryPrice:       decimal.RequireFromString("0.50"),
		CurrentPrice:     decimal.RequireFromString("0.50"),
		ModelProbability: &prob,
		Status:           domain.PositionStatusOpen,
		OpenedAt:         now,
	}
	require.NoError(t, positions.Create(ctx, pos))
	assert.ErrorIs(t, positions.Create(ctx, pos), domain.ErrAlreadyExists)

	episode := uuid.NewString()
	limit := decimal.RequireFromString("0.5800")
	fill := decimal.RequireFromString("0.5800")
	attempt := domain.ExitAttempt{
		ID:             uuid.NewString(),
		PositionID:     pos.ID,
		EpisodeID:      episode,
		Condition:      domain.ConditionProfitTarget,
		Priority:       domain.PriorityMedium,
		OrderType:      domain.OrderTypeLimit,
		AttemptNumber:  1,
		Quantity:       10,
		LimitPrice:     &limit,
		FillPrice:      &fill,
		FilledQuantity: 10,
		Timeout:        30 * time.Second,
		Outcome:        domain.OutcomeFilled,
		SubmittedAt:    now,
		CompletedAt:    now.Add(time.Second),
	}
	require.NoError(t, exits.AppendAttempt(ctx, attempt))
	require.NoError(t, exits.AppendAttempt(ctx, attempt))

	require.NoError(t, pos.ApplyFill(10, fill, now.Add(time.Second)))
	pos.ExitReason = domain.ConditionProfitTarget
	pos.ExitPriority = domain.PriorityMedium
	ev := domain.ExitEvent{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		EpisodeID:  episode,
		Condition:  domain.ConditionProfitTarget,
		Priority:   domain.PriorityMedium,
		Quantity:   10,
		Price:      fill,
		CreatedAt:  now.Add(time.Second),
	}
	require.NoError(t, exits.RecordExit(ctx, pos, ev))

	got, err := positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.Equal(t, int64(0), got.Quantity)
	assert.True(t, got.RealizedPnL.Equal(decimal.RequireFromString("0.8")))
	assert.Equal(t, domain.PriorityMedium, got.ExitPriority)
	require.NotNil(t, got.ModelProbability)
	assert.True(t, got.ModelProbability.Equal(prob))

	events, err := exits.ListEvents(ctx, pos.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Price.Equal(fill))

	attempts, err := exits.ListAttempts(ctx, pos.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, 30*time.Second, attempts[0].Timeout)
	require.NotNil(t, attempts[0].LimitPrice)
	assert.True(t, attempts[0].LimitPrice.Equal(limit))

	between, err := exits.AttemptsBetween(ctx, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.NotEmpty(t, between)
}
