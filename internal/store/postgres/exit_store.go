package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/precog-trading/precog/internal/domain"
)

// ExitStore implements domain.ExitStore. Both tables are insert-only.
type ExitStore struct {
	pool *pgxpool.Pool
}

// NewExitStore creates a new ExitStore backed by the given connection pool.
func NewExitStore(pool *pgxpool.Pool) *ExitStore {
	return &ExitStore{pool: pool}
}

// AppendAttempt inserts one exit attempt row. Re-inserting the same attempt
// ID is a no-op so a retried write after a lost acknowledgement is safe.
func (s *ExitStore) AppendAttempt(ctx context.Context, a domain.ExitAttempt) error {
	const query = `
		INSERT INTO exit_attempts (
			id, position_id, episode_id, condition, priority, order_type,
			attempt_number, quantity, limit_price, fill_price, filled_quantity,
			timeout_ms, outcome, venue_order_id, error, submitted_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9::numeric, $10::numeric, $11,
			$12, $13, $14, $15, $16, $17
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.PositionID, a.EpisodeID, string(a.Condition), a.Priority.String(), string(a.OrderType),
		a.AttemptNumber, a.Quantity, nullNumeric(a.LimitPrice), nullNumeric(a.FillPrice), a.FilledQuantity,
		a.Timeout.Milliseconds(), string(a.Outcome), a.VenueOrderID, a.Error, a.SubmittedAt, a.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append attempt %s: %w", a.ID, err)
	}
	return nil
}

// RecordExit updates the position and appends its exit event in one
// transaction. A replayed event ID leaves both untouched.
func (s *ExitStore) RecordExit(ctx context.Context, pos domain.Position, ev domain.ExitEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: record exit %s: begin: %w", ev.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insert = `
		INSERT INTO position_exits (id, position_id, episode_id, condition, priority, quantity, price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8)
		ON CONFLICT (id) DO NOTHING`

	tag, err := tx.Exec(ctx, insert,
		ev.ID, ev.PositionID, ev.EpisodeID, string(ev.Condition), ev.Priority.String(),
		ev.Quantity, numeric(ev.Price), ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record exit %s: insert event: %w", ev.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if err := updatePosition(ctx, tx, pos); err != nil {
		return fmt.Errorf("postgres: record exit %s: %w", ev.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: record exit %s: commit: %w", ev.ID, err)
	}
	return nil
}

const eventSelectCols = `id, position_id, episode_id, condition, priority, quantity, price::text, created_at`

func scanEvents(rows pgx.Rows) ([]domain.ExitEvent, error) {
	defer rows.Close()
	var events []domain.ExitEvent
	for rows.Next() {
		var (
			ev                  domain.ExitEvent
			condition, priority string
			price               string
		)
		if err := rows.Scan(&ev.ID, &ev.PositionID, &ev.EpisodeID, &condition, &priority,
			&ev.Quantity, &price, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Condition = domain.ExitCondition(condition)
		ev.Priority = domain.ParsePriority(priority)
		var err error
		if ev.Price, err = parseNumeric("price", price); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

const attemptSelectCols = `id, position_id, episode_id, condition, priority, order_type,
	attempt_number, quantity, limit_price::text, fill_price::text, filled_quantity,
	timeout_ms, outcome, venue_order_id, error, submitted_at, completed_at`

func scanAttempts(rows pgx.Rows) ([]domain.ExitAttempt, error) {
	defer rows.Close()
	var attempts []domain.ExitAttempt
	for rows.Next() {
		var (
			a                                       domain.ExitAttempt
			condition, priority, orderType, outcome string
			limitPrice, fillPrice                   *string
			timeoutMs                               int64
		)
		if err := rows.Scan(&a.ID, &a.PositionID, &a.EpisodeID, &condition, &priority, &orderType,
			&a.AttemptNumber, &a.Quantity, &limitPrice, &fillPrice, &a.FilledQuantity,
			&timeoutMs, &outcome, &a.VenueOrderID, &a.Error, &a.SubmittedAt, &a.CompletedAt); err != nil {
			return nil, err
		}
		a.Condition = domain.ExitCondition(condition)
		a.Priority = domain.ParsePriority(priority)
		a.OrderType = domain.OrderType(orderType)
		a.Outcome = domain.AttemptOutcome(outcome)
		a.Timeout = time.Duration(timeoutMs) * time.Millisecond

		var err error
		if a.LimitPrice, err = parseNullNumeric("limit_price", limitPrice); err != nil {
			return nil, err
		}
		if a.FillPrice, err = parseNullNumeric("fill_price", fillPrice); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListEvents returns a position's exit events oldest first.
func (s *ExitStore) ListEvents(ctx context.Context, positionID string) ([]domain.ExitEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM position_exits WHERE position_id = $1 ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exit events %s: %w", positionID, err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exit events %s: %w", positionID, err)
	}
	return events, nil
}

// ListAttempts returns a position's exit attempts in submission order.
func (s *ExitStore) ListAttempts(ctx context.Context, positionID string) ([]domain.ExitAttempt, error) {
	query := `SELECT ` + attemptSelectCols + ` FROM exit_attempts
		WHERE position_id = $1 ORDER BY submitted_at, attempt_number`
	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exit attempts %s: %w", positionID, err)
	}
	attempts, err := scanAttempts(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exit attempts %s: %w", positionID, err)
	}
	return attempts, nil
}

// EventsBetween returns exit events created in [from, to).
func (s *ExitStore) EventsBetween(ctx context.Context, from, to time.Time) ([]domain.ExitEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM position_exits
		WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: exit events between: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: exit events between: %w", err)
	}
	return events, nil
}

// AttemptsBetween returns exit attempts completed in [from, to).
func (s *ExitStore) AttemptsBetween(ctx context.Context, from, to time.Time) ([]domain.ExitAttempt, error) {
	query := `SELECT ` + attemptSelectCols + ` FROM exit_attempts
		WHERE completed_at >= $1 AND completed_at < $2 ORDER BY completed_at, id`
	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: exit attempts between: %w", err)
	}
	attempts, err := scanAttempts(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: exit attempts between: %w", err)
	}
	return attempts, nil
}

// Compile-time interface check.
var _ domain.ExitStore = (*ExitStore)(nil)
