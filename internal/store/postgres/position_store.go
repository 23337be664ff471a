package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/precog-trading/precog/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, market_id, side, quantity, original_quantity,
	entry_price::text, current_price::text, unrealized_pnl::text,
	unrealized_pnl_pct::text, realized_pnl::text, model_probability::text,
	status, last_update, exit_reason, exit_priority, trailing_stop,
	stage1_done, stage2_done, halted, halt_reason, strategy, opened_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                                       domain.Position
		side, status, exitReason, exitPriority  string
		entry, current, upnl, upnlPct, realized string
		prob                                    *string
		lastUpdate                              *time.Time
		trailingJSON                            []byte
	)

	err := row.Scan(
		&p.ID, &p.MarketID, &side, &p.Quantity, &p.OriginalQuantity,
		&entry, &current, &upnl,
		&upnlPct, &realized, &prob,
		&status, &lastUpdate, &exitReason, &exitPriority, &trailingJSON,
		&p.Stages.Stage1, &p.Stages.Stage2, &p.Halted, &p.HaltReason, &p.Strategy, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	p.ExitReason = domain.ExitCondition(exitReason)
	p.ExitPriority = domain.ParsePriority(exitPriority)
	if lastUpdate != nil {
		p.LastUpdate = *lastUpdate
	}

	for _, f := range []struct {
		col string
		src string
		dst *decimal.Decimal
	}{
		{"entry_price", entry, &p.EntryPrice},
		{"current_price", current, &p.CurrentPrice},
		{"unrealized_pnl", upnl, &p.UnrealizedPnL},
		{"unrealized_pnl_pct", upnlPct, &p.UnrealizedPnLPct},
		{"realized_pnl", realized, &p.RealizedPnL},
	} {
		if *f.dst, err = parseNumeric(f.col, f.src); err != nil {
			return domain.Position{}, err
		}
	}
	if p.ModelProbability, err = parseNullNumeric("model_probability", prob); err != nil {
		return domain.Position{}, err
	}

	if len(trailingJSON) > 0 {
		if err := json.Unmarshal(trailingJSON, &p.TrailingStop); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: unmarshal trailing_stop %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position. It returns domain.ErrAlreadyExists when the
// ID is taken.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	trailingJSON, err := json.Marshal(p.TrailingStop)
	if err != nil {
		return fmt.Errorf("postgres: marshal trailing_stop %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO positions (
			id, market_id, side, quantity, original_quantity,
			entry_price, current_price, unrealized_pnl, unrealized_pnl_pct, realized_pnl,
			model_probability, status, last_update, exit_reason, exit_priority,
			trailing_stop, stage1_done, stage2_done, halted, halt_reason,
			strategy, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::numeric, $7::numeric, $8::numeric, $9::numeric, $10::numeric,
			$11::numeric, $12, $13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22, $23, NOW()
		)`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.MarketID, string(p.Side), p.Quantity, p.OriginalQuantity,
		numeric(p.EntryPrice), numeric(p.CurrentPrice), numeric(p.UnrealizedPnL), numeric(p.UnrealizedPnLPct), numeric(p.RealizedPnL),
		nullNumeric(p.ModelProbability), string(p.Status), nullTime(p.LastUpdate), string(p.ExitReason), p.ExitPriority.String(),
		trailingJSON, p.Stages.Stage1, p.Stages.Stage2, p.Halted, p.HaltReason,
		p.Strategy, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: create position %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update writes the full mutable snapshot of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	return updatePosition(ctx, s.pool, p)
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updatePosition(ctx context.Context, db execer, p domain.Position) error {
	trailingJSON, err := json.Marshal(p.TrailingStop)
	if err != nil {
		return fmt.Errorf("postgres: marshal trailing_stop %s: %w", p.ID, err)
	}

	const query = `
		UPDATE positions SET
			quantity           = $2,
			current_price      = $3::numeric,
			unrealized_pnl     = $4::numeric,
			unrealized_pnl_pct = $5::numeric,
			realized_pnl       = $6::numeric,
			model_probability  = $7::numeric,
			status             = $8,
			last_update        = $9,
			exit_reason        = $10,
			exit_priority      = $11,
			trailing_stop      = $12,
			stage1_done        = $13,
			stage2_done        = $14,
			halted             = $15,
			halt_reason        = $16,
			closed_at          = $17,
			updated_at         = NOW()
		WHERE id = $1`

	tag, err := db.Exec(ctx, query,
		p.ID, p.Quantity,
		numeric(p.CurrentPrice), numeric(p.UnrealizedPnL), numeric(p.UnrealizedPnLPct), numeric(p.RealizedPnL),
		nullNumeric(p.ModelProbability), string(p.Status), nullTime(p.LastUpdate),
		string(p.ExitReason), p.ExitPriority.String(), trailingJSON,
		p.Stages.Stage1, p.Stages.Stage2, p.Halted, p.HaltReason, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns positions that are neither closed nor halted.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE status <> 'closed' AND NOT halted ORDER BY opened_at`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	return positions, nil
}

// List returns positions newest first with optional time bounds on
// opened_at.
func (s *PositionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	query, args := windowClause(query, nil, "opened_at", opts)
	query += " ORDER BY opened_at DESC"
	query, args = pageClause(query, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	return positions, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
