package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists the mutable current-state row of each position.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	// Update writes the full snapshot of a position.
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	// ListOpen returns positions that are not closed and not halted.
	ListOpen(ctx context.Context) ([]Position, error)
	List(ctx context.Context, opts ListOpts) ([]Position, error)
}

// ExitStore persists the append-only exit history.
type ExitStore interface {
	// AppendAttempt inserts one exit attempt row.
	AppendAttempt(ctx context.Context, attempt ExitAttempt) error
	// RecordExit writes the updated position and appends its exit event in
	// a single transaction.
	RecordExit(ctx context.Context, pos Position, event ExitEvent) error
	ListEvents(ctx context.Context, positionID string) ([]ExitEvent, error)
	ListAttempts(ctx context.Context, positionID string) ([]ExitAttempt, error)
	// EventsBetween and AttemptsBetween return rows created in [from, to).
	EventsBetween(ctx context.Context, from, to time.Time) ([]ExitEvent, error)
	AttemptsBetween(ctx context.Context, from, to time.Time) ([]ExitAttempt, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
