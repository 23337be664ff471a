// Package recorder writes the exit audit trail: one row per order attempt
// and one row per fill, each retried with exponential backoff. When retries
// are exhausted an operator alert is raised and the caller must halt the
// position, because its stored quantity can no longer be trusted.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/precog-trading/precog/internal/domain"
)

// Alerter raises an operator alert. *notify.Notifier satisfies it.
type Alerter interface {
	NotifyAll(ctx context.Context, title, message string) error
}

// Config bounds the retry loop for a single write.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultConfig returns the production retry bounds.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}
}

// Recorder persists exit attempts and exit events.
type Recorder struct {
	store   domain.ExitStore
	alerter Alerter
	cfg     Config
	logger  *slog.Logger
}

// New creates a Recorder. alerter may be nil.
func New(store domain.ExitStore, alerter Alerter, cfg Config, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		alerter: alerter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "recorder")),
	}
}

// RecordAttempt appends one exit attempt row.
func (r *Recorder) RecordAttempt(ctx context.Context, a domain.ExitAttempt) error {
	err := r.retry(ctx, "append attempt", func(ctx context.Context) error {
		return r.store.AppendAttempt(ctx, a)
	})
	if err != nil {
		r.fatal(ctx, a.PositionID, fmt.Sprintf("attempt %d (%s, %s) for episode %s was not recorded: %v",
			a.AttemptNumber, a.Condition, a.Outcome, a.EpisodeID, err))
		return fmt.Errorf("recorder: append attempt %s: %w", a.ID, domain.ErrPersistenceExhausted)
	}
	return nil
}

// RecordExit writes pos and appends ev in one transaction.
func (r *Recorder) RecordExit(ctx context.Context, pos domain.Position, ev domain.ExitEvent) error {
	err := r.retry(ctx, "record exit", func(ctx context.Context) error {
		return r.store.RecordExit(ctx, pos, ev)
	})
	if err != nil {
		r.fatal(ctx, pos.ID, fmt.Sprintf("exit of %d @ %s (%s) was not recorded, stored quantity is stale: %v",
			ev.Quantity, ev.Price.String(), ev.Condition, err))
		return fmt.Errorf("recorder: record exit %s: %w", ev.ID, domain.ErrPersistenceExhausted)
	}
	return nil
}

func (r *Recorder) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = r.cfg.MaxElapsedTime

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		r.logger.Warn("write failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return err
	}, backoff.WithContext(b, ctx))
}

func (r *Recorder) fatal(ctx context.Context, positionID, msg string) {
	r.logger.Error("audit write exhausted retries",
		slog.String("position_id", positionID),
		slog.String("detail", msg),
	)
	if r.alerter == nil {
		return
	}
	title := fmt.Sprintf("FATAL: exit audit lost for position %s", positionID)
	if err := r.alerter.NotifyAll(context.WithoutCancel(ctx), title, msg); err != nil {
		r.logger.Error("fatal alert failed", slog.String("error", err.Error()))
	}
}
