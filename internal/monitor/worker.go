package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/precog-trading/precog/internal/domain"
	"github.com/precog-trading/precog/internal/executor"
	"github.com/precog-trading/precog/internal/exit"
	"github.com/precog-trading/precog/internal/trailing"
)

// worker is the single owner of one position. Every tick reloads the
// position under its lock, so state written by a finished tick is what the
// next tick sees.
type worker struct {
	s   *Supervisor
	id  string
	log *slog.Logger
}

func (w *worker) run(ctx context.Context) {
	w.log.Info("position worker started")
	defer w.log.Info("position worker stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next, done := w.tick(ctx)
		if done {
			return
		}
		timer.Reset(next)
	}
}

// tick runs the full pipeline once. It returns the delay until the next
// tick, or done once the position no longer needs watching.
func (w *worker) tick(ctx context.Context) (time.Duration, bool) {
	s := w.s
	normal := s.cfg.Cadence.Normal

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "position:"+w.id, s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			w.log.DebugContext(ctx, "position locked elsewhere, skipping tick")
			return normal, false
		}
		if err != nil {
			w.log.WarnContext(ctx, "position lock failed", slog.String("error", err.Error()))
			return normal, false
		}
		defer unlock()
	}

	pos, err := s.positions.GetByID(ctx, w.id)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, true
	}
	if err != nil {
		w.log.WarnContext(ctx, "load position failed", slog.String("error", err.Error()))
		return normal, false
	}
	if pos.IsTerminal() {
		return 0, true
	}

	now := s.now()
	if !pos.TrailingStop.Enabled && pos.TrailingStop.State == "" && s.cfg.Trailing.Enabled {
		pos.TrailingStop = trailing.New(&pos, s.cfg.Trailing)
	}

	snap, err := s.feed.Snapshot(ctx, pos.MarketID)
	if err == nil && !snap.Valid() {
		err = domain.ErrStalePrice
	}
	if err != nil {
		w.log.WarnContext(ctx, "stale price, skipping evaluation",
			slog.String("market_id", pos.MarketID),
			slog.String("error", err.Error()),
		)
		pos.LastUpdate = now
		s.save(ctx, &pos)
		return s.cfg.Cadence.NextInterval(&pos, s.eval.Thresholds()), false
	}

	pos.Mark(snap.MarkFor(pos.Side), now)

	var tr trailing.Transition
	pos.TrailingStop, tr = trailing.Update(pos.TrailingStop, pos.Side, pos.CurrentPrice, now)
	if tr != trailing.TransitionNone {
		w.log.InfoContext(ctx, "trailing stop "+string(tr),
			slog.String("price", pos.CurrentPrice.String()),
			slog.String("peak", pos.TrailingStop.PeakPrice.String()),
			slog.String("stop", pos.TrailingStop.CurrentStopPrice.String()),
		)
	}

	triggered := s.eval.Evaluate(exit.Input{Position: &pos, Snapshot: snap, Now: now})
	decision, ok := exit.Resolve(triggered)
	if !ok {
		s.save(ctx, &pos)
		return s.cfg.Cadence.NextInterval(&pos, s.eval.Thresholds()), false
	}

	w.log.InfoContext(ctx, "exit triggered",
		slog.String("condition", string(decision.Condition)),
		slog.String("priority", decision.Priority.String()),
		slog.String("triggered", joinConditions(triggered)),
		slog.String("pnl_pct", pos.UnrealizedPnLPct.String()),
	)

	plan, ok := s.eval.Plan(&pos, decision)
	if !ok {
		s.save(ctx, &pos)
		return s.cfg.Cadence.NextInterval(&pos, s.eval.Thresholds()), false
	}
	if plan.Stage != exit.StageNone {
		s.eval.Stager().Mark(&pos, plan.Stage)
	}
	pos.ExitReason = plan.Condition
	pos.ExitPriority = plan.Priority
	// The stage mark, exit reason and trailing state must be durable before
	// any order reaches the venue.
	if err := s.positions.Update(ctx, pos); err != nil {
		w.log.ErrorContext(ctx, "persist before exit failed, not executing", slog.String("error", err.Error()))
		return normal, false
	}

	res, err := s.exec.Execute(ctx, &pos, executor.Order{
		Condition: plan.Condition,
		Priority:  plan.Priority,
		Quantity:  plan.Quantity,
		Snapshot:  snap,
	})
	if err != nil {
		if errors.Is(err, domain.ErrPersistenceExhausted) || errors.Is(err, domain.ErrQuantityInvariant) {
			s.halt(ctx, &pos, err)
			return 0, true
		}
		w.log.WarnContext(ctx, "exit execution failed", slog.String("error", err.Error()))
	}

	if pos.Status == domain.PositionStatusClosed ||
		(decision.Condition == domain.ConditionRebalance && res.Outcome == executor.OutcomeFilled) {
		s.clearRebalance(pos.ID)
	}
	if res.Outcome == executor.OutcomeFailed && decision.Priority == domain.PriorityCritical {
		s.alert(ctx, fmt.Sprintf("CRITICAL exit failed for position %s", pos.ID),
			fmt.Sprintf("%s exit of %d contracts on %s got no fill after %d market attempts",
				decision.Condition, plan.Quantity, pos.MarketID, res.Attempts))
	}

	s.save(ctx, &pos)
	s.publish(ctx, &pos, plan, res)

	if pos.Status == domain.PositionStatusClosed {
		w.log.InfoContext(ctx, "position closed",
			slog.String("reason", string(pos.ExitReason)),
			slog.String("realized_pnl", pos.RealizedPnL.String()),
		)
		s.audit(ctx, "position_closed", map[string]any{
			"position_id":  pos.ID,
			"reason":       string(pos.ExitReason),
			"priority":     pos.ExitPriority.String(),
			"realized_pnl": pos.RealizedPnL.String(),
		})
		s.notify(ctx, "position_closed", fmt.Sprintf("Position %s closed", pos.ID),
			fmt.Sprintf("%s on %s, realized P&L %s", pos.ExitReason, pos.MarketID, pos.RealizedPnL.StringFixed(2)))
		return 0, true
	}
	return s.cfg.Cadence.NextInterval(&pos, s.eval.Thresholds()), false
}

// ExitMessage is appended to the exit stream after every execution episode.
type ExitMessage struct {
	PositionID string    `json:"position_id"`
	EpisodeID  string    `json:"episode_id"`
	Condition  string    `json:"condition"`
	Priority   string    `json:"priority"`
	Outcome    string    `json:"outcome"`
	Requested  int64     `json:"requested"`
	Filled     int64     `json:"filled"`
	AvgPrice   string    `json:"avg_price"`
	Remaining  int64     `json:"remaining"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
}

func (s *Supervisor) publish(ctx context.Context, pos *domain.Position, plan exit.Plan, res executor.Result) {
	if s.bus == nil {
		return
	}
	msg := ExitMessage{
		PositionID: pos.ID,
		EpisodeID:  res.EpisodeID,
		Condition:  string(plan.Condition),
		Priority:   plan.Priority.String(),
		Outcome:    string(res.Outcome),
		Requested:  res.Requested,
		Filled:     res.Filled,
		AvgPrice:   res.AvgPrice.String(),
		Remaining:  pos.Quantity,
		Status:     string(pos.Status),
		At:         s.now(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.bus.StreamAppend(ctx, s.cfg.ExitStream, payload); err != nil {
		s.logger.WarnContext(ctx, "exit stream append failed", slog.String("error", err.Error()))
	}
}

func (s *Supervisor) save(ctx context.Context, pos *domain.Position) {
	if err := s.positions.Update(ctx, *pos); err != nil {
		s.logger.ErrorContext(ctx, "persist position failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

// halt stops automated handling of pos and raises an operator alert.
func (s *Supervisor) halt(ctx context.Context, pos *domain.Position, cause error) {
	ctx = context.WithoutCancel(ctx)
	pos.Halt(cause.Error())
	s.logger.ErrorContext(ctx, "position halted",
		slog.String("position_id", pos.ID),
		slog.Int64("quantity", pos.Quantity),
		slog.String("error", cause.Error()),
	)
	s.save(ctx, pos)
	s.audit(ctx, "position_halted", map[string]any{
		"position_id": pos.ID,
		"quantity":    pos.Quantity,
		"reason":      cause.Error(),
	})
	s.alert(ctx, fmt.Sprintf("Position %s halted", pos.ID),
		fmt.Sprintf("market %s, %d contracts believed open: %v", pos.MarketID, pos.Quantity, cause))
}

func (s *Supervisor) audit(ctx context.Context, event string, detail map[string]any) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *Supervisor) alert(ctx context.Context, title, msg string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyAll(ctx, title, msg); err != nil {
		s.logger.WarnContext(ctx, "alert failed", slog.String("error", err.Error()))
	}
}

func (s *Supervisor) notify(ctx context.Context, event, title, msg string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, msg); err != nil {
		s.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
	}
}

func (s *Supervisor) clearRebalance(id string) {
	if s.rebalance != nil {
		s.rebalance.Clear(id)
	}
}

func joinConditions(cs []domain.ExitCondition) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}
