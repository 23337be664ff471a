// Package monitor drives every open position through the exit pipeline.
// Each position is owned by one worker goroutine that marks it, updates its
// trailing stop, evaluates exit conditions and executes the winning exit.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/precog-trading/precog/internal/domain"
	"github.com/precog-trading/precog/internal/executor"
	"github.com/precog-trading/precog/internal/exit"
	"github.com/precog-trading/precog/internal/trailing"
)

// Executor runs an exit episode against the venue.
type Executor interface {
	Execute(ctx context.Context, pos *domain.Position, ord executor.Order) (executor.Result, error)
}

// Notifier delivers operator notifications. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
	NotifyAll(ctx context.Context, title, message string) error
}

// RebalanceClearer drops a handled rebalance request.
type RebalanceClearer interface {
	Clear(positionID string)
}

// Config holds the monitor settings.
type Config struct {
	Cadence        Cadence
	RescanInterval time.Duration
	LockTTL        time.Duration
	Trailing       trailing.Config
	// ExitStream receives one message per execution episode.
	ExitStream string
}

// Deps are the collaborators a Supervisor needs. Locks, Bus, Audit,
// Notifier and Rebalance are optional.
type Deps struct {
	Positions domain.PositionStore
	Feed      domain.MarketFeed
	Executor  Executor
	Evaluator *exit.Evaluator
	Locks     domain.LockManager
	Bus       domain.SignalBus
	Audit     domain.AuditStore
	Notifier  Notifier
	Rebalance RebalanceClearer
}

// Supervisor owns one worker per open position.
type Supervisor struct {
	positions domain.PositionStore
	feed      domain.MarketFeed
	exec      Executor
	eval      *exit.Evaluator
	locks     domain.LockManager
	bus       domain.SignalBus
	auditLog  domain.AuditStore
	notifier  Notifier
	rebalance RebalanceClearer

	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
	wake    chan string
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(deps Deps, cfg Config, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		positions: deps.Positions,
		feed:      deps.Feed,
		exec:      deps.Executor,
		eval:      deps.Evaluator,
		locks:     deps.Locks,
		bus:       deps.Bus,
		auditLog:  deps.Audit,
		notifier:  deps.Notifier,
		rebalance: deps.Rebalance,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "monitor")),
		now:       func() time.Time { return time.Now().UTC() },
		running:   make(map[string]struct{}),
		wake:      make(chan string, 64),
	}
}

// Track asks the supervisor to adopt a position without waiting for the
// next rescan.
func (s *Supervisor) Track(positionID string) {
	select {
	case s.wake <- positionID:
	default:
	}
}

// Running returns the number of live workers.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Run adopts open positions and blocks until ctx is cancelled and every
// worker has finished its current tick.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("monitor started")
	defer s.logger.Info("monitor stopped")

	g, gctx := errgroup.WithContext(ctx)

	s.scan(gctx, g)
	ticker := time.NewTicker(s.cfg.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gctx.Done():
			return g.Wait()
		case <-ticker.C:
			s.scan(gctx, g)
		case id := <-s.wake:
			s.spawn(gctx, g, id)
		}
	}
}

func (s *Supervisor) scan(ctx context.Context, g *errgroup.Group) {
	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "list open positions failed", slog.String("error", err.Error()))
		return
	}
	for _, p := range open {
		s.spawn(ctx, g, p.ID)
	}
}

func (s *Supervisor) spawn(ctx context.Context, g *errgroup.Group, id string) {
	s.mu.Lock()
	if _, ok := s.running[id]; ok {
		s.mu.Unlock()
		return
	}
	s.running[id] = struct{}{}
	s.mu.Unlock()

	w := &worker{s: s, id: id, log: s.logger.With(slog.String("position_id", id))}
	g.Go(func() error {
		defer func() {
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
		}()
		w.run(ctx)
		return nil
	})
}
