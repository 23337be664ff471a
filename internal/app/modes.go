package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/precog-trading/precog/internal/archive"
	"github.com/precog-trading/precog/internal/config"
	"github.com/precog-trading/precog/internal/domain"
	"github.com/precog-trading/precog/internal/executor"
	"github.com/precog-trading/precog/internal/exit"
	"github.com/precog-trading/precog/internal/gateway"
	"github.com/precog-trading/precog/internal/monitor"
	"github.com/precog-trading/precog/internal/notify"
	"github.com/precog-trading/precog/internal/platform/kalshi"
	"github.com/precog-trading/precog/internal/recorder"
	"github.com/precog-trading/precog/internal/server"
	"github.com/precog-trading/precog/internal/server/handler"
	"github.com/precog-trading/precog/internal/signal"
	"github.com/precog-trading/precog/internal/trailing"
)

// controls holds the breaker and rebalance state shared by the monitor and
// the HTTP API.
type controls struct {
	breaker   *signal.Breaker
	rebalance *signal.Rebalance
	listener  *signal.Listener
	publisher *signal.Publisher
}

func (a *App) newControls(deps *Dependencies) *controls {
	c := &controls{
		breaker:   signal.NewBreaker(),
		rebalance: signal.NewRebalance(),
	}
	c.listener = signal.NewListener(deps.SignalBus, c.breaker, c.rebalance, a.logger)
	c.listener.OnBreakerChange(func(ctx context.Context, st signal.BreakerState) {
		title := "Circuit breaker released"
		if st.Asserted {
			title = "Circuit breaker asserted"
		}
		if err := deps.Notifier.Notify(ctx, notify.EventBreakerChanged, title, st.Reason); err != nil {
			a.logger.WarnContext(ctx, "breaker notification failed", slog.String("error", err.Error()))
		}
	})
	c.publisher = signal.NewPublisher(deps.SignalBus, c.listener)
	return c
}

// runControls subscribes to the signal bus when one is wired.
func (a *App) runControls(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *controls) {
	if deps.SignalBus == nil {
		return
	}
	g.Go(func() error {
		return c.listener.Run(ctx)
	})
}

// MonitorMode drives open positions through the exit pipeline.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	c := a.newControls(deps)
	a.runControls(ctx, g, deps, c)

	if _, err := a.startMonitor(ctx, g, deps, c); err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// ServerMode serves the HTTP API without trading. New positions are adopted
// by whichever monitor instance rescans next.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	if deps.SignalBus == nil {
		a.logger.WarnContext(ctx, "server mode without redis: breaker and rebalance requests stay in this process")
	}

	g, ctx := errgroup.WithContext(ctx)
	c := a.newControls(deps)
	a.runControls(ctx, g, deps, c)
	a.startHTTPServer(ctx, g, deps, c, nil)

	return g.Wait()
}

// FullMode runs the monitor, the archiver and the HTTP API in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	c := a.newControls(deps)
	a.runControls(ctx, g, deps, c)

	sup, err := a.startMonitor(ctx, g, deps, c)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startArchiver(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c, sup)
	}

	return g.Wait()
}

// startMonitor builds the exit pipeline on top of the Kalshi venue and
// starts the supervisor plus the ticker stream.
func (a *App) startMonitor(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *controls) (*monitor.Supervisor, error) {
	if deps.Kalshi == nil {
		return nil, errors.New("kalshi client not wired")
	}
	policy := policyFromConfig(a.cfg.Execution)
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	th := thresholdsFromConfig(a.cfg.Exit)
	if err := th.Validate(); err != nil {
		return nil, err
	}
	tr := trailingFromConfig(a.cfg.Exit)
	if err := tr.Validate(); err != nil {
		return nil, err
	}

	venue := kalshi.NewVenue(deps.Kalshi)
	gw := gateway.New(venue, venue, deps.SnapshotCache, deps.RateLimiter, gatewayFromConfig(a.cfg), a.logger)

	rec := recorder.New(deps.ExitStore, deps.Notifier, recorder.Config{
		InitialInterval: a.cfg.Persistence.InitialInterval.Duration,
		MaxInterval:     a.cfg.Persistence.MaxInterval.Duration,
		MaxElapsedTime:  a.cfg.Persistence.MaxElapsed.Duration,
	}, a.logger)

	sup := monitor.NewSupervisor(monitor.Deps{
		Positions: deps.PositionStore,
		Feed:      gw,
		Executor:  executor.NewExecutor(gw, rec, policy, a.logger),
		Evaluator: exit.NewEvaluator(th, c.breaker, c.rebalance),
		Locks:     deps.LockManager,
		Bus:       deps.SignalBus,
		Audit:     deps.AuditStore,
		Notifier:  deps.Notifier,
		Rebalance: c.rebalance,
	}, monitorFromConfig(a.cfg.Monitor, tr), a.logger)

	g.Go(func() error {
		return sup.Run(ctx)
	})

	if a.cfg.Kalshi.WSEnabled {
		ws := kalshi.NewWSClient(a.cfg.Kalshi.WSURL, deps.Kalshi, func(ctx context.Context, q kalshi.Quote) {
			if err := gw.ApplyQuote(ctx, q.MarketID, q.Bid, q.Ask); err != nil {
				a.logger.DebugContext(ctx, "apply quote failed",
					slog.String("market_id", q.MarketID),
					slog.String("error", err.Error()),
				)
			}
		}, a.logger)
		g.Go(func() error {
			return ws.Run(ctx)
		})
		g.Go(func() error {
			return a.watchOpenMarkets(ctx, deps.PositionStore, ws)
		})
	}

	return sup, nil
}

// watchOpenMarkets keeps the ticker stream subscribed to every market that
// has an open position.
func (a *App) watchOpenMarkets(ctx context.Context, positions domain.PositionStore, ws *kalshi.WSClient) error {
	refresh := func() {
		open, err := positions.ListOpen(ctx)
		if err != nil {
			a.logger.WarnContext(ctx, "list open positions for ticker stream failed", slog.String("error", err.Error()))
			return
		}
		markets := make([]string, 0, len(open))
		for _, p := range open {
			markets = append(markets, p.MarketID)
		}
		if err := ws.Watch(markets...); err != nil {
			a.logger.WarnContext(ctx, "ticker subscribe failed, retrying on reconnect", slog.String("error", err.Error()))
		}
	}

	refresh()
	ticker := time.NewTicker(a.cfg.Monitor.RescanInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			refresh()
		}
	}
}

// startArchiver schedules the S3 copy of old exit history when enabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	sched := archive.NewScheduler(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	g.Go(func() error {
		return sched.Run(ctx, a.cfg.Archive.Cron)
	})
}

// startHTTPServer serves the API until ctx is done. tracker is nil when no
// monitor runs in this process.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *controls, tracker handler.Tracker) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Health, a.logger),
		Positions: handler.NewPositionHandler(deps.PositionStore, deps.ExitStore, tracker, a.logger),
		Control:   handler.NewControlHandler(c.publisher, deps.PositionStore, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		RequestsPerMinute: a.cfg.Server.RequestsPerMinute,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func policyFromConfig(c config.ExecutionConfig) executor.Policy {
	p := executor.DefaultPolicy()
	p.TickSize = dec(c.TickSize)
	p.PollInterval = c.PollInterval.Duration
	p.MaxMarketRetries = c.MaxMarketRetries
	tier := func(t config.TierConfig) executor.TierPolicy {
		return executor.TierPolicy{
			Market:           t.Market,
			OffsetTicks:      t.OffsetTicks,
			Timeout:          t.Timeout.Duration,
			MaxAttempts:      t.MaxAttempts,
			EscalateToMarket: t.EscalateToMarket,
		}
	}
	p.Tiers = map[domain.Priority]executor.TierPolicy{
		domain.PriorityCritical: tier(c.Critical),
		domain.PriorityHigh:     tier(c.High),
		domain.PriorityMedium:   tier(c.Medium),
		domain.PriorityLow:      tier(c.Low),
	}
	return p
}

func thresholdsFromConfig(c config.ExitConfig) exit.Thresholds {
	return exit.Thresholds{
		StopLossPct:     dec(c.StopLossPct),
		ProfitTargetPct: dec(c.ProfitTargetPct),
		Stage1Pct:       dec(c.Stage1Pct),
		Stage1Fraction:  dec(c.Stage1Fraction),
		Stage2Pct:       dec(c.Stage2Pct),
		Stage2Fraction:  dec(c.Stage2Fraction),
		TimeUrgent:      c.TimeUrgentThreshold.Duration,
		MaxSpread:       dec(c.MaxSpread),
		MinVolume:       c.MinVolume,
		EarlyExitEdge:   dec(c.EarlyExitEdge),
	}
}

func trailingFromConfig(c config.ExitConfig) trailing.Config {
	return trailing.Config{
		Enabled:       c.TrailingEnabled,
		ActivationPct: dec(c.TrailingActivationPct),
		Distance: domain.TrailingDistance{
			Kind:  domain.DistanceKind(c.TrailingDistanceKind),
			Value: dec(c.TrailingDistance),
		},
	}
}

func gatewayFromConfig(c *config.Config) gateway.Config {
	return gateway.Config{
		Key:             c.RateLimit.Key,
		Limit:           c.RateLimit.Calls,
		Window:          c.RateLimit.Window.Duration,
		SnapshotTTL:     c.Monitor.PriceTTL.Duration,
		BreakerFailures: c.Gateway.BreakerFailures,
		BreakerCooldown: c.Gateway.BreakerCooldown.Duration,
	}
}

func monitorFromConfig(c config.MonitorConfig, tr trailing.Config) monitor.Config {
	return monitor.Config{
		Cadence: monitor.Cadence{
			Normal:    c.NormalInterval.Duration,
			Urgent:    c.UrgentInterval.Duration,
			Proximity: dec(c.UrgentProximity),
		},
		RescanInterval: c.RescanInterval.Duration,
		LockTTL:        c.LockTTL.Duration,
		Trailing:       tr,
		ExitStream:     c.ExitStream,
	}
}
