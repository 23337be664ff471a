// Package app owns the exit engine's process lifecycle: it wires stores,
// shared state, the Kalshi venue, the archive and notifications, then runs
// the goroutines of the configured mode until the context ends.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/precog-trading/precog/internal/config"
)

// Operating modes.
const (
	ModeMonitor = "monitor"
	ModeServer  = "server"
	ModeFull    = "full"
)

type runFunc func(*App, context.Context, *Dependencies) error

var modes = map[string]runFunc{
	ModeMonitor: (*App).MonitorMode,
	ModeServer:  (*App).ServerMode,
	ModeFull:    (*App).FullMode,
}

type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mu       sync.Mutex
	teardown []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run wires dependencies and blocks in the configured mode. Resources
// acquired here are released by Close.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(strings.TrimSpace(a.cfg.Mode))
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "wiring dependencies", slog.String("mode", mode))
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	a.onClose(cleanup)

	return run(a, ctx, deps)
}

func (a *App) onClose(fn func()) {
	a.mu.Lock()
	a.teardown = append(a.teardown, fn)
	a.mu.Unlock()
}

// Close runs registered teardown in reverse order. Later calls do nothing.
func (a *App) Close() {
	a.mu.Lock()
	fns := a.teardown
	a.teardown = nil
	a.mu.Unlock()

	if len(fns) == 0 {
		return
	}
	a.logger.Info("releasing resources", slog.Int("count", len(fns)))
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}
