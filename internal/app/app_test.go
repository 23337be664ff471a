package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precog-trading/precog/internal/config"
	"github.com/precog-trading/precog/internal/domain"
	"github.com/precog-trading/precog/internal/executor"
	"github.com/precog-trading/precog/internal/exit"
)

func TestDefaultsMatchComponentDefaults(t *testing.T) {
	cfg := config.Defaults()

	policy := policyFromConfig(cfg.Execution)
	require.NoError(t, policy.Validate())
	want := executor.DefaultPolicy()
	assert.True(t, want.TickSize.Equal(policy.TickSize))
	assert.Equal(t, want.PollInterval, policy.PollInterval)
	assert.Equal(t, want.MaxMarketRetries, policy.MaxMarketRetries)
	assert.Equal(t, want.Tiers, policy.Tiers)

	th := thresholdsFromConfig(cfg.Exit)
	require.NoError(t, th.Validate())
	def := exit.DefaultThresholds()
	assert.True(t, def.StopLossPct.Equal(th.StopLossPct))
	assert.True(t, def.ProfitTargetPct.Equal(th.ProfitTargetPct))
	assert.True(t, def.Stage2Fraction.Equal(th.Stage2Fraction))
	assert.True(t, def.EarlyExitEdge.Equal(th.EarlyExitEdge))
	assert.Equal(t, def.TimeUrgent, th.TimeUrgent)
	assert.Equal(t, def.MinVolume, th.MinVolume)

	gw := gatewayFromConfig(&cfg)
	assert.Equal(t, "precog:outbound", gw.Key)
	assert.Equal(t, 60, gw.Limit)
	assert.Equal(t, time.Minute, gw.Window)
	assert.Equal(t, 10*time.Second, gw.SnapshotTTL)
}

func TestTrailingAndMonitorFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Exit.TrailingDistanceKind = "percent"
	cfg.Exit.TrailingDistance = 0.1

	tr := trailingFromConfig(cfg.Exit)
	require.NoError(t, tr.Validate())
	assert.Equal(t, domain.DistancePercent, tr.Distance.Kind)
	assert.Equal(t, "0.1", tr.Distance.Value.String())
	assert.Equal(t, "0.1", tr.ActivationPct.String())

	mc := monitorFromConfig(cfg.Monitor, tr)
	assert.Equal(t, 30*time.Second, mc.Cadence.Normal)
	assert.Equal(t, 5*time.Second, mc.Cadence.Urgent)
	assert.Equal(t, "0.02", mc.Cadence.Proximity.String())
	assert.Equal(t, "precog:exits", mc.ExitStream)
	assert.True(t, mc.Trailing.Enabled)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "backtest"
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "backtest"`)
}

func TestCloseRunsTeardownInReverseOnce(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var order []int
	a.onClose(func() { order = append(order, 1) })
	a.onClose(func() { order = append(order, 2) })

	a.Close()
	a.Close()
	assert.Equal(t, []int{2, 1}, order)
}
