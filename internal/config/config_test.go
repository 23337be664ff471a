package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Kalshi.APIKey = "key-id"
	cfg.Kalshi.RSAPrivateKeyPath = "/secrets/kalshi.pem"
	return cfg
}

func TestDefaults_Validate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	server := Defaults()
	server.Mode = "server"
	assert.NoError(t, server.Validate(), "server mode needs no venue credentials")
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Exit.StopLossPct = 0.1
	cfg.Exit.Stage2Pct = 0.1
	cfg.Exit.TrailingDistanceKind = "ticks"
	cfg.Execution.Medium.MaxAttempts = 0
	cfg.Archive.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "loud"`,
		"stop_loss_pct must be negative",
		"0 < stage1_pct < stage2_pct",
		"trailing_distance_kind",
		"execution.medium: max_attempts",
		"archive: requires s3.enabled",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_KalshiKeySources(t *testing.T) {
	cfg := validConfig()
	cfg.Kalshi.RSAPrivateKeyPath = ""
	assert.ErrorContains(t, cfg.Validate(), "rsa_private_key_path or encrypted_key_path")

	cfg.Kalshi.EncryptedKeyPath = "/secrets/kalshi.enc.json"
	assert.ErrorContains(t, cfg.Validate(), "key_password is required")

	cfg.Kalshi.KeyPassword = "pw"
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "precog.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"

[kalshi]
api_key = "from-file"
rsa_private_key_path = "/k.pem"

[monitor]
normal_interval = "45s"

[exit]
stop_loss_pct = -0.2

[execution.low]
timeout = "90s"
max_attempts = 4
offset_ticks = -2
`), 0o600))

	t.Setenv("PRECOG_KALSHI_API_KEY", "from-env")
	t.Setenv("PRECOG_EXIT_MAX_SPREAD", "0.05")
	t.Setenv("PRECOG_NOTIFY_EVENTS", "position_closed, ,rebalance")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "from-env", cfg.Kalshi.APIKey)
	assert.Equal(t, 45*time.Second, cfg.Monitor.NormalInterval.Duration)
	assert.Equal(t, 5*time.Second, cfg.Monitor.UrgentInterval.Duration)
	assert.Equal(t, -0.2, cfg.Exit.StopLossPct)
	assert.Equal(t, 0.05, cfg.Exit.MaxSpread)
	assert.Equal(t, 90*time.Second, cfg.Execution.Low.Timeout.Duration)
	assert.Equal(t, 4, cfg.Execution.Low.MaxAttempts)
	assert.Equal(t, -2, cfg.Execution.Low.OffsetTicks)
	assert.Equal(t, 2, cfg.Execution.High.MaxAttempts, "untouched tiers keep defaults")
	assert.Equal(t, []string{"position_closed", "rebalance"}, cfg.Notify.Events)
	require.NoError(t, cfg.Validate())
}

func TestLoad_ReportsEveryMalformedVariable(t *testing.T) {
	t.Setenv("PRECOG_MONITOR_URGENT_INTERVAL", "not-a-duration")
	t.Setenv("PRECOG_DATABASE_PORT", "fivefour")
	t.Setenv("PRECOG_REDIS_ENABLED", "   ")

	_, err := Load("")
	require.Error(t, err)
	assert.ErrorContains(t, err, "PRECOG_MONITOR_URGENT_INTERVAL")
	assert.ErrorContains(t, err, "PRECOG_DATABASE_PORT")
	assert.NotContains(t, err.Error(), "PRECOG_REDIS_ENABLED")
}

func TestLoad_TierAndGatewayOverrides(t *testing.T) {
	t.Setenv("PRECOG_EXECUTION_MEDIUM_TIMEOUT", "45s")
	t.Setenv("PRECOG_EXECUTION_CRITICAL_MAX_ATTEMPTS", "5")
	t.Setenv("PRECOG_GATEWAY_BREAKER_FAILURES", "9")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Execution.Medium.Timeout.Duration)
	assert.Equal(t, 5, cfg.Execution.Critical.MaxAttempts)
	assert.Equal(t, uint32(9), cfg.Gateway.BreakerFailures)
}

func TestLoad_PrefixedDSNWinsOverAlias(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://alias/db")
	t.Setenv("PRECOG_DATABASE_DSN", "postgres://precog/db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://precog/db", cfg.Database.DSN)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "precog.toml")
	require.NoError(t, os.WriteFile(path, []byte("[exit]\nstop_los_pct = -0.1\n"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "exit.stop_los_pct")
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Kalshi.KeyPassword = "pw"
	cfg.Database.DSN = "postgres://u:p@h/db"
	cfg.Notify.Events = []string{"position_closed"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Kalshi.APIKey)
	assert.Equal(t, "***", out.Kalshi.KeyPassword)
	assert.Equal(t, "***", out.Database.DSN)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")
	assert.Equal(t, "key-id", cfg.Kalshi.APIKey)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "position_closed", cfg.Notify.Events[0])
}
