// Package config defines the top-level configuration for the exit engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PRECOG_* environment variables.
type Config struct {
	Kalshi      KalshiConfig      `toml:"kalshi"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Exit        ExitConfig        `toml:"exit"`
	Execution   ExecutionConfig   `toml:"execution"`
	RateLimit   RateLimitConfig   `toml:"rate_limit"`
	Gateway     GatewayConfig     `toml:"gateway"`
	Persistence PersistenceConfig `toml:"persistence"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// KalshiConfig holds Kalshi exchange API credentials and endpoints. The RSA
// key is read from RSAPrivateKeyPath, or decrypted from EncryptedKeyPath
// with KeyPassword.
type KalshiConfig struct {
	APIKey            string `toml:"api_key"`
	RSAPrivateKeyPath string `toml:"rsa_private_key_path"`
	EncryptedKeyPath  string `toml:"encrypted_key_path"`
	KeyPassword       string `toml:"key_password"`
	BaseURL           string `toml:"base_url"`
	WSURL             string `toml:"ws_url"`
	// WSEnabled streams tickers for open positions into the snapshot cache.
	WSEnabled bool `toml:"ws_enabled"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, the cache,
// limiter and breaker state are process-local and no locks are taken.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MonitorConfig controls the per-position tick loop.
type MonitorConfig struct {
	NormalInterval duration `toml:"normal_interval"`
	UrgentInterval duration `toml:"urgent_interval"`
	// UrgentProximity is the relative distance to a threshold that switches
	// a position to the urgent interval.
	UrgentProximity float64  `toml:"urgent_proximity"`
	PriceTTL        duration `toml:"price_ttl"`
	RescanInterval  duration `toml:"rescan_interval"`
	LockTTL         duration `toml:"lock_ttl"`
	ExitStream      string   `toml:"exit_stream"`
}

// ExitConfig holds the exit trigger levels. Percentages are fractions of
// cost basis.
type ExitConfig struct {
	StopLossPct     float64 `toml:"stop_loss_pct"`
	ProfitTargetPct float64 `toml:"profit_target_pct"`

	TrailingEnabled       bool    `toml:"trailing_enabled"`
	TrailingActivationPct float64 `toml:"trailing_activation_pct"`
	TrailingDistance      float64 `toml:"trailing_distance"`
	// TrailingDistanceKind is "absolute" or "percent".
	TrailingDistanceKind string `toml:"trailing_distance_kind"`

	Stage1Pct      float64 `toml:"stage1_pct"`
	Stage1Fraction float64 `toml:"stage1_fraction"`
	Stage2Pct      float64 `toml:"stage2_pct"`
	Stage2Fraction float64 `toml:"stage2_fraction"`

	TimeUrgentThreshold duration `toml:"time_urgent_threshold"`
	MaxSpread           float64  `toml:"max_spread"`
	MinVolume           int64    `toml:"min_volume"`
	EarlyExitEdge       float64  `toml:"early_exit_edge"`
}

// TierConfig is the order policy for one priority tier.
type TierConfig struct {
	Market           bool     `toml:"market"`
	Timeout          duration `toml:"timeout"`
	MaxAttempts      int      `toml:"max_attempts"`
	OffsetTicks      int      `toml:"offset_ticks"`
	EscalateToMarket bool     `toml:"escalate_to_market"`
}

// ExecutionConfig holds the order walking parameters.
type ExecutionConfig struct {
	TickSize         float64    `toml:"tick_size"`
	PollInterval     duration   `toml:"poll_interval"`
	MaxMarketRetries int        `toml:"max_market_retries"`
	Critical         TierConfig `toml:"critical"`
	High             TierConfig `toml:"high"`
	Medium           TierConfig `toml:"medium"`
	Low              TierConfig `toml:"low"`
}

// RateLimitConfig is the shared ceiling on outbound venue calls.
type RateLimitConfig struct {
	Calls  int      `toml:"calls"`
	Window duration `toml:"window"`
	Key    string   `toml:"key"`
}

// GatewayConfig holds the breaker guarding market-data calls.
type GatewayConfig struct {
	BreakerFailures uint32   `toml:"breaker_failures"`
	BreakerCooldown duration `toml:"breaker_cooldown"`
}

// PersistenceConfig bounds the retry of exit history writes.
type PersistenceConfig struct {
	InitialInterval duration `toml:"initial_interval"`
	MaxInterval     duration `toml:"max_interval"`
	MaxElapsed      duration `toml:"max_elapsed"`
}

// ArchiveConfig schedules the copy of old exit history to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Port              int      `toml:"port"`
	APIKey            string   `toml:"api_key"`
	CORSOrigins       []string `toml:"cors_origins"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// Prefix tags every title, e.g. with the deployment name.
	Prefix string `toml:"prefix"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Kalshi: KalshiConfig{
			BaseURL:   "https://api.elections.kalshi.com/trade-api/v2",
			WSURL:     "wss://api.elections.kalshi.com/trade-api/ws/v2",
			WSEnabled: true,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "precog",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "precog-archive",
			ForcePathStyle: true,
		},
		Monitor: MonitorConfig{
			NormalInterval:  duration{30 * time.Second},
			UrgentInterval:  duration{5 * time.Second},
			UrgentProximity: 0.02,
			PriceTTL:        duration{10 * time.Second},
			RescanInterval:  duration{time.Minute},
			LockTTL:         duration{15 * time.Minute},
			ExitStream:      "precog:exits",
		},
		Exit: ExitConfig{
			StopLossPct:           -0.15,
			ProfitTargetPct:       0.50,
			TrailingEnabled:       true,
			TrailingActivationPct: 0.10,
			TrailingDistance:      0.05,
			TrailingDistanceKind:  "absolute",
			Stage1Pct:             0.15,
			Stage1Fraction:        0.50,
			Stage2Pct:             0.25,
			Stage2Fraction:        0.25,
			TimeUrgentThreshold:   duration{10 * time.Minute},
			MaxSpread:             0.03,
			MinVolume:             50,
			EarlyExitEdge:         0.02,
		},
		Execution: ExecutionConfig{
			TickSize:         0.01,
			PollInterval:     duration{time.Second},
			MaxMarketRetries: 3,
			Critical:         TierConfig{Market: true, Timeout: duration{5 * time.Second}},
			High:             TierConfig{OffsetTicks: 1, Timeout: duration{10 * time.Second}, MaxAttempts: 2, EscalateToMarket: true},
			Medium:           TierConfig{OffsetTicks: 0, Timeout: duration{30 * time.Second}, MaxAttempts: 5},
			Low:              TierConfig{OffsetTicks: -1, Timeout: duration{60 * time.Second}, MaxAttempts: 10},
		},
		RateLimit: RateLimitConfig{
			Calls:  60,
			Window: duration{time.Minute},
			Key:    "precog:outbound",
		},
		Gateway: GatewayConfig{
			BreakerFailures: 5,
			BreakerCooldown: duration{30 * time.Second},
		},
		Persistence: PersistenceConfig{
			InitialInterval: duration{200 * time.Millisecond},
			MaxInterval:     duration{5 * time.Second},
			MaxElapsed:      duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			RequestsPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"position_closed", "circuit_breaker", "rebalance"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsMonitor reports whether the mode drives positions against the venue.
func (c *Config) RunsMonitor() bool {
	return c.Mode == "monitor" || c.Mode == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: monitor, server, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Kalshi credentials are only needed when this process places orders.
	if c.RunsMonitor() {
		if c.Kalshi.APIKey == "" {
			add("kalshi: api_key is required for mode %s", c.Mode)
		}
		if c.Kalshi.RSAPrivateKeyPath == "" && c.Kalshi.EncryptedKeyPath == "" {
			add("kalshi: either rsa_private_key_path or encrypted_key_path must be set for mode %s", c.Mode)
		}
		if c.Kalshi.RSAPrivateKeyPath == "" && c.Kalshi.EncryptedKeyPath != "" && c.Kalshi.KeyPassword == "" {
			add("kalshi: key_password is required when encrypted_key_path is set")
		}
		if c.Kalshi.BaseURL == "" {
			add("kalshi: base_url must not be empty")
		}
		if c.Kalshi.WSEnabled && c.Kalshi.WSURL == "" {
			add("kalshi: ws_url must not be empty when ws_enabled")
		}
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			add("database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			add("database: port must be 1-65535, got %d", c.Database.Port)
		}
		if c.Database.Database == "" {
			add("database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		add("database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
		add("database: pool_min_conns must be in [0, pool_max_conns]")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			add("s3: access_key and secret_key must be set together")
		}
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			add("archive: requires s3.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			add("archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			add("archive: cron must not be empty")
		}
	}

	c.validateMonitor(add)
	c.validateExit(add)
	c.validateExecution(add)

	if c.RateLimit.Calls < 1 {
		add("rate_limit: calls must be >= 1")
	}
	if c.RateLimit.Window.Duration <= 0 {
		add("rate_limit: window must be positive")
	}
	if c.RateLimit.Key == "" {
		add("rate_limit: key must not be empty")
	}
	if c.Gateway.BreakerFailures < 1 {
		add("gateway: breaker_failures must be >= 1")
	}
	if c.Persistence.InitialInterval.Duration <= 0 || c.Persistence.MaxElapsed.Duration <= 0 {
		add("persistence: initial_interval and max_elapsed must be positive")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		add("notify: telegram_chat_id is required when telegram_token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateMonitor(add func(string, ...any)) {
	m := c.Monitor
	if m.NormalInterval.Duration <= 0 || m.UrgentInterval.Duration <= 0 {
		add("monitor: normal_interval and urgent_interval must be positive")
	}
	if m.UrgentInterval.Duration > m.NormalInterval.Duration {
		add("monitor: urgent_interval must not exceed normal_interval")
	}
	if m.UrgentProximity < 0 {
		add("monitor: urgent_proximity must be >= 0")
	}
	if m.PriceTTL.Duration <= 0 {
		add("monitor: price_ttl must be positive")
	}
	if m.RescanInterval.Duration <= 0 {
		add("monitor: rescan_interval must be positive")
	}
	if m.LockTTL.Duration <= 0 {
		add("monitor: lock_ttl must be positive")
	}
}

func (c *Config) validateExit(add func(string, ...any)) {
	e := c.Exit
	if e.StopLossPct >= 0 {
		add("exit: stop_loss_pct must be negative, got %g", e.StopLossPct)
	}
	if e.ProfitTargetPct <= 0 {
		add("exit: profit_target_pct must be positive, got %g", e.ProfitTargetPct)
	}
	if e.Stage1Pct <= 0 || e.Stage2Pct <= e.Stage1Pct {
		add("exit: stage thresholds must satisfy 0 < stage1_pct < stage2_pct")
	}
	for name, f := range map[string]float64{"stage1_fraction": e.Stage1Fraction, "stage2_fraction": e.Stage2Fraction} {
		if f <= 0 || f > 1 {
			add("exit: %s must be in (0, 1], got %g", name, f)
		}
	}
	if e.TrailingEnabled {
		if e.TrailingActivationPct <= 0 {
			add("exit: trailing_activation_pct must be positive")
		}
		switch e.TrailingDistanceKind {
		case "absolute":
		case "percent":
			if e.TrailingDistance >= 1 {
				add("exit: percent trailing_distance must be < 1")
			}
		default:
			add("exit: trailing_distance_kind must be absolute or percent, got %q", e.TrailingDistanceKind)
		}
		if e.TrailingDistance <= 0 {
			add("exit: trailing_distance must be positive")
		}
	}
	if e.MaxSpread < 0 {
		add("exit: max_spread must be >= 0")
	}
	if e.MinVolume < 0 {
		add("exit: min_volume must be >= 0")
	}
}

func (c *Config) validateExecution(add func(string, ...any)) {
	x := c.Execution
	if x.TickSize <= 0 || x.TickSize >= 1 {
		add("execution: tick_size must be in (0, 1)")
	}
	if x.PollInterval.Duration <= 0 {
		add("execution: poll_interval must be positive")
	}
	if x.MaxMarketRetries < 0 {
		add("execution: max_market_retries must be >= 0")
	}
	for name, t := range map[string]TierConfig{"critical": x.Critical, "high": x.High, "medium": x.Medium, "low": x.Low} {
		if t.Timeout.Duration <= 0 {
			add("execution.%s: timeout must be positive", name)
		}
		if !t.Market && t.MaxAttempts < 1 {
			add("execution.%s: max_attempts must be >= 1 for limit tiers", name)
		}
	}
}
