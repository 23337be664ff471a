package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds a Config from the defaults, the TOML file at path (skipped
// when empty) and PRECOG_* environment variables, in that order. A .env file
// beside the config file or in the working directory seeds the environment
// without overriding variables already set. Load does not call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	loadDotenv(path)

	e := &envReader{lookup: os.LookupEnv}
	applyEnv(e, &cfg)
	if err := e.err(); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	return &cfg, nil
}

func loadDotenv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		if dir := filepath.Dir(configPath); dir != "." {
			candidates = append([]string{filepath.Join(dir, ".env")}, candidates...)
		}
	}
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// applyEnv maps PRECOG_* variables onto cfg. Secrets are usually supplied
// this way rather than in the file.
func applyEnv(e *envReader, cfg *Config) {
	// Kalshi
	e.str(&cfg.Kalshi.APIKey, "PRECOG_KALSHI_API_KEY")
	e.str(&cfg.Kalshi.RSAPrivateKeyPath, "PRECOG_KALSHI_RSA_PRIVATE_KEY_PATH")
	e.str(&cfg.Kalshi.EncryptedKeyPath, "PRECOG_KALSHI_ENCRYPTED_KEY_PATH")
	e.str(&cfg.Kalshi.KeyPassword, "PRECOG_KALSHI_KEY_PASSWORD")
	e.str(&cfg.Kalshi.BaseURL, "PRECOG_KALSHI_BASE_URL")
	e.str(&cfg.Kalshi.WSURL, "PRECOG_KALSHI_WS_URL")
	e.bool(&cfg.Kalshi.WSEnabled, "PRECOG_KALSHI_WS_ENABLED")

	// Database
	e.str(&cfg.Database.DSN, "DATABASE_URL")
	e.str(&cfg.Database.DSN, "PRECOG_DATABASE_DSN")
	e.str(&cfg.Database.Host, "PRECOG_DATABASE_HOST")
	e.int(&cfg.Database.Port, "PRECOG_DATABASE_PORT")
	e.str(&cfg.Database.Database, "PRECOG_DATABASE_DATABASE")
	e.str(&cfg.Database.User, "PRECOG_DATABASE_USER")
	e.str(&cfg.Database.Password, "PRECOG_DATABASE_PASSWORD")
	e.str(&cfg.Database.SSLMode, "PRECOG_DATABASE_SSL_MODE")
	e.int(&cfg.Database.PoolMaxConns, "PRECOG_DATABASE_POOL_MAX_CONNS")
	e.int(&cfg.Database.PoolMinConns, "PRECOG_DATABASE_POOL_MIN_CONNS")
	e.bool(&cfg.Database.RunMigrations, "PRECOG_DATABASE_RUN_MIGRATIONS")

	// Redis
	e.bool(&cfg.Redis.Enabled, "PRECOG_REDIS_ENABLED")
	e.str(&cfg.Redis.Addr, "PRECOG_REDIS_ADDR")
	e.str(&cfg.Redis.Password, "PRECOG_REDIS_PASSWORD")
	e.int(&cfg.Redis.DB, "PRECOG_REDIS_DB")
	e.int(&cfg.Redis.PoolSize, "PRECOG_REDIS_POOL_SIZE")
	e.int(&cfg.Redis.MaxRetries, "PRECOG_REDIS_MAX_RETRIES")
	e.bool(&cfg.Redis.TLSEnabled, "PRECOG_REDIS_TLS_ENABLED")

	// S3
	e.bool(&cfg.S3.Enabled, "PRECOG_S3_ENABLED")
	e.str(&cfg.S3.Endpoint, "PRECOG_S3_ENDPOINT")
	e.str(&cfg.S3.Region, "PRECOG_S3_REGION")
	e.str(&cfg.S3.Bucket, "PRECOG_S3_BUCKET")
	e.str(&cfg.S3.Prefix, "PRECOG_S3_PREFIX")
	e.str(&cfg.S3.AccessKey, "PRECOG_S3_ACCESS_KEY")
	e.str(&cfg.S3.SecretKey, "PRECOG_S3_SECRET_KEY")
	e.bool(&cfg.S3.UseSSL, "PRECOG_S3_USE_SSL")
	e.bool(&cfg.S3.ForcePathStyle, "PRECOG_S3_FORCE_PATH_STYLE")

	// Monitor
	e.duration(&cfg.Monitor.NormalInterval, "PRECOG_MONITOR_NORMAL_INTERVAL")
	e.duration(&cfg.Monitor.UrgentInterval, "PRECOG_MONITOR_URGENT_INTERVAL")
	e.float(&cfg.Monitor.UrgentProximity, "PRECOG_MONITOR_URGENT_PROXIMITY")
	e.duration(&cfg.Monitor.PriceTTL, "PRECOG_MONITOR_PRICE_TTL")
	e.duration(&cfg.Monitor.RescanInterval, "PRECOG_MONITOR_RESCAN_INTERVAL")
	e.duration(&cfg.Monitor.LockTTL, "PRECOG_MONITOR_LOCK_TTL")
	e.str(&cfg.Monitor.ExitStream, "PRECOG_MONITOR_EXIT_STREAM")

	// Exit
	e.float(&cfg.Exit.StopLossPct, "PRECOG_EXIT_STOP_LOSS_PCT")
	e.float(&cfg.Exit.ProfitTargetPct, "PRECOG_EXIT_PROFIT_TARGET_PCT")
	e.bool(&cfg.Exit.TrailingEnabled, "PRECOG_EXIT_TRAILING_ENABLED")
	e.float(&cfg.Exit.TrailingActivationPct, "PRECOG_EXIT_TRAILING_ACTIVATION_PCT")
	e.float(&cfg.Exit.TrailingDistance, "PRECOG_EXIT_TRAILING_DISTANCE")
	e.str(&cfg.Exit.TrailingDistanceKind, "PRECOG_EXIT_TRAILING_DISTANCE_KIND")
	e.float(&cfg.Exit.Stage1Pct, "PRECOG_EXIT_STAGE1_PCT")
	e.float(&cfg.Exit.Stage1Fraction, "PRECOG_EXIT_STAGE1_FRACTION")
	e.float(&cfg.Exit.Stage2Pct, "PRECOG_EXIT_STAGE2_PCT")
	e.float(&cfg.Exit.Stage2Fraction, "PRECOG_EXIT_STAGE2_FRACTION")
	e.duration(&cfg.Exit.TimeUrgentThreshold, "PRECOG_EXIT_TIME_URGENT_THRESHOLD")
	e.float(&cfg.Exit.MaxSpread, "PRECOG_EXIT_MAX_SPREAD")
	e.int64(&cfg.Exit.MinVolume, "PRECOG_EXIT_MIN_VOLUME")
	e.float(&cfg.Exit.EarlyExitEdge, "PRECOG_EXIT_EARLY_EXIT_EDGE")

	// Execution
	e.float(&cfg.Execution.TickSize, "PRECOG_EXECUTION_TICK_SIZE")
	e.duration(&cfg.Execution.PollInterval, "PRECOG_EXECUTION_POLL_INTERVAL")
	e.int(&cfg.Execution.MaxMarketRetries, "PRECOG_EXECUTION_MAX_MARKET_RETRIES")
	for name, tier := range map[string]*TierConfig{
		"CRITICAL": &cfg.Execution.Critical,
		"HIGH":     &cfg.Execution.High,
		"MEDIUM":   &cfg.Execution.Medium,
		"LOW":      &cfg.Execution.Low,
	} {
		prefix := "PRECOG_EXECUTION_" + name + "_"
		e.bool(&tier.Market, prefix+"MARKET")
		e.duration(&tier.Timeout, prefix+"TIMEOUT")
		e.int(&tier.MaxAttempts, prefix+"MAX_ATTEMPTS")
		e.int(&tier.OffsetTicks, prefix+"OFFSET_TICKS")
		e.bool(&tier.EscalateToMarket, prefix+"ESCALATE_TO_MARKET")
	}

	// Rate limit
	e.int(&cfg.RateLimit.Calls, "PRECOG_RATE_LIMIT_CALLS")
	e.duration(&cfg.RateLimit.Window, "PRECOG_RATE_LIMIT_WINDOW")
	e.str(&cfg.RateLimit.Key, "PRECOG_RATE_LIMIT_KEY")

	// Gateway
	e.uint32(&cfg.Gateway.BreakerFailures, "PRECOG_GATEWAY_BREAKER_FAILURES")
	e.duration(&cfg.Gateway.BreakerCooldown, "PRECOG_GATEWAY_BREAKER_COOLDOWN")

	// Persistence
	e.duration(&cfg.Persistence.InitialInterval, "PRECOG_PERSISTENCE_INITIAL_INTERVAL")
	e.duration(&cfg.Persistence.MaxInterval, "PRECOG_PERSISTENCE_MAX_INTERVAL")
	e.duration(&cfg.Persistence.MaxElapsed, "PRECOG_PERSISTENCE_MAX_ELAPSED")

	// Archive
	e.bool(&cfg.Archive.Enabled, "PRECOG_ARCHIVE_ENABLED")
	e.int(&cfg.Archive.RetentionDays, "PRECOG_ARCHIVE_RETENTION_DAYS")
	e.str(&cfg.Archive.Cron, "PRECOG_ARCHIVE_CRON")

	// Server
	e.bool(&cfg.Server.Enabled, "PRECOG_SERVER_ENABLED")
	e.int(&cfg.Server.Port, "PRECOG_SERVER_PORT")
	e.str(&cfg.Server.APIKey, "PRECOG_SERVER_API_KEY")
	e.strings(&cfg.Server.CORSOrigins, "PRECOG_SERVER_CORS_ORIGINS")

	// Notify
	e.str(&cfg.Notify.TelegramToken, "PRECOG_NOTIFY_TELEGRAM_TOKEN")
	e.str(&cfg.Notify.TelegramChatID, "PRECOG_NOTIFY_TELEGRAM_CHAT_ID")
	e.str(&cfg.Notify.DiscordWebhookURL, "PRECOG_NOTIFY_DISCORD_WEBHOOK_URL")
	e.strings(&cfg.Notify.Events, "PRECOG_NOTIFY_EVENTS")
	e.str(&cfg.Notify.Prefix, "PRECOG_NOTIFY_PREFIX")

	// Top-level
	e.str(&cfg.Mode, "PRECOG_MODE")
	e.str(&cfg.LogLevel, "PRECOG_LOG_LEVEL")
}

// envReader applies set, non-empty variables and collects parse failures.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(key, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, v, err))
}

func (e *envReader) err() error { return errors.Join(e.errs...) }

func (e *envReader) str(dst *string, key string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(dst *int, key string) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(dst *int64, key string) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) uint32(dst *uint32, key string) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = uint32(n)
	}
}

func (e *envReader) float(dst *float64, key string) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) bool(dst *bool, key string) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(dst *duration, key string) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		dst.Duration = d
	}
}

// strings splits a comma-separated list, dropping blank items.
func (e *envReader) strings(dst *[]string, key string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
