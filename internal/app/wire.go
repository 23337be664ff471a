package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/precog-trading/precog/internal/blob/s3"
	"github.com/precog-trading/precog/internal/cache/memory"
	"github.com/precog-trading/precog/internal/cache/redis"
	"github.com/precog-trading/precog/internal/config"
	"github.com/precog-trading/precog/internal/crypto"
	"github.com/precog-trading/precog/internal/domain"
	"github.com/precog-trading/precog/internal/notify"
	"github.com/precog-trading/precog/internal/platform/kalshi"
	"github.com/precog-trading/precog/internal/server/handler"
	"github.com/precog-trading/precog/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	ExitStore     domain.ExitStore
	AuditStore    domain.AuditStore

	// Shared state. LockManager and SignalBus are nil without Redis.
	SnapshotCache domain.SnapshotCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus

	// Venue. Nil in server mode.
	Kalshi *kalshi.Client

	// Archiver is nil unless archiving is enabled.
	Archiver domain.Archiver

	// Health checks for the HTTP API.
	Health map[string]handler.Pinger

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: postgres: %w", err))
	}
	closers = append(closers, pgClient.Close)
	deps.Health["postgres"] = pgClient

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	}

	pool := pgClient.Pool()
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.ExitStore = postgres.NewExitStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis, or process-local state ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			TLSEnabled:  cfg.Redis.TLSEnabled,
			ConnectWait: 10 * time.Second,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Health["redis"] = redisClient

		deps.SnapshotCache = redis.NewSnapshotCache(redisClient, cfg.Monitor.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, 0)
	} else {
		logger.Warn("redis disabled: limiter, cache and breaker state are local to this process")
		deps.SnapshotCache = memory.NewSnapshotCache(cfg.Monitor.PriceTTL.Duration)
		deps.RateLimiter = memory.NewRateLimiter()
	}

	// --- Kalshi ---
	if cfg.RunsMonitor() {
		pemBytes, err := crypto.LoadKey(crypto.KeyConfig{
			PEMPath:          cfg.Kalshi.RSAPrivateKeyPath,
			EncryptedKeyPath: cfg.Kalshi.EncryptedKeyPath,
			KeyPassword:      cfg.Kalshi.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: kalshi key: %w", err))
		}
		client := kalshi.NewClient(cfg.Kalshi.BaseURL, cfg.Kalshi.APIKey)
		if err := client.SetRSAPrivateKey(pemBytes); err != nil {
			return fail(fmt.Errorf("wire: kalshi key: %w", err))
		}
		deps.Kalshi = client
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Health["s3"] = handler.PingFunc(s3Client.Health)

		if cfg.Archive.Enabled {
			objects := s3blob.NewObjects(s3Client)
			deps.Archiver = s3blob.NewArchiver(deps.ExitStore, objects, objects, deps.AuditStore)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Prefix, logger)

	return deps, cleanup, nil
}
