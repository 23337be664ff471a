// Package redis implements the shared-state backends used when more than one
// engine instance runs: snapshot cache, outbound rate limiter, per-position
// locks and the signal bus.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const clientName = "precog"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// DialTimeout bounds connection setup. Zero uses the driver default.
	DialTimeout time.Duration
	// ConnectWait is how long New keeps retrying the first ping. Zero tries
	// once.
	ConnectWait time.Duration
}

// Client owns the go-redis connection pool shared by the backends in this
// package.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and waits up to cfg.ConnectWait for it to answer.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		ClientName:   clientName,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = cfg.ConnectWait
	var policy backoff.BackOff = backoff.WithContext(b, ctx)
	if cfg.ConnectWait <= 0 {
		policy = backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	if err := backoff.Retry(func() error { return rdb.Ping(ctx).Err() }, policy); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	return &Client{rdb: rdb}, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
