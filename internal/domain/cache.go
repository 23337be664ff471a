package domain

import (
	"context"
	"time"
)

// SnapshotCache holds recent market snapshots for a bounded time.
type SnapshotCache interface {
	SetSnapshot(ctx context.Context, snap MarketSnapshot) error
	// GetSnapshot returns ErrNotFound when the market has no live entry.
	GetSnapshot(ctx context.Context, marketID string) (MarketSnapshot, error)
}

// RateLimiter gates outbound calls under a shared ceiling of limit calls
// per window for a key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
