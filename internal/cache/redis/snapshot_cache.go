package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/precog-trading/precog/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache. Each snapshot is stored as
// JSON at "snapshot:{marketID}" and expires after the configured TTL.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache whose entries expire after ttl.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: c.rdb, ttl: ttl}
}

func snapshotKey(marketID string) string {
	return "snapshot:" + marketID
}

// SetSnapshot stores snap and resets its expiry.
func (sc *SnapshotCache) SetSnapshot(ctx context.Context, snap domain.MarketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.MarketID, err)
	}
	if err := sc.rdb.Set(ctx, snapshotKey(snap.MarketID), data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.MarketID, err)
	}
	return nil
}

// GetSnapshot returns the cached snapshot or domain.ErrNotFound.
func (sc *SnapshotCache) GetSnapshot(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	data, err := sc.rdb.Get(ctx, snapshotKey(marketID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", marketID, err)
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", marketID, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
