// Package memory provides in-process cache and limiter backends used when
// Redis is disabled. They are safe for concurrent use but not shared across
// processes.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/precog-trading/precog/internal/domain"
)

type snapshotEntry struct {
	snap      domain.MarketSnapshot
	expiresAt time.Time
}

// SnapshotCache implements domain.SnapshotCache with a TTL map.
type SnapshotCache struct {
	mu      sync.RWMutex
	entries map[string]snapshotEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewSnapshotCache creates a SnapshotCache whose entries expire after ttl.
func NewSnapshotCache(ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		entries: make(map[string]snapshotEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetSnapshot stores snap under its market ID.
func (c *SnapshotCache) SetSnapshot(_ context.Context, snap domain.MarketSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[snap.MarketID] = snapshotEntry{snap: snap, expiresAt: c.now().Add(c.ttl)}
	return nil
}

// GetSnapshot returns the live entry for marketID or domain.ErrNotFound.
func (c *SnapshotCache) GetSnapshot(_ context.Context, marketID string) (domain.MarketSnapshot, error) {
	c.mu.RLock()
	e, ok := c.entries[marketID]
	c.mu.RUnlock()
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[marketID]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, marketID)
		}
		c.mu.Unlock()
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return e.snap, nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
