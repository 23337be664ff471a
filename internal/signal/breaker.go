// Package signal holds the external control inputs to the monitor: the
// global circuit breaker and per-position rebalance requests.
package signal

import (
	"sync"
	"time"
)

// Breaker is the global circuit-breaker flag. While asserted every open
// position exits at CRITICAL priority on its next tick.
type Breaker struct {
	mu       sync.RWMutex
	asserted bool
	reason   string
	since    time.Time
}

// NewBreaker returns a released breaker.
func NewBreaker() *Breaker {
	return &Breaker{}
}

// Asserted reports whether the breaker is set.
func (b *Breaker) Asserted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asserted
}

// Set asserts or releases the breaker. It returns true when the state
// changed.
func (b *Breaker) Set(asserted bool, reason string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.asserted == asserted {
		return false
	}
	b.asserted = asserted
	b.reason = reason
	b.since = time.Now().UTC()
	return true
}

// BreakerState is a point-in-time view of the breaker.
type BreakerState struct {
	Asserted bool      `json:"asserted"`
	Reason   string    `json:"reason,omitempty"`
	Since    time.Time `json:"since,omitempty"`
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BreakerState{Asserted: b.asserted, Reason: b.reason, Since: b.since}
}
