package signal

import "sync"

// Rebalance tracks positions a portfolio rebalance has asked to exit.
type Rebalance struct {
	mu        sync.RWMutex
	requested map[string]struct{}
}

// NewRebalance returns an empty request set.
func NewRebalance() *Rebalance {
	return &Rebalance{requested: make(map[string]struct{})}
}

// Request marks positionID for exit.
func (r *Rebalance) Request(positionID string) {
	r.mu.Lock()
	r.requested[positionID] = struct{}{}
	r.mu.Unlock()
}

// Requested reports whether positionID has a pending request.
func (r *Rebalance) Requested(positionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.requested[positionID]
	return ok
}

// Clear drops the request once the position has been handled.
func (r *Rebalance) Clear(positionID string) {
	r.mu.Lock()
	delete(r.requested, positionID)
	r.mu.Unlock()
}
