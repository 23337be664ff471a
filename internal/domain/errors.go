package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	// ErrStalePrice means no usable market snapshot could be obtained for
	// this tick.
	ErrStalePrice       = errors.New("stale or missing price data")
	ErrVenueUnavailable = errors.New("venue unavailable")
	ErrOrderRejected    = errors.New("order rejected by venue")
	ErrInvalidOrder     = errors.New("invalid order parameters")

	// ErrQuantityInvariant is returned when a fill would leave a position
	// with a negative remaining quantity.
	ErrQuantityInvariant = errors.New("remaining quantity would go negative")

	// ErrPersistenceExhausted is returned when an exit event or attempt could
	// not be written after all retries.
	ErrPersistenceExhausted = errors.New("persistence retries exhausted")

	// ErrPositionHalted is returned when an exit is requested for a position
	// that automation has stopped driving.
	ErrPositionHalted = errors.New("position halted")
)
