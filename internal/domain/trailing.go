package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrailingState is the lifecycle state of a position's trailing stop.
type TrailingState string

const (
	TrailingInactive  TrailingState = "inactive"
	TrailingActive    TrailingState = "active"
	TrailingTriggered TrailingState = "triggered"
)

// DistanceKind selects how a trailing distance is applied to the peak.
type DistanceKind string

const (
	DistanceAbsolute DistanceKind = "absolute"
	DistancePercent  DistanceKind = "percent"
)

// TrailingDistance is either a fixed price increment or a fraction of the
// peak price (0.05 means 5%).
type TrailingDistance struct {
	Kind  DistanceKind    `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

// TrailingStopState is the ratchet record embedded in every position.
type TrailingStopState struct {
	Enabled          bool             `json:"enabled"`
	State            TrailingState    `json:"state"`
	ActivationPrice  decimal.Decimal  `json:"activation_price"`
	PeakPrice        decimal.Decimal  `json:"peak_price"`
	CurrentStopPrice decimal.Decimal  `json:"current_stop_price"`
	Distance         TrailingDistance `json:"distance"`
	ActivatedAt      *time.Time       `json:"activated_at,omitempty"`
	TriggeredAt      *time.Time       `json:"triggered_at,omitempty"`
}

// IsActive reports whether the stop is tracking a peak.
func (t TrailingStopState) IsActive() bool {
	return t.Enabled && t.State == TrailingActive
}

// IsTriggered reports whether the stop has fired.
func (t TrailingStopState) IsTriggered() bool {
	return t.Enabled && t.State == TrailingTriggered
}
