package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/precog-trading/precog/internal/domain"
	"github.com/precog-trading/precog/internal/signal"
)

// SignalPublisher broadcasts operator control signals.
type SignalPublisher interface {
	SetBreaker(ctx context.Context, asserted bool, reason string) error
	RequestRebalance(ctx context.Context, positionIDs ...string) error
	BreakerState() signal.BreakerState
}

// ControlHandler serves the circuit-breaker and rebalance endpoints.
type ControlHandler struct {
	signals   SignalPublisher
	positions domain.PositionStore
	logger    *slog.Logger
}

// NewControlHandler creates a ControlHandler.
func NewControlHandler(signals SignalPublisher, positions domain.PositionStore, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{
		signals:   signals,
		positions: positions,
		logger:    logHandler(logger, "control"),
	}
}

// GetBreaker returns this instance's view of the circuit breaker.
// GET /api/circuit-breaker
func (h *ControlHandler) GetBreaker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.signals.BreakerState())
}

type setBreakerRequest struct {
	Asserted *bool  `json:"asserted"`
	Reason   string `json:"reason"`
}

// SetBreaker asserts or releases the circuit breaker on every instance.
// POST /api/circuit-breaker
func (h *ControlHandler) SetBreaker(w http.ResponseWriter, r *http.Request) {
	var req setBreakerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Asserted == nil {
		writeError(w, http.StatusBadRequest, "asserted is required")
		return
	}

	if err := h.signals.SetBreaker(r.Context(), *req.Asserted, req.Reason); err != nil {
		h.logger.ErrorContext(r.Context(), "set circuit breaker failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to publish circuit breaker")
		return
	}
	h.logger.WarnContext(r.Context(), "circuit breaker changed by operator",
		slog.Bool("asserted", *req.Asserted),
		slog.String("reason", req.Reason),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{"asserted": *req.Asserted, "reason": req.Reason})
}

// RequestRebalance asks the monitor to exit a position at LOW priority.
// POST /api/positions/{id}/rebalance
func (h *ControlHandler) RequestRebalance(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	pos, err := h.positions.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load position")
		return
	}
	if pos.IsTerminal() {
		writeError(w, http.StatusConflict, "position is closed or halted")
		return
	}

	if err := h.signals.RequestRebalance(r.Context(), id); err != nil {
		h.logger.ErrorContext(r.Context(), "rebalance request failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to publish rebalance")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"position_id": id, "status": "requested"})
}
