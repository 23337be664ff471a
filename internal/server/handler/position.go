package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/precog-trading/precog/internal/domain"
)

// Tracker hands a newly registered position to the monitor.
type Tracker interface {
	Track(positionID string)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions domain.PositionStore
	exits     domain.ExitStore
	tracker   Tracker
	logger    *slog.Logger
	now       func() time.Time
}

// NewPositionHandler creates a PositionHandler. tracker may be nil when no
// monitor runs in this process; the next rescan of a monitor elsewhere
// adopts the position instead.
func NewPositionHandler(positions domain.PositionStore, exits domain.ExitStore, tracker Tracker, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		exits:     exits,
		tracker:   tracker,
		logger:    logHandler(logger, "positions"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// positionResponse is the wire form of a position.
type positionResponse struct {
	ID               string                   `json:"id"`
	MarketID         string                   `json:"market_id"`
	Side             domain.Side              `json:"side"`
	Quantity         int64                    `json:"quantity"`
	OriginalQuantity int64                    `json:"original_quantity"`
	EntryPrice       decimal.Decimal          `json:"entry_price"`
	CurrentPrice     decimal.Decimal          `json:"current_price"`
	UnrealizedPnL    decimal.Decimal          `json:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal          `json:"unrealized_pnl_pct"`
	RealizedPnL      decimal.Decimal          `json:"realized_pnl"`
	ModelProbability *decimal.Decimal         `json:"model_probability,omitempty"`
	Status           domain.PositionStatus    `json:"status"`
	ExitReason       domain.ExitCondition     `json:"exit_reason,omitempty"`
	ExitPriority     string                   `json:"exit_priority,omitempty"`
	TrailingStop     domain.TrailingStopState `json:"trailing_stop"`
	Stages           domain.PartialExitStages `json:"partial_exit_stages"`
	Halted           bool                     `json:"halted"`
	HaltReason       string                   `json:"halt_reason,omitempty"`
	Strategy         string                   `json:"strategy,omitempty"`
	OpenedAt         time.Time                `json:"opened_at"`
	LastUpdate       time.Time                `json:"last_update"`
	ClosedAt         *time.Time               `json:"closed_at,omitempty"`
}

func toPositionResponse(p domain.Position) positionResponse {
	return positionResponse{
		ID:               p.ID,
		MarketID:         p.MarketID,
		Side:             p.Side,
		Quantity:         p.Quantity,
		OriginalQuantity: p.OriginalQuantity,
		EntryPrice:       p.EntryPrice,
		CurrentPrice:     p.CurrentPrice,
		UnrealizedPnL:    p.UnrealizedPnL,
		UnrealizedPnLPct: p.UnrealizedPnLPct,
		RealizedPnL:      p.RealizedPnL,
		ModelProbability: p.ModelProbability,
		Status:           p.Status,
		ExitReason:       p.ExitReason,
		ExitPriority:     p.ExitPriority.String(),
		TrailingStop:     p.TrailingStop,
		Stages:           p.Stages,
		Halted:           p.Halted,
		HaltReason:       p.HaltReason,
		Strategy:         p.Strategy,
		OpenedAt:         p.OpenedAt,
		LastUpdate:       p.LastUpdate,
		ClosedAt:         p.ClosedAt,
	}
}

// createPositionRequest registers a position opened by the entry side.
type createPositionRequest struct {
	ID               string           `json:"id"`
	MarketID         string           `json:"market_id"`
	Side             domain.Side      `json:"side"`
	Quantity         int64            `json:"quantity"`
	EntryPrice       decimal.Decimal  `json:"entry_price"`
	ModelProbability *decimal.Decimal `json:"model_probability"`
	Strategy         string           `json:"strategy"`
}

func (req createPositionRequest) validate() error {
	var problems []string
	if strings.TrimSpace(req.MarketID) == "" {
		problems = append(problems, "market_id is required")
	}
	if !req.Side.Valid() {
		problems = append(problems, `side must be "yes" or "no"`)
	}
	if req.Quantity <= 0 {
		problems = append(problems, "quantity must be > 0")
	}
	one := decimal.NewFromInt(1)
	if !req.EntryPrice.IsPositive() || !req.EntryPrice.LessThan(one) {
		problems = append(problems, "entry_price must be in (0, 1)")
	}
	if p := req.ModelProbability; p != nil && (p.IsNegative() || p.GreaterThan(one)) {
		problems = append(problems, "model_probability must be in [0, 1]")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// ListPositions returns positions, newest first.
// GET /api/positions?status=open
// GET /api/positions?limit=50&offset=0&since=...&until=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	var (
		positions []domain.Position
		err       error
	)
	if r.URL.Query().Get("status") == "open" {
		positions, err = h.positions.ListOpen(r.Context())
	} else {
		opts, perr := parseListOpts(r)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		positions, err = h.positions.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPositionResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// GetPosition returns a single position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

// CreatePosition registers a new open position and hands it to the monitor.
// POST /api/positions
func (h *PositionHandler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req createPositionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.now()
	pos := domain.Position{
		ID:               req.ID,
		MarketID:         req.MarketID,
		Side:             req.Side,
		Quantity:         req.Quantity,
		OriginalQuantity: req.Quantity,
		EntryPrice:       req.EntryPrice.Round(domain.PriceScale),
		ModelProbability: req.ModelProbability,
		Status:           domain.PositionStatusOpen,
		Strategy:         req.Strategy,
		OpenedAt:         now,
	}
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	pos.Mark(pos.EntryPrice, now)

	err := h.positions.Create(r.Context(), pos)
	if errors.Is(err, domain.ErrAlreadyExists) {
		writeError(w, http.StatusConflict, "position already exists")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "create position failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create position")
		return
	}

	h.logger.InfoContext(r.Context(), "position registered",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.String("side", string(pos.Side)),
		slog.Int64("quantity", pos.Quantity),
	)
	if h.tracker != nil {
		h.tracker.Track(pos.ID)
	}
	writeJSON(w, http.StatusCreated, toPositionResponse(pos))
}

// ListExits returns the exit events recorded for a position.
// GET /api/positions/{id}/exits
func (h *PositionHandler) ListExits(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if !h.exists(w, r, id) {
		return
	}
	events, err := h.exits.ListEvents(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list exit events failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list exits")
		return
	}
	if events == nil {
		events = []domain.ExitEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"exits": events})
}

// ListAttempts returns every order attempt made for a position.
// GET /api/positions/{id}/attempts
func (h *PositionHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if !h.exists(w, r, id) {
		return
	}
	attempts, err := h.exits.ListAttempts(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list exit attempts failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}
	if attempts == nil {
		attempts = []domain.ExitAttempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

// exists writes a 404 or 500 and returns false when the position cannot be
// loaded.
func (h *PositionHandler) exists(w http.ResponseWriter, r *http.Request, id string) bool {
	_, err := h.positions.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "position not found")
		return false
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load position")
		return false
	}
	return true
}
