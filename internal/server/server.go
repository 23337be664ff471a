// Package server exposes the HTTP API for inspecting positions and driving
// operator controls.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/precog-trading/precog/internal/domain"
	"github.com/precog-trading/precog/internal/server/handler"
	"github.com/precog-trading/precog/internal/server/middleware"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 2 * time.Minute
	maxHeaderBytes    = 64 << 10
)

type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards every route except health. Empty disables auth.
	APIKey string
	// RequestsPerMinute caps each client IP. Zero disables API rate limiting.
	RequestsPerMinute int
}

type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Control   *handler.ControlHandler
}

// Server is the headless HTTP API.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer registers every route. limiter backs the per-client rate limit
// and may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		srv: &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
			Handler:           newHandler(cfg, handlers, limiter, logger),
			ReadHeaderTimeout: readHeaderTimeout,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
			MaxHeaderBytes:    maxHeaderBytes,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		logger: logger,
	}
}

const healthPath = "/api/health"

func newHandler(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, h.Health.HealthCheck)

	mux.HandleFunc("GET /api/positions", h.Positions.ListPositions)
	mux.HandleFunc("POST /api/positions", h.Positions.CreatePosition)
	mux.HandleFunc("GET /api/positions/{id}", h.Positions.GetPosition)
	mux.HandleFunc("GET /api/positions/{id}/exits", h.Positions.ListExits)
	mux.HandleFunc("GET /api/positions/{id}/attempts", h.Positions.ListAttempts)
	mux.HandleFunc("POST /api/positions/{id}/rebalance", h.Control.RequestRebalance)

	mux.HandleFunc("GET /api/circuit-breaker", h.Control.GetBreaker)
	mux.HandleFunc("POST /api/circuit-breaker", h.Control.SetBreaker)

	return middleware.Chain(mux,
		middleware.Logging(logger),
		middleware.Recover(logger),
		middleware.CORS(cfg.CORSOrigins),
		middleware.RateLimit(limiter, cfg.RequestsPerMinute, time.Minute, logger),
		middleware.Auth(cfg.APIKey, healthPath),
	)
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("server: listen %s: %w", s.srv.Addr, err)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
