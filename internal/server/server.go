// Package server is the HTTP + WebSocket API: pool management, positions,
// settings, inventory, jobs and archive downloads.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
	"github.com/alanyoungcy/smtbot/internal/server/handler"
	"github.com/alanyoungcy/smtbot/internal/server/middleware"
	"github.com/alanyoungcy/smtbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per caller per RateWindow. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Nil handlers leave their routes unregistered.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Pool      *handler.PoolHandler
	Positions *handler.PositionHandler
	Settings  *handler.SettingsHandler
	Inventory *handler.InventoryHandler
	Jobs      *handler.JobHandler
	Archive   *handler.ArchiveHandler
	Audit     *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on a ServeMux and
// wrapped in the middleware chain. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	registerRoutes(mux, handlers, wsHub)

	// Build the middleware chain.
	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, "/api/health")(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger, "/api/health", "/api/status")(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

func registerRoutes(mux *http.ServeMux, hs Handlers, wsHub *ws.Hub) {
	if hs.Health != nil {
		mux.HandleFunc("GET /api/health", hs.Health.HealthCheck)
	}
	if hs.Status != nil {
		mux.HandleFunc("GET /api/status", hs.Status.GetStatus)
	}

	if p := hs.Pool; p != nil {
		mux.HandleFunc("GET /api/pool", p.List)
		mux.HandleFunc("GET /api/pool/status", p.Status)
		mux.HandleFunc("POST /api/pool", p.Add)
		mux.HandleFunc("POST /api/pool/bulk", p.AddMany)
		mux.HandleFunc("PATCH /api/pool/{name}", p.Update)
		mux.HandleFunc("DELETE /api/pool/{name}", p.Remove)
		mux.HandleFunc("GET /api/pool/{name}/history", p.History)
	}

	if p := hs.Positions; p != nil {
		mux.HandleFunc("GET /api/positions", p.ListPositions)
		mux.HandleFunc("DELETE /api/positions/{id}", p.DeletePosition)
	}

	if s := hs.Settings; s != nil {
		mux.HandleFunc("GET /api/settings", s.Get)
		mux.HandleFunc("PATCH /api/settings", s.Update)
		mux.HandleFunc("POST /api/settings/reset", s.Reset)
	}

	if i := hs.Inventory; i != nil {
		mux.HandleFunc("GET /api/inventory", i.List)
		mux.HandleFunc("POST /api/inventory/refresh", i.Refresh)
	}

	if hs.Jobs != nil {
		mux.HandleFunc("POST /api/jobs", hs.Jobs.Enqueue)
	}

	if a := hs.Archive; a != nil {
		mux.HandleFunc("GET /api/archive", a.List)
		mux.HandleFunc("GET /api/archive/{path...}", a.Get)
	}

	if hs.Audit != nil {
		mux.HandleFunc("GET /api/audit", hs.Audit.List)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
