package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/newaysecurity/cctv-clocking/internal/attendance"
	"github.com/newaysecurity/cctv-clocking/internal/config"
	"github.com/newaysecurity/cctv-clocking/internal/facedb"
	"github.com/newaysecurity/cctv-clocking/internal/pipeline"
	"github.com/newaysecurity/cctv-clocking/internal/web/middleware"
)

// Server represents the dashboard web server.
type Server struct {
	config         *config.Config
	log            *slog.Logger
	router         *chi.Mux
	httpServer     *http.Server
	sessionManager *middleware.SessionManager

	pipeline *pipeline.Pipeline
	db       *facedb.Database
	gate     *attendance.Gate
}

// NewServer creates a new dashboard server.
func NewServer(cfg *config.Config, p *pipeline.Pipeline, db *facedb.Database,
	gate *attendance.Gate, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	r := chi.NewRouter()

	sessionManager := middleware.NewSessionManager(cfg.Dashboard.SessionWindow())

	s := &Server{
		config:         cfg,
		log:            log,
		router:         r,
		sessionManager: sessionManager,
		pipeline:       p,
		db:             db,
		gate:           gate,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS())

	s.setupRoutes(sessionManager)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Dashboard.Host, cfg.Dashboard.Port),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// No write timeout: the MJPEG feed is a long-lived response.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("starting dashboard", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down dashboard")

	if s.sessionManager != nil {
		s.sessionManager.Stop()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
