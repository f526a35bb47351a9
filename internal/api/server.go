package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"yellorn/internal/auth"
	"yellorn/internal/gateway"
	"yellorn/internal/ratelimit"
)

// ServerConfig holds the server's listen settings and collaborators.
type ServerConfig struct {
	Addr          string
	Engine        EngineInterface
	Gateway       *gateway.Gateway
	Authenticator auth.Authenticator
	RateLimit     ratelimit.Config
	CORSOrigins   []string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// Server is the HTTP API server with the realtime gateway mounted.
type Server struct {
	cfg         ServerConfig
	router      *chi.Mux
	rateLimiter *ratelimit.IPRateLimiter
	httpServer  *http.Server
}

// NewServer builds the server. Background workers do NOT start until
// Start() is called, so the server can be constructed in tests.
func NewServer(cfg ServerConfig) *Server {
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit = ratelimit.DefaultConfig()
	}
	s := &Server{
		cfg:         cfg,
		rateLimiter: ratelimit.NewIPRateLimiter(cfg.RateLimit),
	}

	rc := RouterConfig{
		Engine:        cfg.Engine,
		Authenticator: cfg.Authenticator,
		RateLimiter:   s.rateLimiter,
		CORSOrigins:   cfg.CORSOrigins,
	}
	if cfg.Gateway != nil {
		rc.Realtime = cfg.Gateway
		rc.Connections = cfg.Gateway.ConnectionCount
	}
	s.router = NewRouter(rc)

	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

// Start starts background workers and serves until Shutdown. It is the
// only method that starts goroutines or opens listeners.
func (s *Server) Start() error {
	s.rateLimiter.StartCleanup()

	log.Printf("🌐 API server starting on %s", s.cfg.Addr)
	log.Printf("📱 WebSocket endpoint: ws://localhost%s/ws", s.cfg.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Shutdown closes realtime sessions, then drains HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.cfg.Gateway != nil {
		if err := s.cfg.Gateway.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.rateLimiter.Stop()
	return errors.Join(errs...)
}
