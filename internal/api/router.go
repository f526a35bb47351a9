package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"yellorn/internal/auth"
	"yellorn/internal/observability"
	"yellorn/internal/protocol"
	"yellorn/internal/ratelimit"
	"yellorn/internal/universe"
)

// EngineInterface is the part of the universe engine the REST surface uses.
// Tests substitute a fake; production passes *universe.Engine.
type EngineInterface interface {
	Health() universe.HealthInfo
	Snapshot() protocol.UniverseState
	GetAllAgents() []protocol.AgentState
	GetAgent(id string) (protocol.AgentState, bool)
	CreateAgent(id string, init universe.AgentInit) error
	RemoveAgent(id string) bool
	ApplyForceToAgent(id string, force protocol.Vec3) bool
	MoveAgent(id string, position protocol.Vec3, rotation *protocol.Vec3) error
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
//	router := api.NewRouter(api.RouterConfig{
//	    Engine:        engine,
//	    Authenticator: authn,
//	    RateLimitConfig: &ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000},
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the universe engine (required)
	Engine EngineInterface

	// Authenticator verifies bearer tokens on mutating routes (required)
	Authenticator auth.Authenticator

	// Realtime serves WebSocket upgrades on /ws and /socket.io/. Optional.
	Realtime http.Handler

	// Connections reports open realtime connections for the health endpoint. Optional.
	Connections func() int

	// RateLimiter is an optional pre-configured limiter. If nil, one is built
	// from RateLimitConfig, or from the defaults.
	RateLimiter     *ratelimit.IPRateLimiter
	RateLimitConfig *ratelimit.Config

	// CORSOrigins defaults to localhost origins.
	CORSOrigins []string

	// DisableLogging disables the request logger (useful for benchmarks).
	DisableLogging bool
}

// NewRouter constructs the HTTP router with all middleware and routes.
// It is pure: no goroutines, no listeners.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)

	// Rate limiting before CORS to reject early
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rlCfg := ratelimit.DefaultConfig()
		if cfg.RateLimitConfig != nil {
			rlCfg = *cfg.RateLimitConfig
		}
		rateLimiter = ratelimit.NewIPRateLimiter(rlCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	h := &routerHandlers{engine: cfg.Engine, connections: cfg.Connections}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Get("/universe", h.handleGetUniverse)
		r.Get("/agents", h.handleListAgents)
		r.Get("/agents/{id}", h.handleGetAgent)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(cfg.Authenticator))

			r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleAgent)).Post("/agents", h.handleCreateAgent)
			r.With(auth.RequireRole(auth.RoleAdmin)).Delete("/agents/{id}", h.handleDeleteAgent)

			r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleAgent)).Post("/agents/{id}/force", h.handleApplyForce)
			r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleAgent)).Put("/agents/{id}/position", h.handleSetPosition)
		})
	})

	if cfg.Realtime != nil {
		r.Get("/ws", cfg.Realtime.ServeHTTP)
		r.Get("/socket.io/", func(w http.ResponseWriter, req *http.Request) {
			if !isWebSocketUpgrade(req) {
				// only the websocket transport is supported
				writeError(w, "use websocket", http.StatusNotFound)
				return
			}
			cfg.Realtime.ServeHTTP(w, req)
		})
	}

	return r
}

// requestMetrics records latency and status per route pattern, keeping the
// endpoint label bounded.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}
