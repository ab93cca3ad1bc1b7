// Package api exposes the orchestrator's HTTP surface: deployment
// create/get/delete, SSE status and log streaming, the worker-facing
// internal callbacks, and the standard health/readiness/metrics routes.
// Auth is stateless bearer auth; rate limiting is two-layer (per caller
// hash, per client IP).
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/visgate-ai/deploy-orchestrator/internal/config"
	"github.com/visgate-ai/deploy-orchestrator/internal/logring"
	"github.com/visgate-ai/deploy-orchestrator/internal/modelresolver"
	"github.com/visgate-ai/deploy-orchestrator/internal/orchestrator"
	"github.com/visgate-ai/deploy-orchestrator/internal/ratelimit"
	"github.com/visgate-ai/deploy-orchestrator/internal/store"
)

// Server is the HTTP-facing collaborator of the orchestration engine: it
// turns requests into engine/store calls and projects store state back out
// as JSON or SSE.
type Server struct {
	store      store.Store
	engine     *orchestrator.Engine
	resolver   *modelresolver.Resolver
	logs       *logring.Ring
	userLimit  *ratelimit.Limiter
	ipLimit    *ratelimit.Limiter
	cfg        *config.Config
	logger     *zap.Logger
	router     *chi.Mux
	depsHealth func() map[string]bool
}

// Deps bundles the collaborators a Server is wired against.
type Deps struct {
	Store      store.Store
	Engine     *orchestrator.Engine
	Resolver   *modelresolver.Resolver
	Logs       *logring.Ring
	UserLimit  *ratelimit.Limiter
	IPLimit    *ratelimit.Limiter
	Config     *config.Config
	Logger     *zap.Logger
	DepsHealth func() map[string]bool
}

// New builds a Server with its route table and middleware chain installed.
func New(d Deps) *Server {
	s := &Server{
		store:      d.Store,
		engine:     d.Engine,
		resolver:   d.Resolver,
		logs:       d.Logs,
		userLimit:  d.UserLimit,
		ipLimit:    d.IPLimit,
		cfg:        d.Config,
		logger:     d.Logger,
		router:     chi.NewRouter(),
		depsHealth: d.DepsHealth,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(securityHeaders)
	s.router.Use(requestSizeLimit(2 << 20)) // 2MiB: deployment bodies are small JSON
	s.router.Use(requestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(responseRequestID)
	s.router.Use(s.logRequest)
	s.router.Use(s.recordMetrics)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:           300,
	}))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/readiness", s.handleReadiness)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Use(s.rateLimit)
		r.Post("/v1/deployments", s.handleCreate)
		r.Get("/v1/deployments/{id}", s.handleGet)
		r.Get("/v1/deployments/{id}/stream", s.handleStreamStatus)
		r.Get("/v1/deployments/{id}/logs/stream", s.handleStreamLogs)
		r.Delete("/v1/deployments/{id}", s.handleDelete)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(s.internalSecret)
		r.Post("/internal/deployment-ready/{id}", s.handleWorkerReady)
		r.Post("/internal/logs/{id}", s.handleWorkerLogs)
		r.Post("/internal/cleanup/{id}", s.handleWorkerCleanup)
		r.Post("/internal/tasks/orchestrate-deployment", s.handleTaskTrigger)
	})
}
