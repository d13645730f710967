package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cptrest/cptrest/internal/apierr"
	"github.com/cptrest/cptrest/internal/catalog"
	"github.com/cptrest/cptrest/internal/config"
	"github.com/cptrest/cptrest/internal/handler"
	"github.com/cptrest/cptrest/internal/metrics"
	"github.com/cptrest/cptrest/internal/relation"
	"github.com/cptrest/cptrest/internal/server/middleware"
	"github.com/cptrest/cptrest/internal/service"
	"github.com/cptrest/cptrest/internal/settings"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	PublicURL       string
	// RateLimitPerMinute limits requests per client IP. Zero disables it.
	RateLimitPerMinute int
	// KeyRateLimit is the number of API keys one administrator may
	// generate per hour.
	KeyRateLimit   int
	SessionTTL     time.Duration
	MetricsEnabled bool
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     10 * 1024 * 1024, // 10MB
		KeyRateLimit:    10,
		SessionTTL:      24 * time.Hour,
		MetricsEnabled:  true,
	}
}

// Deps are the services the server dispatches to.
type Deps struct {
	Store     *config.Store
	Settings  *settings.Service
	Catalog   *catalog.Catalog
	Keys      *service.KeyStore
	AdminAuth *service.AdminAuth
	Relations relation.Provider // nil when no provider is available
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Server is the top-level HTTP server. The static part of the router
// (health, metrics, admin) is built once; the namespace routes are rebuilt
// from the current route plan on every reconfiguration and swapped in
// atomically.
type Server struct {
	cfg        Config
	deps       Deps
	api        *handler.APIHandler
	admin      *handler.AdminHandler
	gate       *service.Authenticator
	router     chi.Router
	routes     atomic.Pointer[chi.Mux]
	reloadMu   sync.Mutex
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server, computes the initial route plan and wires all
// middleware. Call ListenAndServe to start accepting connections.
func New(ctx context.Context, cfg Config, deps Deps) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		gate:   service.NewAuthenticator(deps.Keys, deps.Settings),
		logger: deps.Logger,
	}
	s.api = handler.NewAPIHandler(deps.Store, deps.Catalog, deps.Relations, cfg.PublicURL, deps.Logger)
	s.admin = handler.NewAdminHandler(handler.AdminDeps{
		Store:      deps.Store,
		Auth:       deps.AdminAuth,
		Keys:       deps.Keys,
		Settings:   deps.Settings,
		Catalog:    deps.Catalog,
		Metrics:    deps.Metrics,
		Reload:     s.Reload,
		SessionTTL: cfg.SessionTTL,
		Logger:     deps.Logger,
	})

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics(s.deps.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handler.NonceHeader, "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}
	if s.cfg.RateLimitPerMinute > 0 {
		r.Use(middleware.RateLimit(s.cfg.RateLimitPerMinute))
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	if s.cfg.MetricsEnabled && s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	// --- Admin surface ---
	r.Route("/admin/v1", func(r chi.Router) {
		r.Post("/session", s.admin.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(s.deps.AdminAuth))

			r.Delete("/session", s.admin.Logout)
			r.Post("/nonce", s.admin.IssueNonce)

			r.Get("/api-keys", s.admin.ListKeys)
			r.With(middleware.RateLimitByAdmin(s.cfg.KeyRateLimit, time.Hour)).
				Post("/api-keys", s.admin.CreateKey)
			r.Get("/api-keys/migration", s.admin.MigrationStatus)
			r.Post("/api-keys/migrate", s.admin.MigrateKeys)
			r.Delete("/api-keys/{keyId}", s.admin.DeleteKey)

			r.Get("/settings", s.admin.GetSettings)
			r.Put("/settings", s.admin.UpdateSettings)
			r.Post("/settings/reset-active-types", s.admin.ResetActiveTypes)

			r.Get("/post-types", s.admin.ListPostTypes)
			r.Get("/status", s.admin.Status)
			r.Post("/notices/{noticeId}/dismiss", s.admin.DismissNotice)

			r.Get("/admins", s.admin.ListAdmins)
			r.Post("/admins", s.admin.CreateAdmin)
		})
	})

	// --- Namespace routes ---
	// Everything else goes through the API key gate and then the planned
	// router, so unknown namespace paths are gated too.
	r.With(middleware.Authenticate(s.gate, s.deps.Metrics)).Handle("/*", http.HandlerFunc(s.dispatch))

	s.router = r
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	s.routes.Load().ServeHTTP(w, r)
}

// Reload recomputes the route plan from the current configuration and
// swaps it in. Requests already dispatched finish on the previous router.
func (s *Server) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	plan, _, err := s.deps.Catalog.CurrentPlan(ctx)
	if err != nil {
		return fmt.Errorf("compute route plan: %w", err)
	}
	specs := catalog.PlanRoutes(plan)

	mux := chi.NewMux()
	mux.NotFound(notFound)
	mux.MethodNotAllowed(methodNotAllowed)
	for _, rs := range specs {
		mux.Method(rs.Method, rs.Pattern, s.handlerFor(rs))
	}
	s.routes.Store(mux)

	s.deps.Metrics.RouterReloaded(len(plan.ActiveTypes))
	s.logger.Info("routes planned",
		"namespace", plan.Namespace(),
		"active_types", plan.ActiveTypes,
		"relations", plan.RelationsEnabled,
		"routes", len(specs),
	)
	return nil
}

func (s *Server) handlerFor(rs catalog.RouteSpec) http.HandlerFunc {
	switch rs.Op {
	case catalog.OpNamespace:
		return s.api.Namespace
	case catalog.OpOpenAPI:
		return s.api.OpenAPI
	case catalog.OpListPosts:
		return s.api.ListPosts(rs.PostType)
	case catalog.OpCreatePost:
		return s.api.CreatePost(rs.PostType)
	case catalog.OpGetPost:
		return s.api.GetPost(rs.PostType)
	case catalog.OpUpdatePost:
		return s.api.UpdatePost(rs.PostType)
	case catalog.OpDeletePost:
		return s.api.DeletePost(rs.PostType)
	case catalog.OpListRelations:
		return s.api.ListRelationships
	case catalog.OpListInstances:
		return s.api.ListInstances
	case catalog.OpCreateInstance:
		return s.api.CreateInstance
	case catalog.OpDeleteInstance:
		return s.api.DeleteInstance
	}
	return notFound
}

func notFound(w http.ResponseWriter, r *http.Request) {
	handler.WriteError(w, apierr.NotFound("rest_no_route", "No route was found matching the URL and request method."))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	handler.WriteError(w, &apierr.Error{
		Kind:    apierr.KindMethodNotAllowed,
		Code:    "rest_no_route",
		Message: "No route was found matching the URL and request method.",
	})
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the host store is
// reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	if s.deps.Relations == nil {
		checks["relations"] = "unavailable"
	} else {
		checks["relations"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
