// Package server implements the HTTP transport layer for pagecache.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	pagecache "github.com/eugener/pagecache/internal"
	"github.com/eugener/pagecache/internal/app"
	"github.com/eugener/pagecache/internal/circuitbreaker"
	"github.com/eugener/pagecache/internal/readthrough"
	"github.com/eugener/pagecache/internal/storage"
	"github.com/eugener/pagecache/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// CacheStatus describes the active cache store.
type CacheStatus interface {
	Name() string
	BreakerState() circuitbreaker.State
}

// AnalyticsStore answers admin page view queries.
type AnalyticsStore interface {
	storage.PageViewStore
	storage.RollupStore
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth    pagecache.Authenticator   // admin API credentials
	Oracle  pagecache.PrivilegeOracle // nil = nobody is privileged
	Cache   *readthrough.Middleware
	Origin  http.Handler
	Capture readthrough.CaptureOptions

	CacheStatus    CacheStatus    // nil = status reports no backend
	Analytics      AnalyticsStore // nil = page view endpoints return 404
	Keys           *app.KeyManager
	ReadyCheck     ReadyChecker // nil = always ready (for tests)
	Metrics        *telemetry.Metrics
	MetricsHandler http.Handler // nil = no /metrics route
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Admin API (admin identity required)
	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.requireAdmin)
		r.Get("/pageviews", s.handleQueryPageViews)
		r.Get("/pageviews/rollups", s.handleQueryRollups)
		r.Get("/keys", s.handleListKeys)
		r.Post("/keys", s.handleCreateKey)
		r.Delete("/keys/{id}", s.handleDeleteKey)
		r.Get("/cache", s.handleCacheStatus)
	})

	// Everything else is a page.
	r.Handle("/*", s.pageHandler())

	return r
}

type server struct {
	deps Deps
}

// pageHandler answers HEAD from the cache only and sends every other
// method through the read-through cache in front of the origin.
func (s *server) pageHandler() http.Handler {
	oracle := s.deps.Oracle
	head := s.deps.Cache.HeadHandler(oracle)
	page := s.deps.Cache.Wrap(oracle, s.deps.Origin, s.deps.Capture)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			head.ServeHTTP(w, r)
			return
		}
		page.ServeHTTP(w, r)
	})
}
