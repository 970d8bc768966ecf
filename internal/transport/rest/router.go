// Package rest exposes the control plane over HTTP JSON under /api/v1.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/action"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/browser"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/metrics"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/middleware"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/pages"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/session"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/store"
)

// API bundles the services behind the REST surface.
type API struct {
	cfg      *config.Config
	gate     *auth.Gate
	sessions *session.Service
	pages    *pages.Manager
	exec     *action.Executor
	pool     *browser.Pool
	store    store.Store
}

// NewAPI wires the REST handlers.
func NewAPI(cfg *config.Config, gate *auth.Gate, sessions *session.Service, pm *pages.Manager, exec *action.Executor, pool *browser.Pool, st store.Store) *API {
	return &API{cfg: cfg, gate: gate, sessions: sessions, pages: pm, exec: exec, pool: pool, store: st}
}

// Router builds the full HTTP handler with the standard middleware
// chain applied in order: request id, recovery, security headers, CORS,
// authentication, rate limit, logging.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recovery,
		middleware.SecurityHeaders,
		middleware.CORS(a.cfg.CORSOrigins),
		middleware.Authenticate(a.gate),
		middleware.RateLimit(a.cfg),
		middleware.Logging,
	)

	r.Get("/health", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/health/live", a.handleLive)
		r.Get("/health/ready", a.handleReady)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", a.handleSessionCreate)
			r.Get("/", a.handleSessionList)
			r.Get("/{id}", a.handleSessionGet)
			r.Patch("/{id}", a.handleSessionUpdate)
			r.Delete("/{id}", a.handleSessionDelete)
			r.Post("/{id}/refresh", a.handleSessionRefresh)
		})

		r.Route("/contexts", func(r chi.Router) {
			r.Post("/", a.handleContextCreate)
			r.Get("/", a.handleContextList)
			r.Get("/{id}", a.handleContextGet)
			r.Delete("/{id}", a.handleContextDelete)
			r.Post("/{id}/execute", a.handleContextExecute)
		})

		r.Route("/pages", func(r chi.Router) {
			r.Post("/", a.handlePageCreate)
			r.Get("/", a.handlePageList)
			r.Get("/{id}", a.handlePageGet)
			r.Patch("/{id}", a.handlePageConfigure)
			r.Delete("/{id}", a.handlePageClose)
			r.Get("/{id}/history", a.handlePageHistory)
		})

		r.Post("/execute", a.handleExecute)
		r.Post("/execute/batch", a.handleExecuteBatch)

		r.Route("/stats/domains", func(r chi.Router) {
			r.Get("/", a.handleDomainStats)
			r.Get("/{domain}", a.handleDomainStatsGet)
			r.Put("/{domain}/delay", a.handleDomainDelay)
			r.Delete("/{domain}", a.handleDomainStatsReset)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, notFoundErr(r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, methodErr(r.Method))
	})
	return r
}
