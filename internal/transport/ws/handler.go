package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/action"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/browser"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/metrics"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/middleware"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/pages"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/session"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/transport"
)

// Handler upgrades HTTP requests at WS_PATH and services the envelope
// protocol. One Handler is shared by all connections; it also bridges
// pool lifecycle events to subscribed connections.
type Handler struct {
	cfg    *config.Config
	gate   *auth.Gate
	router *transport.Router
	pool   *browser.Pool

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]struct{}

	unsubscribe func()
	done        chan struct{}
}

// NewHandler wires the WebSocket surface and starts the pool event
// bridge. Call Close to stop it.
func NewHandler(cfg *config.Config, gate *auth.Gate, sessions *session.Service, pm *pages.Manager, exec *action.Executor, pool *browser.Pool) *Handler {
	h := &Handler{
		cfg:    cfg,
		gate:   gate,
		router: transport.NewRouter(gate, sessions, pm, exec),
		pool:   pool,
		conns:  make(map[*conn]struct{}),
		done:   make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}

	events, cancel := pool.Subscribe()
	h.unsubscribe = cancel
	go h.bridge(events)
	return h
}

// checkOrigin admits non-browser clients (no Origin header) and the
// configured CORS origins.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.CORSOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade rejected")
		return
	}

	c := newConn(h, sock)

	// Credentials on the upgrade request authenticate the connection
	// without a separate auth frame.
	if creds := middleware.CredentialsFrom(r); creds.BearerToken != "" || creds.APIKey != "" || creds.SessionID != "" {
		if principal, authErr := h.gate.Authenticate(r.Context(), creds); authErr == nil {
			c.principal = principal
			c.authed = true
		}
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	metrics.WSConnections.Inc()

	log.Debug().Str("remote", r.RemoteAddr).Bool("authenticated", c.authed).Msg("WebSocket connection opened")

	go c.writePump()
	go c.readPump()
}

func (h *Handler) remove(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		metrics.WSConnections.Dec()
	}
}

// bridge fans pool events out to connections holding a matching
// subscription.
func (h *Handler) bridge(events <-chan browser.Event) {
	for {
		select {
		case <-h.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.mu.Lock()
			targets := make([]*conn, 0, len(h.conns))
			for c := range h.conns {
				targets = append(targets, c)
			}
			h.mu.Unlock()
			for _, c := range targets {
				c.deliver(ev)
			}
		}
	}
}

// Close stops the event bridge and closes every live connection.
func (h *Handler) Close() {
	close(h.done)
	h.unsubscribe()

	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}
