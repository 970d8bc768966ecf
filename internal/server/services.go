// Package server assembles the application layer and runs the
// configured transports with one shutdown ordering.
package server

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/action"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/audit"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/browser"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/driver"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/pages"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/session"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/store"
)

// Services holds every long-lived component, wired in dependency
// order. Transports receive what they need from here.
type Services struct {
	Cfg      *config.Config
	Sink     audit.Sink
	Store    store.Store
	Gate     *auth.Gate
	Pool     *browser.Pool
	Pages    *pages.Manager
	Policies *action.PolicyStore
	Executor *action.Executor
	Sessions *session.Service
}

// NewServices builds the application layer on the given driver.
func NewServices(ctx context.Context, cfg *config.Config, drv driver.Driver) (*Services, error) {
	var sink audit.Sink = audit.NopSink{}
	if cfg.AuditEnabled {
		fileSink, err := audit.NewFileSink(cfg.AuditLogPath, cfg.AuditQueueSize)
		if err != nil {
			return nil, err
		}
		sink = fileSink
	}

	st := store.New(ctx, cfg)

	gate, err := auth.NewGate(cfg, st, sink)
	if err != nil {
		_ = st.Close()
		_ = sink.Close()
		return nil, err
	}

	pool, err := browser.NewPool(ctx, cfg, drv, sink)
	if err != nil {
		_ = st.Close()
		_ = sink.Close()
		return nil, err
	}
	pm := pages.NewManager(cfg, pool, sink)

	policies, err := action.NewPolicyStore(cfg)
	if err != nil {
		pm.Close()
		_ = pool.Shutdown(ctx, true)
		_ = st.Close()
		_ = sink.Close()
		return nil, err
	}
	exec := action.NewExecutor(cfg, action.NewValidator(policies), action.NewDispatcher(), pm, sink)
	sessions := session.NewService(cfg, st, gate, pm, sink)

	return &Services{
		Cfg:      cfg,
		Sink:     sink,
		Store:    st,
		Gate:     gate,
		Pool:     pool,
		Pages:    pm,
		Policies: policies,
		Executor: exec,
		Sessions: sessions,
	}, nil
}

// Close tears the stack down in reverse dependency order: pages before
// the pool, the pool before the store, the audit sink last so shutdown
// events still land.
func (s *Services) Close(ctx context.Context) {
	s.Pages.Close()
	if err := s.Pool.Shutdown(ctx, true); err != nil {
		log.Error().Err(err).Msg("Browser pool shutdown error")
	}
	s.Policies.Close()
	if err := s.Store.Close(); err != nil {
		log.Error().Err(err).Msg("Session store close error")
	}
	if err := s.Sink.Close(); err != nil {
		log.Error().Err(err).Msg("Audit sink close error")
	}
}
