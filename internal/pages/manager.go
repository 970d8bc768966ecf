// Package pages tracks browser pages across the pool: ownership,
// per-session cleanup, idle reaping, and logical context grouping.
package pages

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/audit"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/browser"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/driver"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/metrics"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// Viewport bounds accepted from clients.
const (
	minViewport = 1
	maxViewport = 10000
)

// PageOptions configure page creation and reconfiguration.
type PageOptions struct {
	ContextID      string         `json:"contextId,omitempty"`
	URL            string         `json:"url,omitempty"`
	ViewportWidth  int            `json:"viewportWidth,omitempty"`
	ViewportHeight int            `json:"viewportHeight,omitempty"`
	Cookies        []types.Cookie `json:"cookies,omitempty"`
}

type managedPage struct {
	info types.PageInfo
	page driver.Page
}

// Manager owns the page registry. Pages are created on pooled browsers
// through short-lived leases; the manager watches pool events so pages
// on recycled browsers are dropped from the registry.
type Manager struct {
	cfg  *config.Config
	pool *browser.Pool
	sink audit.Sink

	mu       sync.RWMutex
	pages    map[string]*managedPage
	contexts map[string]*types.ContextInfo

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates the manager and starts the idle sweep and the pool
// event watcher.
func NewManager(cfg *config.Config, pool *browser.Pool, sink audit.Sink) *Manager {
	if sink == nil {
		sink = audit.NopSink{}
	}
	m := &Manager{
		cfg:      cfg,
		pool:     pool,
		sink:     sink,
		pages:    make(map[string]*managedPage),
		contexts: make(map[string]*types.ContextInfo),
		stopCh:   make(chan struct{}),
	}

	events, cancelSub := pool.Subscribe()
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		defer cancelSub()
		m.watchPool(events)
	}()
	go func() {
		defer m.wg.Done()
		m.idleSweepLoop()
	}()

	return m
}

// clampViewport applies the accepted bounds, logging adjustments.
func clampViewport(v int, fallback int) int {
	if v == 0 {
		return fallback
	}
	if v < minViewport {
		log.Warn().Int("value", v).Msg("Viewport below minimum, clamping")
		return minViewport
	}
	if v > maxViewport {
		log.Warn().Int("value", v).Msg("Viewport above maximum, clamping")
		return maxViewport
	}
	return v
}

// CreatePage opens a page on a pooled browser for the principal.
func (m *Manager) CreatePage(ctx context.Context, principal types.Principal, opts PageOptions) (types.PageInfo, error) {
	if opts.ContextID != "" {
		m.mu.RLock()
		bctx, ok := m.contexts[opts.ContextID]
		m.mu.RUnlock()
		if !ok {
			return types.PageInfo{}, types.Errorf(types.ErrBadArgument, "context %s not found", opts.ContextID)
		}
		if bctx.SessionID != principal.SessionID && !principal.IsAdmin() {
			return types.PageInfo{}, m.denied(principal, "context:"+opts.ContextID, "use")
		}
	}

	lease, err := m.pool.Acquire(ctx)
	if err != nil {
		return types.PageInfo{}, err
	}
	defer lease.Release()

	page, err := lease.Instance.Browser.NewPage(ctx)
	if err != nil {
		return types.PageInfo{}, err
	}

	if err := m.applyOptions(ctx, page, opts); err != nil {
		_ = page.Close()
		return types.PageInfo{}, err
	}

	state := "active"
	if opts.URL != "" {
		state = "loading"
	}
	now := time.Now()
	mp := &managedPage{
		info: types.PageInfo{
			ID:             uuid.NewString(),
			BrowserID:      lease.Instance.ID,
			SessionID:      principal.SessionID,
			ContextID:      opts.ContextID,
			URL:            opts.URL,
			State:          state,
			CreatedAt:      now,
			LastActivityAt: now,
		},
		page: page,
	}

	if opts.URL != "" {
		if err := page.Navigate(ctx, types.NavigateParams{URL: opts.URL}); err != nil {
			_ = page.Close()
			return types.PageInfo{}, err
		}
		mp.info.State = "active"
	}

	m.mu.Lock()
	m.pages[mp.info.ID] = mp
	if opts.ContextID != "" {
		if bctx, ok := m.contexts[opts.ContextID]; ok {
			bctx.PageIDs = append(bctx.PageIDs, mp.info.ID)
		}
	}
	metrics.ActivePages.Set(float64(len(m.pages)))
	m.mu.Unlock()

	log.Info().
		Str("page_id", mp.info.ID).
		Str("browser_id", mp.info.BrowserID).
		Str("session_id", mp.info.SessionID).
		Msg("Page created")
	return mp.info, nil
}

// applyOptions sets viewport and cookies on a fresh page. Cookies with
// empty names or values are dropped with a log line rather than failing
// the whole call.
func (m *Manager) applyOptions(ctx context.Context, page driver.Page, opts PageOptions) error {
	if opts.ViewportWidth != 0 || opts.ViewportHeight != 0 {
		w := clampViewport(opts.ViewportWidth, 1280)
		h := clampViewport(opts.ViewportHeight, 720)
		if err := page.SetViewport(w, h); err != nil {
			return err
		}
	}

	if len(opts.Cookies) > 0 {
		valid := make([]types.Cookie, 0, len(opts.Cookies))
		for _, c := range opts.Cookies {
			if c.Name == "" || c.Value == "" {
				log.Warn().Str("name", c.Name).Msg("Dropping cookie with empty name or value")
				continue
			}
			valid = append(valid, c)
		}
		if len(valid) > 0 {
			if _, err := page.Cookies(ctx, types.CookieParams{Operation: types.CookieOpSet, Cookies: valid}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) denied(principal types.Principal, resource, action string) error {
	m.sink.Emit(audit.Event{
		Type:      audit.AccessDenied,
		Timestamp: time.Now().UTC(),
		UserID:    principal.UserID,
		SessionID: principal.SessionID,
		Resource:  resource,
		Action:    action,
		Outcome:   "denied",
	})
	return types.Errorf(types.ErrForbidden, "%s on %s not permitted", action, resource)
}

// get returns a page the principal may touch, enforcing ownership.
func (m *Manager) get(principal types.Principal, id string) (*managedPage, error) {
	m.mu.RLock()
	mp, ok := m.pages[id]
	m.mu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.ErrPageNotFound, "page %s", id)
	}
	if mp.info.SessionID != principal.SessionID && !principal.IsAdmin() {
		return nil, m.denied(principal, "page:"+id, "access")
	}
	return mp, nil
}

// Page returns the driver page for action execution, after an ownership
// check, and bumps its activity timestamp.
func (m *Manager) Page(principal types.Principal, id string) (driver.Page, error) {
	mp, err := m.get(principal, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	mp.info.LastActivityAt = time.Now()
	m.mu.Unlock()
	return mp.page, nil
}

// Info returns the page snapshot after an ownership check.
func (m *Manager) Info(principal types.Principal, id string) (types.PageInfo, error) {
	mp, err := m.get(principal, id)
	if err != nil {
		return types.PageInfo{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return mp.info, nil
}

// RecordActivity updates a page's URL, title, and error count after an
// action ran against it.
func (m *Manager) RecordActivity(id string, url string, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.pages[id]
	if !ok {
		return
	}
	mp.info.LastActivityAt = time.Now()
	if url != "" {
		mp.info.URL = url
	}
	if failed {
		mp.info.ErrorCount++
	}
}

// List returns pages visible to the principal: their own session's, or
// all for admins.
func (m *Manager) List(principal types.Principal) []types.PageInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.PageInfo, 0, len(m.pages))
	for _, mp := range m.pages {
		if principal.IsAdmin() || mp.info.SessionID == principal.SessionID {
			out = append(out, mp.info)
		}
	}
	return out
}

// Configure applies new options to an existing page.
func (m *Manager) Configure(ctx context.Context, principal types.Principal, id string, opts PageOptions) (types.PageInfo, error) {
	mp, err := m.get(principal, id)
	if err != nil {
		return types.PageInfo{}, err
	}
	if err := m.applyOptions(ctx, mp.page, opts); err != nil {
		return types.PageInfo{}, err
	}
	if opts.URL != "" {
		if err := mp.page.Navigate(ctx, types.NavigateParams{URL: opts.URL}); err != nil {
			return types.PageInfo{}, err
		}
	}

	m.mu.Lock()
	if opts.URL != "" {
		mp.info.URL = opts.URL
	}
	mp.info.LastActivityAt = time.Now()
	info := mp.info
	m.mu.Unlock()
	return info, nil
}

// ClosePage closes a page after an ownership check.
func (m *Manager) ClosePage(_ context.Context, principal types.Principal, id string) error {
	mp, err := m.get(principal, id)
	if err != nil {
		return err
	}
	m.remove(mp, true)
	return nil
}

// remove drops the page from the registry, optionally closing the
// underlying tab.
func (m *Manager) remove(mp *managedPage, closeTab bool) {
	m.mu.Lock()
	_, present := m.pages[mp.info.ID]
	delete(m.pages, mp.info.ID)
	if bctx, ok := m.contexts[mp.info.ContextID]; ok {
		bctx.PageIDs = removeString(bctx.PageIDs, mp.info.ID)
	}
	mp.info.State = "closed"
	metrics.ActivePages.Set(float64(len(m.pages)))
	m.mu.Unlock()

	if !present {
		return
	}
	if closeTab {
		if err := mp.page.Close(); err != nil {
			log.Debug().Err(err).Str("page_id", mp.info.ID).Msg("Error closing page")
		}
	}
	log.Info().Str("page_id", mp.info.ID).Msg("Page closed")
}

// ClosePagesForSession closes every page owned by the session, called
// when a session is deleted. Returns how many were closed.
func (m *Manager) ClosePagesForSession(sessionID string) int {
	m.mu.RLock()
	var doomed []*managedPage
	for _, mp := range m.pages {
		if mp.info.SessionID == sessionID {
			doomed = append(doomed, mp)
		}
	}
	m.mu.RUnlock()

	for _, mp := range doomed {
		m.remove(mp, true)
	}
	return len(doomed)
}

// watchPool drops registry entries whose browser was recycled; their
// tabs died with the browser process.
func (m *Manager) watchPool(events <-chan browser.Event) {
	for {
		select {
		case <-m.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != browser.EventRecycled {
				continue
			}
			m.mu.RLock()
			var orphaned []*managedPage
			for _, mp := range m.pages {
				if mp.info.BrowserID == ev.InstanceID {
					orphaned = append(orphaned, mp)
				}
			}
			m.mu.RUnlock()
			for _, mp := range orphaned {
				log.Warn().
					Str("page_id", mp.info.ID).
					Str("browser_id", ev.InstanceID).
					Msg("Page lost to browser recycle")
				m.remove(mp, false)
			}
		}
	}
}

func (m *Manager) idleSweepLoop() {
	interval := m.cfg.PageIdleTimeout
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

func (m *Manager) sweepIdle() {
	cutoff := time.Now().Add(-m.cfg.PageIdleTimeout)

	m.mu.RLock()
	var idle []*managedPage
	for _, mp := range m.pages {
		if mp.info.LastActivityAt.Before(cutoff) {
			idle = append(idle, mp)
		}
	}
	m.mu.RUnlock()

	for _, mp := range idle {
		log.Info().Str("page_id", mp.info.ID).Msg("Closing idle page")
		m.remove(mp, true)
	}
}

// Close stops background loops and closes every page.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.RLock()
	all := make([]*managedPage, 0, len(m.pages))
	for _, mp := range m.pages {
		all = append(all, mp)
	}
	m.mu.RUnlock()
	for _, mp := range all {
		m.remove(mp, true)
	}
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
