package pages

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// CreateContext registers a logical grouping of pages for the session.
func (m *Manager) CreateContext(principal types.Principal, name string) types.ContextInfo {
	info := types.ContextInfo{
		ID:        uuid.NewString(),
		SessionID: principal.SessionID,
		Name:      name,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.contexts[info.ID] = &info
	m.mu.Unlock()

	log.Info().Str("context_id", info.ID).Str("session_id", info.SessionID).Msg("Context created")
	return info
}

// GetContext returns a context after an ownership check.
func (m *Manager) GetContext(principal types.Principal, id string) (types.ContextInfo, error) {
	m.mu.RLock()
	bctx, ok := m.contexts[id]
	m.mu.RUnlock()
	if !ok {
		return types.ContextInfo{}, types.NewNotFoundError("context")
	}
	if bctx.SessionID != principal.SessionID && !principal.IsAdmin() {
		return types.ContextInfo{}, m.denied(principal, "context:"+id, "access")
	}
	return *bctx, nil
}

// ListContexts returns contexts visible to the principal.
func (m *Manager) ListContexts(principal types.Principal) []types.ContextInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.ContextInfo, 0, len(m.contexts))
	for _, bctx := range m.contexts {
		if principal.IsAdmin() || bctx.SessionID == principal.SessionID {
			out = append(out, *bctx)
		}
	}
	return out
}

// DeleteContext removes a context and closes its pages.
func (m *Manager) DeleteContext(principal types.Principal, id string) error {
	if _, err := m.GetContext(principal, id); err != nil {
		return err
	}

	m.mu.RLock()
	var doomed []*managedPage
	for _, mp := range m.pages {
		if mp.info.ContextID == id {
			doomed = append(doomed, mp)
		}
	}
	m.mu.RUnlock()
	for _, mp := range doomed {
		m.remove(mp, true)
	}

	m.mu.Lock()
	delete(m.contexts, id)
	m.mu.Unlock()

	log.Info().Str("context_id", id).Int("pages_closed", len(doomed)).Msg("Context deleted")
	return nil
}

// ContextPage returns a page in the context to execute against, creating
// one when the context is empty.
func (m *Manager) ContextPage(principal types.Principal, id string) (string, error) {
	bctx, err := m.GetContext(principal, id)
	if err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pageID := range bctx.PageIDs {
		if mp, ok := m.pages[pageID]; ok && mp.info.State != "closed" {
			return pageID, nil
		}
	}
	return "", types.Errorf(types.ErrPageNotFound, "context %s has no open pages", id)
}

// EnsureContextPage returns the context's executing page, opening one
// when the context is empty.
func (m *Manager) EnsureContextPage(ctx context.Context, principal types.Principal, id string) (string, error) {
	pageID, err := m.ContextPage(principal, id)
	if err == nil {
		return pageID, nil
	}
	if !errors.Is(err, types.ErrPageNotFound) {
		return "", err
	}
	info, err := m.CreatePage(ctx, principal, PageOptions{ContextID: id})
	if err != nil {
		return "", err
	}
	return info.ID, nil
}
