package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/metrics"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// MemoryStore keeps sessions in a map with a background sweep that
// evicts expired entries.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session

	defaultTTL time.Duration
	maxCount   int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMemoryStore creates the store and starts the cleanup goroutine.
// maxCount of 0 disables the session cap.
func NewMemoryStore(defaultTTL, cleanupInterval time.Duration, maxCount int) *MemoryStore {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	m := &MemoryStore{
		sessions:   make(map[string]*types.Session),
		defaultTTL: defaultTTL,
		maxCount:   maxCount,
		stopCh:     make(chan struct{}),
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.cleanupLoop(cleanupInterval)
	}()

	log.Info().
		Dur("default_ttl", defaultTTL).
		Dur("cleanup_interval", cleanupInterval).
		Int("max_sessions", maxCount).
		Msg("Memory session store initialized")
	return m
}

func (m *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if n, _ := m.DeleteExpired(context.Background()); n > 0 {
				log.Debug().Int("count", n).Msg("Evicted expired sessions")
			}
		}
	}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, data types.SessionData) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxCount > 0 && len(m.sessions) >= m.maxCount {
		return nil, types.Errorf(types.ErrTooManySessions, "session limit %d reached", m.maxCount)
	}

	ttl := data.TTL
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	now := time.Now()
	s := &types.Session{
		ID:             uuid.NewString(),
		UserID:         data.UserID,
		Username:       data.Username,
		Roles:          append([]string(nil), data.Roles...),
		Metadata:       cloneMeta(data.Metadata),
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastActivityAt: now,
	}
	m.sessions[s.ID] = s
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return cloneSession(s), nil
}

// Get implements Store. An expired session is evicted and reported as
// types.ErrSessionExpired so callers can tell it apart from one that
// never existed.
func (m *MemoryStore) Get(_ context.Context, id string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	if s.Expired(time.Now()) {
		delete(m.sessions, id)
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
		return nil, types.Errorf(types.ErrSessionExpired, "session %s", id)
	}
	return cloneSession(s), nil
}

// Update implements Store.
func (m *MemoryStore) Update(_ context.Context, id string, data types.SessionData) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Expired(time.Now()) {
		return nil, types.ErrSessionNotFound
	}
	applyData(s, data)
	s.LastActivityAt = time.Now()
	return cloneSession(s), nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return types.ErrSessionNotFound
	}
	delete(m.sessions, id)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return nil
}

// List implements Store. Empty userID lists all live sessions.
func (m *MemoryStore) List(_ context.Context, userID string) ([]*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	out := make([]*types.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Expired(now) {
			continue
		}
		if userID != "" && s.UserID != userID {
			continue
		}
		out = append(out, cloneSession(s))
	}
	return out, nil
}

// Touch implements Store.
func (m *MemoryStore) Touch(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return types.ErrSessionNotFound
	}
	now := time.Now()
	if s.Expired(now) {
		delete(m.sessions, id)
		return types.ErrSessionExpired
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	s.LastActivityAt = now
	s.ExpiresAt = now.Add(ttl)
	return nil
}

// DeleteExpired implements Store.
func (m *MemoryStore) DeleteExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	n := 0
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			n++
		}
	}
	if n > 0 {
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	return n, nil
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
	return nil
}

func cloneSession(s *types.Session) *types.Session {
	c := *s
	c.Roles = append([]string(nil), s.Roles...)
	c.Metadata = cloneMeta(s.Metadata)
	return &c
}

func cloneMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
