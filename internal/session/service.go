// Package session implements the session lifecycle shared by every
// protocol surface: login, lookup, refresh, update, and deletion with
// page cleanup.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/audit"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/pages"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/store"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

const minPasswordLen = 8

// CreateParams are the login request fields.
type CreateParams struct {
	Username string            `json:"username"`
	Password string            `json:"password"`
	Roles    []string          `json:"roles,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	TTL      time.Duration     `json:"-"`
}

// CreateResult carries the new session and a bearer token minted for it.
type CreateResult struct {
	Session *types.Session `json:"session"`
	Token   string         `json:"token,omitempty"`
}

// Service owns session lifecycle on top of the store. Deleting a
// session also closes its pages.
type Service struct {
	cfg   *config.Config
	store store.Store
	gate  *auth.Gate
	pages *pages.Manager
	sink  audit.Sink
}

// NewService wires the session service.
func NewService(cfg *config.Config, st store.Store, gate *auth.Gate, pm *pages.Manager, sink audit.Sink) *Service {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Service{cfg: cfg, store: st, gate: gate, pages: pm, sink: sink}
}

// Create verifies the login and persists a new session. Credential
// verification is delegated in real deployments; here any username with
// a sufficiently long password is accepted. Roles beyond "user" require
// an admin caller.
func (s *Service) Create(ctx context.Context, caller types.Principal, p CreateParams) (*CreateResult, error) {
	if p.Username == "" {
		return nil, types.Errorf(types.ErrValidation, "username is required")
	}
	if len(p.Password) < minPasswordLen {
		return nil, types.Errorf(types.ErrUnauthenticated, "invalid credentials for %s", p.Username)
	}

	roles := p.Roles
	if len(roles) == 0 {
		roles = []string{types.RoleUser}
	} else if !caller.IsAdmin() {
		for _, r := range roles {
			if r != types.RoleUser {
				return nil, types.Errorf(types.ErrForbidden, "role %s requires admin", r)
			}
		}
	}

	ttl := p.TTL
	if ttl <= 0 {
		ttl = s.cfg.SessionTimeout
	}
	sess, err := s.store.Create(ctx, types.SessionData{
		UserID:   p.Username,
		Username: p.Username,
		Roles:    roles,
		Metadata: p.Metadata,
		TTL:      ttl,
	})
	if err != nil {
		return nil, err
	}

	token, err := s.gate.IssueToken(sess.Principal(), ttl)
	if err != nil {
		// The session is usable through its ID even without a token.
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("Token issuance failed")
		token = ""
	}

	s.sink.Emit(audit.Event{
		Type:      audit.SessionCreated,
		Timestamp: time.Now().UTC(),
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Resource:  "session:" + sess.ID,
		Action:    "create",
		Outcome:   "success",
	})
	log.Info().Str("session_id", sess.ID).Str("user_id", sess.UserID).Msg("Session created")
	return &CreateResult{Session: sess, Token: token}, nil
}

// Get returns a session the caller owns, or any session for admins.
func (s *Service) Get(ctx context.Context, caller types.Principal, id string) (*types.Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, types.Errorf(types.ErrSessionNotFound, "session %s", id)
	}
	if sess.UserID != caller.UserID && !caller.IsAdmin() {
		return nil, types.Errorf(types.ErrForbidden, "session %s belongs to another user", id)
	}
	return sess, nil
}

// List returns the caller's sessions, or every session for admins.
func (s *Service) List(ctx context.Context, caller types.Principal) ([]*types.Session, error) {
	if caller.IsAdmin() {
		return s.store.List(ctx, "")
	}
	return s.store.List(ctx, caller.UserID)
}

// Update merges data into a session after an ownership check. Role
// escalation requires an admin caller.
func (s *Service) Update(ctx context.Context, caller types.Principal, id string, data types.SessionData) (*types.Session, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	if len(data.Roles) > 0 && !caller.IsAdmin() {
		return nil, types.Errorf(types.ErrForbidden, "changing roles requires admin")
	}
	return s.store.Update(ctx, id, data)
}

// Refresh extends the session TTL and returns the refreshed session.
func (s *Service) Refresh(ctx context.Context, caller types.Principal, id string) (*types.Session, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	if err := s.store.Touch(ctx, id, s.cfg.SessionTimeout); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// Validate reports whether the session exists and is live. Used by the
// gRPC surface; it performs no ownership check and returns no session
// contents beyond expiry.
func (s *Service) Validate(ctx context.Context, id string) (bool, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrSessionExpired) {
			return false, nil
		}
		return false, err
	}
	return sess != nil, nil
}

// Delete removes the session and closes every page it owns.
func (s *Service) Delete(ctx context.Context, caller types.Principal, id string) error {
	sess, err := s.Get(ctx, caller, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	closed := 0
	if s.pages != nil {
		closed = s.pages.ClosePagesForSession(id)
	}

	s.sink.Emit(audit.Event{
		Type:      audit.SessionDeleted,
		Timestamp: time.Now().UTC(),
		UserID:    sess.UserID,
		SessionID: id,
		Resource:  "session:" + id,
		Action:    "delete",
		Outcome:   "success",
	})
	log.Info().Str("session_id", id).Int("pages_closed", closed).Msg("Session deleted")
	return nil
}
