// Package auth implements the authentication gate and the role-based
// capability matrix shared by every protocol adapter.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/audit"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/metrics"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/store"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// Credentials carries whatever the transport extracted from the request.
// The gate tries bearer token, then API key, then session ID.
type Credentials struct {
	BearerToken string
	APIKey      string
	SessionID   string
}

// Claims is the JWT payload the gate signs and verifies.
type Claims struct {
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// Gate authenticates requests and enforces the capability matrix.
type Gate struct {
	cfg      *config.Config
	sessions store.Store
	enforcer *casbin.Enforcer
	sink     audit.Sink

	apiKeyHash [sha256.Size]byte
}

// NewGate builds the gate with its in-memory casbin enforcer.
func NewGate(cfg *config.Config, sessions store.Store, sink audit.Sink) (*Gate, error) {
	e, err := newEnforcer()
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	g := &Gate{cfg: cfg, sessions: sessions, enforcer: e, sink: sink}
	if cfg.APIKeyEnabled {
		g.apiKeyHash = sha256.Sum256([]byte(cfg.APIKey))
	}
	return g, nil
}

// Authenticate resolves credentials to a principal. All failures return
// a sentinel wrapped error and are audited; the caller never learns
// which credential check failed beyond the wrapped sentinel.
func (g *Gate) Authenticate(ctx context.Context, creds Credentials) (types.Principal, error) {
	switch {
	case creds.BearerToken != "":
		return g.authenticateJWT(creds.BearerToken)
	case creds.APIKey != "":
		return g.authenticateAPIKey(creds.APIKey)
	case creds.SessionID != "":
		return g.authenticateSession(ctx, creds.SessionID)
	default:
		g.record("none", "missing", "")
		return types.Principal{}, types.Errorf(types.ErrUnauthenticated, "no credentials presented")
	}
}

func (g *Gate) authenticateJWT(tokenString string) (types.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, types.Errorf(types.ErrUnauthenticated, "unexpected signing method %v", t.Header["alg"])
		}
		return []byte(g.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))

	if err != nil {
		g.record("jwt", "failure", "")
		if errors.Is(err, jwt.ErrTokenExpired) {
			return types.Principal{}, types.Errorf(types.ErrTokenExpired, "token expired")
		}
		return types.Principal{}, types.Errorf(types.ErrUnauthenticated, "invalid token: %v", err)
	}
	if !token.Valid {
		g.record("jwt", "failure", "")
		return types.Principal{}, types.Errorf(types.ErrUnauthenticated, "invalid token")
	}

	roles := claims.Roles
	if len(roles) == 0 {
		roles = []string{types.RoleUser}
	}
	p := types.Principal{
		UserID:     claims.Subject,
		Username:   claims.Username,
		Roles:      roles,
		Scopes:     claims.Scopes,
		AuthMethod: "jwt",
	}
	g.record("jwt", "success", p.UserID)
	return p, nil
}

func (g *Gate) authenticateAPIKey(key string) (types.Principal, error) {
	if !g.cfg.APIKeyEnabled {
		g.record("apikey", "failure", "")
		return types.Principal{}, types.Errorf(types.ErrUnauthenticated, "api key authentication disabled")
	}

	// Hash both sides so the comparison is constant time regardless of
	// key length.
	presented := sha256.Sum256([]byte(key))
	if subtle.ConstantTimeCompare(presented[:], g.apiKeyHash[:]) != 1 {
		g.record("apikey", "failure", "")
		return types.Principal{}, types.Errorf(types.ErrUnauthenticated, "invalid api key")
	}

	p := types.Principal{
		UserID:     "apikey",
		Username:   "apikey",
		Roles:      []string{types.RoleAdmin},
		AuthMethod: "apikey",
	}
	g.record("apikey", "success", p.UserID)
	return p, nil
}

func (g *Gate) authenticateSession(ctx context.Context, id string) (types.Principal, error) {
	s, err := g.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrSessionExpired) {
			g.record("session", "failure", "")
			return types.Principal{}, err
		}
		g.record("session", "error", "")
		return types.Principal{}, err
	}
	if s == nil {
		g.record("session", "failure", "")
		return types.Principal{}, types.Errorf(types.ErrSessionNotFound, "session %s", id)
	}

	// Best effort activity bump; auth does not fail on a touch error.
	if err := g.sessions.Touch(ctx, id, g.cfg.SessionTimeout); err != nil {
		log.Debug().Err(err).Str("session_id", id).Msg("Session touch failed")
	}

	p := s.Principal()
	g.record("session", "success", p.UserID)
	return p, nil
}

// Authorize checks the principal against the capability matrix.
// Denials are audited as ACCESS_DENIED.
func (g *Gate) Authorize(p types.Principal, resource, action string) error {
	for _, role := range p.Roles {
		ok, err := g.enforcer.Enforce("role:"+role, resource, action)
		if err != nil {
			return types.Errorf(types.ErrForbidden, "authorization check failed: %v", err)
		}
		if ok {
			return nil
		}
	}

	g.sink.Emit(audit.Event{
		Type:      audit.AccessDenied,
		Timestamp: time.Now().UTC(),
		UserID:    p.UserID,
		SessionID: p.SessionID,
		Resource:  resource,
		Action:    action,
		Outcome:   "denied",
	})
	return types.Errorf(types.ErrForbidden, "%s on %s not permitted for roles %v", action, resource, p.Roles)
}

// IssueToken signs a JWT for the principal with the given lifetime.
func (g *Gate) IssueToken(p types.Principal, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = g.cfg.SessionTimeout
	}
	now := time.Now()
	claims := Claims{
		Username: p.Username,
		Roles:    p.Roles,
		Scopes:   p.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "puppeteer-mcp",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(g.cfg.JWTSecret))
	if err != nil {
		return "", types.NewInternalError(err)
	}
	return signed, nil
}

// record audits one authentication attempt: always an AUTH_ATTEMPT,
// followed by AUTH_SUCCESS or AUTH_FAILURE.
func (g *Gate) record(method, outcome, userID string) {
	metrics.AuthAttempts.WithLabelValues(method, outcome).Inc()

	now := time.Now().UTC()
	g.sink.Emit(audit.Event{
		Type:      audit.AuthAttempt,
		Timestamp: now,
		UserID:    userID,
		Action:    method,
	})

	evType := audit.AuthSuccess
	if outcome != "success" {
		evType = audit.AuthFailure
	}
	g.sink.Emit(audit.Event{
		Type:      evType,
		Timestamp: now,
		UserID:    userID,
		Action:    method,
		Outcome:   outcome,
	})
}
