package types

import (
	"encoding/json"
	"time"
)

// Roles understood by the capability matrix.
const (
	RoleAdmin    = "admin"
	RoleUser     = "user"
	RoleReadonly = "readonly"
)

// Principal is the authenticated identity bound to a single request.
// It is created by the auth gate and carried on the request context.
type Principal struct {
	UserID     string   `json:"userId"`
	Username   string   `json:"username,omitempty"`
	Roles      []string `json:"roles"`
	Scopes     []string `json:"scopes,omitempty"`
	SessionID  string   `json:"sessionId,omitempty"`
	AuthMethod string   `json:"authMethod,omitempty"` // jwt | apikey | session
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.HasRole(RoleAdmin) }

// Session is the persistent authentication session stored in the session
// store. Expired sessions must never authorize an action.
type Session struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	Username       string            `json:"username"`
	Roles          []string          `json:"roles"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	ExpiresAt      time.Time         `json:"expiresAt"`
	LastActivityAt time.Time         `json:"lastActivityAt"`
}

// Expired reports whether the session TTL has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Principal derives a request principal from the session.
func (s *Session) Principal() Principal {
	return Principal{
		UserID:     s.UserID,
		Username:   s.Username,
		Roles:      s.Roles,
		SessionID:  s.ID,
		AuthMethod: "session",
	}
}

// SessionData carries the mutable fields for session creation and update.
type SessionData struct {
	UserID   string            `json:"userId"`
	Username string            `json:"username"`
	Roles    []string          `json:"roles,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	TTL      time.Duration     `json:"-"`
}

// Request is the normalized internal request envelope every protocol
// adapter decodes to before dispatch.
type Request struct {
	Op        string          `json:"op"`
	RequestID string          `json:"requestId,omitempty"`
	Principal Principal       `json:"-"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// PageInfo is the externally visible description of a managed page.
type PageInfo struct {
	ID             string    `json:"id"`
	BrowserID      string    `json:"browserId"`
	SessionID      string    `json:"sessionId"`
	ContextID      string    `json:"contextId,omitempty"`
	URL            string    `json:"url,omitempty"`
	Title          string    `json:"title,omitempty"`
	State          string    `json:"state"` // loading | active | closed
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ErrorCount     int       `json:"errorCount,omitempty"`
}

// ContextInfo describes a logical grouping of pages.
type ContextInfo struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	PageIDs   []string  `json:"pageIds,omitempty"`
}
