// Package audit provides the structured security event sink.
// Events are appended asynchronously to daily JSON-lines files; a full
// queue drops the event and increments a counter rather than stalling
// the request path.
package audit

import (
	"time"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/security"
)

// EventType names the security-relevant occurrences recorded by the sink.
type EventType string

// Event types.
const (
	AuthAttempt        EventType = "AUTH_ATTEMPT"
	AuthSuccess        EventType = "AUTH_SUCCESS"
	AuthFailure        EventType = "AUTH_FAILURE"
	AccessDenied       EventType = "ACCESS_DENIED"
	ValidationFailure  EventType = "VALIDATION_FAILURE"
	CommandExecuted    EventType = "COMMAND_EXECUTED"
	SuspiciousActivity EventType = "SUSPICIOUS_ACTIVITY"
	SessionCreated     EventType = "SESSION_CREATED"
	SessionDeleted     EventType = "SESSION_DELETED"
	PoolScaled         EventType = "POOL_SCALED"
	BrowserRecycled    EventType = "BROWSER_RECYCLED"
)

// Event is a single audit record. Metadata is redacted before the event
// is enqueued so secrets never reach the sink goroutine.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"userId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	Action    string         `json:"action,omitempty"`
	Phase     string         `json:"phase,omitempty"` // start | complete
	Outcome   string         `json:"outcome,omitempty"`
	Duration  time.Duration  `json:"durationMs,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewEvent builds an event with the timestamp set and metadata redacted.
func NewEvent(t EventType) Event {
	return Event{Type: t, Timestamp: time.Now().UTC()}
}

// WithMeta attaches redacted metadata to the event.
func (e Event) WithMeta(meta map[string]any) Event {
	e.Metadata = security.RedactMap(meta)
	return e
}
