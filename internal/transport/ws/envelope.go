// Package ws exposes the control plane over a WebSocket connection: a
// JSON envelope protocol with request dispatch, application-level
// heartbeats, and topic subscriptions fed by pool lifecycle events.
package ws

import (
	"encoding/json"
	"time"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// Envelope message types.
const (
	TypeAuth        = "auth"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeRequest     = "request"
	TypeResponse    = "response"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeEvent       = "event"
	TypeError       = "error"
)

// Envelope is the frame every WebSocket message is wrapped in. Fields
// beyond type, id, and timestamp are populated per message type.
type Envelope struct {
	Type      string            `json:"type"`
	ID        string            `json:"id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Method    string            `json:"method,omitempty"`
	Path      string            `json:"path,omitempty"`
	Topic     string            `json:"topic,omitempty"`
	Filters   map[string]string `json:"filters,omitempty"`
	Data      json.RawMessage   `json:"data,omitempty"`
}

// authData is the payload of an auth frame. Any one credential carrier
// suffices.
type authData struct {
	Token     string `json:"token,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// subscribeData carries subscription options alongside the envelope's
// topic and filters.
type subscribeData struct {
	TTLSeconds int `json:"ttlSeconds,omitempty"`
}

func authCredentials(d authData) auth.Credentials {
	return auth.Credentials{BearerToken: d.Token, APIKey: d.APIKey, SessionID: d.SessionID}
}

func envelope(typ, id string, data any) Envelope {
	ev := Envelope{Type: typ, ID: id, Timestamp: time.Now().UTC()}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

// errorEnvelope wraps an error into the shared wire format, correlated
// to the frame that caused it.
func errorEnvelope(id string, err error) Envelope {
	wire := types.Classify(err).ToWire("")
	return envelope(TypeError, id, map[string]any{"error": wire})
}
