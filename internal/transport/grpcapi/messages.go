package grpcapi

import (
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/browser"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// Session service messages.

type SessionCreateRequest struct {
	Username   string            `json:"username"`
	Password   string            `json:"password"`
	Roles      []string          `json:"roles,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	TTLSeconds int               `json:"ttlSeconds,omitempty"`
}

type SessionCreateResponse struct {
	Session *types.Session `json:"session"`
	Token   string         `json:"token,omitempty"`
}

type SessionGetRequest struct {
	ID string `json:"id"`
}

type SessionUpdateRequest struct {
	ID string `json:"id"`
	// UpdateMask names the SessionData fields to apply; an empty mask
	// applies every populated field.
	UpdateMask []string          `json:"updateMask,omitempty"`
	Data       types.SessionData `json:"data"`
}

type SessionDeleteRequest struct {
	ID string `json:"id"`
}

type SessionDeleteResponse struct {
	Deleted bool `json:"deleted"`
}

type SessionListRequest struct{}

type SessionListResponse struct {
	Sessions []*types.Session `json:"sessions"`
}

type SessionValidateRequest struct {
	ID string `json:"id"`
}

type SessionValidateResponse struct {
	Valid bool `json:"valid"`
}

// Context service messages.

type ContextCreateRequest struct {
	Name string `json:"name,omitempty"`
}

type ContextGetRequest struct {
	ID string `json:"id"`
}

type ContextDeleteRequest struct {
	ID string `json:"id"`
}

type ContextDeleteResponse struct {
	Deleted bool `json:"deleted"`
}

type ContextListRequest struct{}

type ContextListResponse struct {
	Contexts []types.ContextInfo `json:"contexts"`
}

type ContextExecuteRequest struct {
	ContextID string       `json:"contextId"`
	Action    types.Action `json:"action"`
}

// Health service messages.

type HealthCheckRequest struct{}

type HealthCheckResponse struct {
	Status       string              `json:"status"`
	Version      string              `json:"version"`
	Pool         browser.PoolMetrics `json:"pool"`
	StoreHealthy bool                `json:"storeHealthy"`
}
