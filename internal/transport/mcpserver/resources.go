package mcpserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/transport"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
	"github.com/puppeteer-mcp/puppeteer-mcp/pkg/version"
)

const (
	healthURI  = "api://health"
	catalogURI = "api://catalog"
)

func (s *Server) registerResources() {
	s.mcp.AddResource(
		mcp.NewResource(healthURI, "Service health",
			mcp.WithResourceDescription("Pool, store, and process health."),
			mcp.WithMIMEType("application/json"),
		),
		s.readHealth,
	)
	s.mcp.AddResource(
		mcp.NewResource(catalogURI, "Operation catalog",
			mcp.WithResourceDescription("Every method and path execute-api accepts."),
			mcp.WithMIMEType("application/json"),
		),
		s.readCatalog,
	)
}

func (s *Server) readHealth(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	storeOK := s.store.Ping(ctx) == nil
	status := "ok"
	if !storeOK || !s.pool.Healthy() {
		status = "degraded"
	}
	return jsonContents(healthURI, map[string]any{
		"status":       status,
		"version":      version.Full(),
		"pool":         s.pool.Metrics(),
		"storeHealthy": storeOK,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) readCatalog(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(catalogURI, map[string]any{"endpoints": transport.Catalog()})
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, types.NewInternalError(err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(raw)},
	}, nil
}
