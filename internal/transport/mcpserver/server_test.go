package mcpserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/action"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/audit"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/browser"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/driver"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/pages"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/session"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/store"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

const testAPIKey = "mcp-test-api-key"

func mcpConfig() *config.Config {
	return &config.Config{
		JWTSecret:      "mcp-transport-test-secret-value-",
		APIKeyEnabled:  true,
		APIKey:         testAPIKey,
		SessionTimeout: time.Hour,

		PoolMinSize:             1,
		PoolMaxSize:             2,
		PoolAcquireWait:         2 * time.Second,
		HealthCheckInterval:     time.Hour,
		ScalingInterval:         time.Hour,
		ScalingSamples:          3,
		MaxMemoryMB:             2048,
		MaxPagesPerBrowser:      20,
		RecycleStrategy:         "hybrid",
		MaxBrowserLifetime:      time.Hour,
		MaxBrowserIdleTime:      time.Hour,
		MaxBrowserUses:          100,
		BreakerFailureThreshold: 3,
		BreakerRollingWindow:    time.Minute,
		BreakerOpenDuration:     time.Minute,
		PageIdleTimeout:         time.Hour,

		AllowedSchemes: []string{"http", "https"},
		DefaultTimeout: 5 * time.Second,
		MaxTimeoutCap:  10 * time.Second,
		MaxFiles:       3,
	}
}

func newTestMCP(t *testing.T) *Server {
	t.Helper()
	cfg := mcpConfig()

	st := store.NewMemoryStore(time.Hour, time.Minute, 0)
	t.Cleanup(func() { _ = st.Close() })

	gate, err := auth.NewGate(cfg, st, nil)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}

	pool, err := browser.NewPool(context.Background(), cfg, driver.NewFakeDriver(), nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	pm := pages.NewManager(cfg, pool, nil)
	t.Cleanup(func() {
		pm.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx, true)
	})

	policies, err := action.NewPolicyStore(cfg)
	if err != nil {
		t.Fatalf("NewPolicyStore: %v", err)
	}
	t.Cleanup(policies.Close)

	exec := action.NewExecutor(cfg, action.NewValidator(policies), action.NewDispatcher(), pm, audit.NopSink{})
	svc := session.NewService(cfg, st, gate, pm, nil)

	return NewServer(cfg, gate, svc, pm, exec, pool, st)
}

func toolReq(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return tc.Text
}

func toolJSON(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	if res.IsError {
		t.Fatalf("tool failed: %s", resultText(t, res))
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("decoding tool result: %v", err)
	}
	return out
}

func toolErrorCode(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if !res.IsError {
		t.Fatalf("expected tool error, got: %s", resultText(t, res))
	}
	var out map[string]types.WireError
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("decoding tool error: %v", err)
	}
	return out["error"].Code
}

func mcpLogin(t *testing.T, s *Server, username string) string {
	t.Helper()
	res, err := s.createSession(context.Background(), toolReq(map[string]any{
		"username": username,
		"password": "demo123!",
	}))
	if err != nil {
		t.Fatalf("create-session: %v", err)
	}
	body := toolJSON(t, res)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("missing token in %v", body)
	}
	return token
}

func TestCreateSessionTool(t *testing.T) {
	s := newTestMCP(t)
	token := mcpLogin(t, s, "demo")

	res, err := s.listSessions(context.Background(), toolReq(map[string]any{"token": token}))
	if err != nil {
		t.Fatalf("list-sessions: %v", err)
	}
	sessions := toolJSON(t, res)["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
}

func TestToolRequiresCredentials(t *testing.T) {
	s := newTestMCP(t)

	res, err := s.listSessions(context.Background(), toolReq(nil))
	if err != nil {
		t.Fatalf("list-sessions: %v", err)
	}
	if code := toolErrorCode(t, res); code != types.CodeUnauthenticated {
		t.Fatalf("error code = %s", code)
	}
}

func TestCreateSessionRejectsBadPassword(t *testing.T) {
	s := newTestMCP(t)

	res, err := s.createSession(context.Background(), toolReq(map[string]any{
		"username": "demo",
		"password": "nope",
	}))
	if err != nil {
		t.Fatalf("create-session: %v", err)
	}
	if code := toolErrorCode(t, res); code != types.CodeUnauthenticated {
		t.Fatalf("error code = %s", code)
	}
}

func TestExecuteInContextTool(t *testing.T) {
	s := newTestMCP(t)
	token := mcpLogin(t, s, "demo")

	res, err := s.createBrowserContext(context.Background(), toolReq(map[string]any{
		"token": token,
		"name":  "crawl",
	}))
	if err != nil {
		t.Fatalf("create-browser-context: %v", err)
	}
	ctxID := toolJSON(t, res)["id"].(string)

	res, err = s.executeInContext(context.Background(), toolReq(map[string]any{
		"token":     token,
		"contextId": ctxID,
		"kind":      "navigate",
		"params":    map[string]any{"url": "https://example.com"},
	}))
	if err != nil {
		t.Fatalf("execute-in-context: %v", err)
	}
	body := toolJSON(t, res)
	if body["success"] != true {
		t.Fatalf("action failed: %v", body)
	}
}

func TestExecuteAPITool(t *testing.T) {
	s := newTestMCP(t)

	res, err := s.executeAPI(context.Background(), toolReq(map[string]any{
		"apiKey": testAPIKey,
		"method": "POST",
		"path":   "/api/v1/pages",
	}))
	if err != nil {
		t.Fatalf("execute-api: %v", err)
	}
	page := toolJSON(t, res)
	if page["id"] == "" {
		t.Fatalf("missing page id: %v", page)
	}

	res, err = s.executeAPI(context.Background(), toolReq(map[string]any{
		"apiKey": testAPIKey,
		"method": "GET",
		"path":   "/api/v1/pages/" + page["id"].(string),
	}))
	if err != nil {
		t.Fatalf("execute-api get: %v", err)
	}
	if toolJSON(t, res)["id"] != page["id"] {
		t.Fatal("page lookup mismatch")
	}
}

func TestExecuteAPIUnknownPath(t *testing.T) {
	s := newTestMCP(t)

	res, err := s.executeAPI(context.Background(), toolReq(map[string]any{
		"apiKey": testAPIKey,
		"method": "GET",
		"path":   "/api/v1/weather",
	}))
	if err != nil {
		t.Fatalf("execute-api: %v", err)
	}
	if code := toolErrorCode(t, res); code != types.CodeNotFound {
		t.Fatalf("error code = %s", code)
	}
}

func TestDeleteSessionTool(t *testing.T) {
	s := newTestMCP(t)
	token := mcpLogin(t, s, "demo")

	var sessions []*types.Session
	res, err := s.listSessions(context.Background(), toolReq(map[string]any{"token": token}))
	if err != nil {
		t.Fatalf("list-sessions: %v", err)
	}
	raw, _ := json.Marshal(toolJSON(t, res)["sessions"])
	if err := json.Unmarshal(raw, &sessions); err != nil || len(sessions) != 1 {
		t.Fatalf("decoding sessions: %v (%d)", err, len(sessions))
	}

	res, err = s.deleteSession(context.Background(), toolReq(map[string]any{
		"token":     token,
		"sessionId": sessions[0].ID,
	}))
	if err != nil {
		t.Fatalf("delete-session: %v", err)
	}
	if toolJSON(t, res)["deleted"] != true {
		t.Fatal("expected deleted result")
	}
}

func TestListEndpointsTool(t *testing.T) {
	s := newTestMCP(t)

	res, err := s.listEndpoints(context.Background(), toolReq(nil))
	if err != nil {
		t.Fatalf("list-endpoints: %v", err)
	}
	endpoints := toolJSON(t, res)["endpoints"].([]any)
	if len(endpoints) < 10 {
		t.Fatalf("catalog too small: %d entries", len(endpoints))
	}
}

func TestHTTPContextCarriesPrincipal(t *testing.T) {
	s := newTestMCP(t)

	r := httptest.NewRequest("POST", "/mcp", nil)
	r.Header.Set("X-API-Key", testAPIKey)
	ctx := s.httpContext(context.Background(), r)

	res, err := s.listSessions(ctx, toolReq(nil))
	if err != nil {
		t.Fatalf("list-sessions: %v", err)
	}
	if res.IsError {
		t.Fatalf("expected authenticated call, got: %s", resultText(t, res))
	}
}

func TestHealthResource(t *testing.T) {
	s := newTestMCP(t)

	contents, err := s.readHealth(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("readHealth: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents)
	var body map[string]any
	if err := json.Unmarshal([]byte(text.Text), &body); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status = %v", body["status"])
	}

	contents, err = s.readCatalog(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("readCatalog: %v", err)
	}
	if catalog := contents[0].(mcp.TextResourceContents); catalog.URI != catalogURI {
		t.Fatalf("catalog uri = %s", catalog.URI)
	}
}
