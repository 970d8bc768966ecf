package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

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

const testAPIKey = "rest-test-api-key"

func restConfig() *config.Config {
	return &config.Config{
		JWTSecret:      "rest-transport-test-secret-value",
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

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := restConfig()

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

	api := NewAPI(cfg, gate, svc, pm, exec, pool, st)
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func adminHeaders() map[string]string {
	return map[string]string{"X-API-Key": testAPIKey}
}

// login creates a session and returns its bearer token and session ID.
func login(t *testing.T, srv *httptest.Server, username string) (string, string) {
	t.Helper()
	resp, body := doJSON(t, srv, http.MethodPost, "/api/v1/sessions", map[string]any{
		"username": username,
		"password": "demo123!",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("login status = %d: %v", resp.StatusCode, body)
	}
	sess := body["session"].(map[string]any)
	token, _ := body["token"].(string)
	return token, sess["id"].(string)
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealthEndpointsArePublic(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/health", "/api/v1/health", "/api/v1/health/live", "/api/v1/health/ready"} {
		resp, body := doJSON(t, srv, http.MethodGet, path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d: %v", path, resp.StatusCode, body)
		}
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodGet, "/api/v1/pages", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d: %v", resp.StatusCode, body)
	}
	errObj := body["error"].(map[string]any)
	if errObj["code"] != types.CodeUnauthenticated {
		t.Fatalf("error code = %v", errObj["code"])
	}
	if errObj["requestId"] == "" {
		t.Fatal("error envelope missing request ID")
	}
}

func TestRequestIDEchoed(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("X-Request-Id", "trace-me-1")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-Id"); got != "trace-me-1" {
		t.Fatalf("request id = %q", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	token, sid := login(t, srv, "demo")

	resp, body := doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+sid, nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d: %v", resp.StatusCode, body)
	}
	if body["userId"] != "demo" {
		t.Fatalf("unexpected session: %v", body)
	}

	resp, body = doJSON(t, srv, http.MethodPost, "/api/v1/sessions/"+sid+"/refresh", nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d: %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, srv, http.MethodDelete, "/api/v1/sessions/"+sid, nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+sid, nil, bearer(token))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/v1/sessions", map[string]any{
		"username": "demo",
		"password": "nope",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestContextExecuteFlow(t *testing.T) {
	srv := newTestServer(t)
	token, _ := login(t, srv, "demo")

	resp, body := doJSON(t, srv, http.MethodPost, "/api/v1/contexts", map[string]any{"name": "crawl"}, bearer(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("context create = %d: %v", resp.StatusCode, body)
	}
	ctxID := body["id"].(string)

	resp, body = doJSON(t, srv, http.MethodPost, "/api/v1/contexts/"+ctxID+"/execute", map[string]any{
		"kind":   "navigate",
		"params": map[string]any{"url": "https://example.com"},
	}, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute = %d: %v", resp.StatusCode, body)
	}
	if body["success"] != true {
		t.Fatalf("action failed: %v", body)
	}
	data := body["data"].(map[string]any)
	if data["url"] != "https://example.com" {
		t.Fatalf("unexpected data: %v", data)
	}

	// The context now holds the page that was created on first execute.
	resp, body = doJSON(t, srv, http.MethodGet, "/api/v1/contexts/"+ctxID, nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("context get = %d", resp.StatusCode)
	}
	if ids, ok := body["pageIds"].([]any); !ok || len(ids) != 1 {
		t.Fatalf("expected 1 page in context: %v", body)
	}
}

func TestExecuteValidationEnvelope(t *testing.T) {
	srv := newTestServer(t)
	token, _ := login(t, srv, "demo")

	resp, body := doJSON(t, srv, http.MethodPost, "/api/v1/pages", nil, bearer(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("page create = %d: %v", resp.StatusCode, body)
	}
	pageID := body["id"].(string)

	resp, body = doJSON(t, srv, http.MethodPost, "/api/v1/execute", map[string]any{
		"kind":   "click",
		"pageId": pageID,
		"params": map[string]any{},
	}, bearer(token))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", resp.StatusCode, body)
	}
	if body["success"] != false {
		t.Fatalf("expected failed result: %v", body)
	}
	errObj := body["error"].(map[string]any)
	if errObj["code"] != types.CodeValidation {
		t.Fatalf("error code = %v", errObj["code"])
	}
}

func TestCrossSessionPageAccessForbidden(t *testing.T) {
	srv := newTestServer(t)
	tokenA, _ := login(t, srv, "alice")
	tokenB, _ := login(t, srv, "bob")

	resp, body := doJSON(t, srv, http.MethodPost, "/api/v1/pages", nil, bearer(tokenA))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("page create = %d", resp.StatusCode)
	}
	pageID := body["id"].(string)

	resp, body = doJSON(t, srv, http.MethodGet, "/api/v1/pages/"+pageID, nil, bearer(tokenB))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %v", resp.StatusCode, body)
	}

	// Admin API key sees everything.
	resp, _ = doJSON(t, srv, http.MethodGet, "/api/v1/pages/"+pageID, nil, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin get = %d", resp.StatusCode)
	}
}

func TestPageLifecycleAndHistory(t *testing.T) {
	srv := newTestServer(t)
	token, _ := login(t, srv, "demo")

	resp, body := doJSON(t, srv, http.MethodPost, "/api/v1/pages", map[string]any{
		"viewportWidth":  800,
		"viewportHeight": 600,
	}, bearer(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("page create = %d: %v", resp.StatusCode, body)
	}
	pageID := body["id"].(string)

	resp, body = doJSON(t, srv, http.MethodPost, "/api/v1/execute", map[string]any{
		"kind":   "content",
		"pageId": pageID,
	}, bearer(token))
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("execute = %d: %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, srv, http.MethodGet, "/api/v1/pages/"+pageID+"/history", nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history = %d", resp.StatusCode)
	}
	if body["count"].(float64) != 1 {
		t.Fatalf("expected 1 history entry: %v", body)
	}

	resp, _ = doJSON(t, srv, http.MethodDelete, "/api/v1/pages/"+pageID, nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, srv, http.MethodGet, "/api/v1/pages/"+pageID, nil, bearer(token))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after close, got %d", resp.StatusCode)
	}
}

func TestExecuteBatchEndpoint(t *testing.T) {
	srv := newTestServer(t)
	token, _ := login(t, srv, "demo")

	resp, body := doJSON(t, srv, http.MethodPost, "/api/v1/pages", nil, bearer(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("page create = %d", resp.StatusCode)
	}
	pageID := body["id"].(string)

	resp, body = doJSON(t, srv, http.MethodPost, "/api/v1/execute/batch", map[string]any{
		"actions": []map[string]any{
			{"kind": "navigate", "pageId": pageID, "params": map[string]any{"url": "https://example.com"}},
			{"kind": "content", "pageId": pageID},
		},
	}, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batch = %d: %v", resp.StatusCode, body)
	}
	results := body["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i, r := range results {
		if r.(map[string]any)["success"] != true {
			t.Fatalf("result %d failed: %v", i, r)
		}
	}
}

func TestUnknownRouteEnvelope(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodGet, "/api/v1/nope", nil, adminHeaders())
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, ok := body["error"]; !ok {
		t.Fatalf("expected error envelope: %v", body)
	}
}
