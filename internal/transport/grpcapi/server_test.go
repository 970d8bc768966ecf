package grpcapi

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

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

const testAPIKey = "grpc-test-api-key"

func grpcConfig() *config.Config {
	return &config.Config{
		JWTSecret:      "grpc-transport-test-secret-value",
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

// newTestConn starts the gRPC services over an in-memory listener and
// returns a client connection speaking the JSON codec.
func newTestConn(t *testing.T) *grpc.ClientConn {
	t.Helper()
	cfg := grpcConfig()

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

	srv := NewServer(cfg, gate, svc, pm, exec, pool, st)
	gs := srv.GRPCServer()

	lis := bufconn.Listen(1 << 20)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, ctx context.Context, method string, req, resp any) error {
	t.Helper()
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Invoke(callCtx, method, req, resp)
}

func withToken(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func withAPIKey() context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "x-api-key", testAPIKey)
}

// grpcLogin creates a session over the wire and returns its token and ID.
func grpcLogin(t *testing.T, conn *grpc.ClientConn, username string) (string, string) {
	t.Helper()
	var resp SessionCreateResponse
	err := invoke(t, conn, context.Background(), "/puppeteer.v1.SessionService/Create", &SessionCreateRequest{
		Username: username,
		Password: "demo123!",
	}, &resp)
	if err != nil {
		t.Fatalf("session create: %v", err)
	}
	if resp.Token == "" || resp.Session == nil {
		t.Fatalf("incomplete create response: %+v", resp)
	}
	return resp.Token, resp.Session.ID
}

func TestHealthCheckIsPublic(t *testing.T) {
	conn := newTestConn(t)

	var resp HealthCheckResponse
	if err := invoke(t, conn, context.Background(), "/puppeteer.v1.HealthService/Check", &HealthCheckRequest{}, &resp); err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("status = %q", resp.Status)
	}
	if !resp.StoreHealthy {
		t.Fatal("expected healthy store")
	}
}

func TestUnauthenticatedCallRejected(t *testing.T) {
	conn := newTestConn(t)

	var resp ContextListResponse
	err := invoke(t, conn, context.Background(), "/puppeteer.v1.ContextService/List", &ContextListRequest{}, &resp)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestSessionLifecycleOverGRPC(t *testing.T) {
	conn := newTestConn(t)
	token, sid := grpcLogin(t, conn, "demo")

	var sess types.Session
	if err := invoke(t, conn, withToken(token), "/puppeteer.v1.SessionService/Get", &SessionGetRequest{ID: sid}, &sess); err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Username != "demo" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	var refreshed types.Session
	if err := invoke(t, conn, withToken(token), "/puppeteer.v1.SessionService/Refresh", &SessionGetRequest{ID: sid}, &refreshed); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !refreshed.ExpiresAt.After(time.Now()) {
		t.Fatalf("refresh did not extend expiry: %v", refreshed.ExpiresAt)
	}

	var del SessionDeleteResponse
	if err := invoke(t, conn, withToken(token), "/puppeteer.v1.SessionService/Delete", &SessionDeleteRequest{ID: sid}, &del); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !del.Deleted {
		t.Fatal("expected deleted response")
	}

	var valid SessionValidateResponse
	if err := invoke(t, conn, context.Background(), "/puppeteer.v1.SessionService/Validate", &SessionValidateRequest{ID: sid}, &valid); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if valid.Valid {
		t.Fatal("deleted session should not validate")
	}
}

func TestSessionUpdateMask(t *testing.T) {
	conn := newTestConn(t)
	token, sid := grpcLogin(t, conn, "demo")

	var updated types.Session
	err := invoke(t, conn, withToken(token), "/puppeteer.v1.SessionService/Update", &SessionUpdateRequest{
		ID:         sid,
		UpdateMask: []string{"metadata"},
		Data: types.SessionData{
			Username: "ignored",
			Metadata: map[string]string{"team": "crawlers"},
		},
	}, &updated)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Metadata["team"] != "crawlers" {
		t.Fatalf("metadata not applied: %+v", updated)
	}
	if updated.Username != "demo" {
		t.Fatalf("masked field was applied: %+v", updated)
	}
}

func TestCrossUserSessionAccessDenied(t *testing.T) {
	conn := newTestConn(t)
	_, sidA := grpcLogin(t, conn, "alice")
	tokenB, _ := grpcLogin(t, conn, "bob")

	var sess types.Session
	err := invoke(t, conn, withToken(tokenB), "/puppeteer.v1.SessionService/Get", &SessionGetRequest{ID: sidA}, &sess)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}

	// Admin API key sees everything.
	if err := invoke(t, conn, withAPIKey(), "/puppeteer.v1.SessionService/Get", &SessionGetRequest{ID: sidA}, &sess); err != nil {
		t.Fatalf("admin get: %v", err)
	}
}

func TestContextExecuteOverGRPC(t *testing.T) {
	conn := newTestConn(t)
	token, _ := grpcLogin(t, conn, "demo")

	var info types.ContextInfo
	if err := invoke(t, conn, withToken(token), "/puppeteer.v1.ContextService/Create", &ContextCreateRequest{Name: "crawl"}, &info); err != nil {
		t.Fatalf("context create: %v", err)
	}

	var result types.ActionResult
	err := invoke(t, conn, withToken(token), "/puppeteer.v1.ContextService/Execute", &ContextExecuteRequest{
		ContextID: info.ID,
		Action: types.Action{
			Kind:   "navigate",
			Params: []byte(`{"url":"https://example.com"}`),
		},
	}, &result)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("action failed: %+v", result.Error)
	}

	// The execute created a page inside the context.
	var got types.ContextInfo
	if err := invoke(t, conn, withToken(token), "/puppeteer.v1.ContextService/Get", &ContextGetRequest{ID: info.ID}, &got); err != nil {
		t.Fatalf("context get: %v", err)
	}
	if len(got.PageIDs) != 1 {
		t.Fatalf("expected 1 page in context, got %d", len(got.PageIDs))
	}

	var del ContextDeleteResponse
	if err := invoke(t, conn, withToken(token), "/puppeteer.v1.ContextService/Delete", &ContextDeleteRequest{ID: info.ID}, &del); err != nil {
		t.Fatalf("context delete: %v", err)
	}
}

func TestStatusMapping(t *testing.T) {
	conn := newTestConn(t)
	token, _ := grpcLogin(t, conn, "demo")

	var sess types.Session
	err := invoke(t, conn, withToken(token), "/puppeteer.v1.SessionService/Get", &SessionGetRequest{ID: "missing"}, &sess)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	var resp SessionCreateResponse
	err = invoke(t, conn, context.Background(), "/puppeteer.v1.SessionService/Create", &SessionCreateRequest{
		Password: "demo123!",
	}, &resp)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for missing username, got %v", err)
	}

	err = invoke(t, conn, context.Background(), "/puppeteer.v1.SessionService/Create", &SessionCreateRequest{
		Username: "demo",
		Password: "nope",
	}, &resp)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated for bad password, got %v", err)
	}
}

func TestRoleEscalationDenied(t *testing.T) {
	conn := newTestConn(t)

	var resp SessionCreateResponse
	err := invoke(t, conn, context.Background(), "/puppeteer.v1.SessionService/Create", &SessionCreateRequest{
		Username: "mallory",
		Password: "demo123!",
		Roles:    []string{"admin"},
	}, &resp)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}

	// The API key principal is an admin and may mint elevated sessions.
	if err := invoke(t, conn, withAPIKey(), "/puppeteer.v1.SessionService/Create", &SessionCreateRequest{
		Username: "operator",
		Password: "demo123!",
		Roles:    []string{"admin"},
	}, &resp); err != nil {
		t.Fatalf("admin create: %v", err)
	}
}
