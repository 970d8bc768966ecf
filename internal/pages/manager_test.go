package pages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/audit"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/browser"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/driver"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

func testConfig() *config.Config {
	return &config.Config{
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
		BreakerFailureThreshold: 5,
		BreakerRollingWindow:    time.Minute,
		BreakerOpenDuration:     time.Minute,
		PageIdleTimeout:         time.Hour,
	}
}

func newTestManager(t *testing.T) (*Manager, *audit.MemorySink) {
	t.Helper()
	cfg := testConfig()
	pool, err := browser.NewPool(context.Background(), cfg, driver.NewFakeDriver(), nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	sink := &audit.MemorySink{}
	m := NewManager(cfg, pool, sink)
	t.Cleanup(func() {
		m.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx, true)
	})
	return m, sink
}

func owner() types.Principal {
	return types.Principal{UserID: "u1", Roles: []string{types.RoleUser}, SessionID: "sess-1"}
}

func stranger() types.Principal {
	return types.Principal{UserID: "u2", Roles: []string{types.RoleUser}, SessionID: "sess-2"}
}

func admin() types.Principal {
	return types.Principal{UserID: "root", Roles: []string{types.RoleAdmin}, SessionID: "sess-admin"}
}

func TestCreateAndListPages(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	info, err := m.CreatePage(ctx, owner(), PageOptions{})
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if info.ID == "" || info.BrowserID == "" {
		t.Fatalf("incomplete page info: %+v", info)
	}
	if info.SessionID != "sess-1" || info.State != "active" {
		t.Fatalf("unexpected info: %+v", info)
	}

	if got := len(m.List(owner())); got != 1 {
		t.Fatalf("owner should see 1 page, saw %d", got)
	}
	if got := len(m.List(stranger())); got != 0 {
		t.Fatalf("stranger should see 0 pages, saw %d", got)
	}
	if got := len(m.List(admin())); got != 1 {
		t.Fatalf("admin should see all pages, saw %d", got)
	}
}

func TestPageOwnershipEnforced(t *testing.T) {
	m, sink := newTestManager(t)
	ctx := context.Background()

	info, err := m.CreatePage(ctx, owner(), PageOptions{})
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}

	if _, err := m.Page(stranger(), info.ID); !errors.Is(err, types.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got %v", err)
	}
	if err := m.ClosePage(ctx, stranger(), info.ID); !errors.Is(err, types.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger close, got %v", err)
	}
	if len(sink.ByType(audit.AccessDenied)) != 2 {
		t.Fatalf("expected 2 ACCESS_DENIED events, got %d", len(sink.ByType(audit.AccessDenied)))
	}

	// Admin bypasses ownership.
	if _, err := m.Page(admin(), info.ID); err != nil {
		t.Fatalf("admin access failed: %v", err)
	}
}

func TestPageNotFound(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Page(owner(), "nope")
	if !errors.Is(err, types.ErrPageNotFound) {
		t.Fatalf("expected ErrPageNotFound, got %v", err)
	}
}

func TestCreatePageWithOptions(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	info, err := m.CreatePage(ctx, owner(), PageOptions{
		ViewportWidth:  99999, // clamped
		ViewportHeight: 720,
		Cookies: []types.Cookie{
			{Name: "good", Value: "1"},
			{Name: "", Value: "dropped"},
		},
		URL: "https://example.com",
	})
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if info.URL != "https://example.com" {
		t.Fatalf("unexpected url %q", info.URL)
	}

	page, err := m.Page(owner(), info.ID)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	fp := page.(*driver.FakePage)
	w, _, set := fp.Viewport()
	if !set || w != maxViewport {
		t.Fatalf("expected clamped viewport %d, got %d (set=%v)", maxViewport, w, set)
	}
}

func TestClosePage(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	info, _ := m.CreatePage(ctx, owner(), PageOptions{})
	page, _ := m.Page(owner(), info.ID)

	if err := m.ClosePage(ctx, owner(), info.ID); err != nil {
		t.Fatalf("ClosePage: %v", err)
	}
	if !page.(*driver.FakePage).IsClosed() {
		t.Fatal("underlying tab not closed")
	}
	if _, err := m.Page(owner(), info.ID); !errors.Is(err, types.ErrPageNotFound) {
		t.Fatalf("expected ErrPageNotFound after close, got %v", err)
	}
}

func TestClosePagesForSession(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, _ = m.CreatePage(ctx, owner(), PageOptions{})
	_, _ = m.CreatePage(ctx, owner(), PageOptions{})
	_, _ = m.CreatePage(ctx, stranger(), PageOptions{})

	if n := m.ClosePagesForSession("sess-1"); n != 2 {
		t.Fatalf("expected 2 pages closed, got %d", n)
	}
	if got := len(m.List(admin())); got != 1 {
		t.Fatalf("expected 1 page left, got %d", got)
	}
}

func TestContextLifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	bctx := m.CreateContext(owner(), "crawl")
	if bctx.ID == "" || bctx.SessionID != "sess-1" {
		t.Fatalf("unexpected context: %+v", bctx)
	}

	info, err := m.CreatePage(ctx, owner(), PageOptions{ContextID: bctx.ID})
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}

	got, err := m.GetContext(owner(), bctx.ID)
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if len(got.PageIDs) != 1 || got.PageIDs[0] != info.ID {
		t.Fatalf("context missing page: %+v", got)
	}

	pageID, err := m.ContextPage(owner(), bctx.ID)
	if err != nil || pageID != info.ID {
		t.Fatalf("ContextPage: %s, %v", pageID, err)
	}

	if _, err := m.GetContext(stranger(), bctx.ID); !errors.Is(err, types.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	if err := m.DeleteContext(owner(), bctx.ID); err != nil {
		t.Fatalf("DeleteContext: %v", err)
	}
	if got := len(m.List(owner())); got != 0 {
		t.Fatalf("context pages should be closed, %d remain", got)
	}
	if _, err := m.GetContext(owner(), bctx.ID); err == nil {
		t.Fatal("expected missing context after delete")
	}
}

func TestCreatePageInForeignContext(t *testing.T) {
	m, _ := newTestManager(t)

	bctx := m.CreateContext(owner(), "mine")
	_, err := m.CreatePage(context.Background(), stranger(), PageOptions{ContextID: bctx.ID})
	if !errors.Is(err, types.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestIdleSweep(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	info, _ := m.CreatePage(ctx, owner(), PageOptions{})

	m.mu.Lock()
	m.pages[info.ID].info.LastActivityAt = time.Now().Add(-2 * time.Hour)
	m.mu.Unlock()

	m.sweepIdle()

	if _, err := m.Page(owner(), info.ID); !errors.Is(err, types.ErrPageNotFound) {
		t.Fatalf("expected idle page swept, got %v", err)
	}
}
