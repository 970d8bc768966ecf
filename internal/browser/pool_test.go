package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/driver"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

func testPoolConfig() *config.Config {
	return &config.Config{
		PoolMinSize:             1,
		PoolMaxSize:             2,
		PoolAcquireWait:         2 * time.Second,
		HealthCheckInterval:     time.Hour, // loops idle unless a test triggers a pass
		ScalingInterval:         time.Hour,
		ScalingSamples:          3,
		ScaleUpThreshold:        0.8,
		ScaleDownThreshold:      0.2,
		MaxMemoryMB:             2048,
		MaxPagesPerBrowser:      20,
		RecycleStrategy:         "hybrid",
		MaxBrowserLifetime:      time.Hour,
		MaxBrowserIdleTime:      time.Hour,
		MaxBrowserUses:          100,
		RecycleHealthFloor:      0.5,
		BreakerFailureThreshold: 3,
		BreakerRollingWindow:    time.Minute,
		BreakerOpenDuration:     time.Minute,
	}
}

func newTestPool(t *testing.T, cfg *config.Config, drv driver.Driver) *Pool {
	t.Helper()
	p, err := NewPool(context.Background(), cfg, drv, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx, true)
	})
	return p
}

func TestPoolAcquireRelease(t *testing.T) {
	drv := driver.NewFakeDriver()
	p := newTestPool(t, testPoolConfig(), drv)

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lease.Instance.ID == "" {
		t.Fatal("expected instance ID")
	}

	m := p.Metrics()
	if m.Active != 1 {
		t.Fatalf("expected 1 active, got %+v", m)
	}

	lease.Release()
	m = p.Metrics()
	if m.Active != 0 || m.Idle != 1 {
		t.Fatalf("expected instance back to idle, got %+v", m)
	}

	// Double release is a no-op.
	lease.Release()
	if got := p.Metrics().Idle; got != 1 {
		t.Fatalf("double release corrupted pool: idle=%d", got)
	}
}

func TestPoolLaunchesUpToMax(t *testing.T) {
	drv := driver.NewFakeDriver()
	p := newTestPool(t, testPoolConfig(), drv)

	l1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	l2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}
	if l1.Instance.ID == l2.Instance.ID {
		t.Fatal("two leases share one instance")
	}
	if size := p.Metrics().Size; size != 2 {
		t.Fatalf("expected pool size 2, got %d", size)
	}
	l1.Release()
	l2.Release()
}

func TestPoolAcquireTimeout(t *testing.T) {
	cfg := testPoolConfig()
	cfg.PoolMaxSize = 1
	cfg.PoolAcquireWait = 200 * time.Millisecond
	drv := driver.NewFakeDriver()
	p := newTestPool(t, cfg, drv)

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lease.Release()

	_, err = p.Acquire(context.Background())
	if !errors.Is(err, types.ErrPoolTimeout) {
		t.Fatalf("expected ErrPoolTimeout, got %v", err)
	}
}

func TestPoolWaiterServedFIFO(t *testing.T) {
	cfg := testPoolConfig()
	cfg.PoolMaxSize = 1
	drv := driver.NewFakeDriver()
	p := newTestPool(t, cfg, drv)

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	got := make(chan int, 2)
	acquire := func(n int) {
		l, err := p.Acquire(context.Background())
		if err != nil {
			t.Errorf("waiter %d: %v", n, err)
			return
		}
		got <- n
		l.Release()
	}

	go acquire(1)
	time.Sleep(50 * time.Millisecond) // waiter 1 queues first
	go acquire(2)
	time.Sleep(50 * time.Millisecond)

	lease.Release()

	first := <-got
	second := <-got
	if first != 1 || second != 2 {
		t.Fatalf("expected FIFO order 1,2 got %d,%d", first, second)
	}
}

func TestPoolAcquireCanceled(t *testing.T) {
	cfg := testPoolConfig()
	cfg.PoolMaxSize = 1
	drv := driver.NewFakeDriver()
	p := newTestPool(t, cfg, drv)

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lease.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err = p.Acquire(ctx)
	if !errors.Is(err, types.ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
}

func TestPoolShutdownRejectsAcquire(t *testing.T) {
	drv := driver.NewFakeDriver()
	cfg := testPoolConfig()
	p, err := NewPool(context.Background(), cfg, drv, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx, true); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	_, err = p.Acquire(context.Background())
	if !errors.Is(err, types.ErrPoolShuttingDown) {
		t.Fatalf("expected ErrPoolShuttingDown, got %v", err)
	}

	for _, b := range drv.Browsers() {
		if !b.Closed() {
			t.Fatal("shutdown left a browser running")
		}
	}
}

func TestPoolLaunchBreakerOpens(t *testing.T) {
	cfg := testPoolConfig()
	cfg.PoolMinSize = 0
	cfg.PoolMaxSize = 1
	cfg.PoolAcquireWait = 100 * time.Millisecond
	cfg.BreakerFailureThreshold = 2

	drv := driver.NewFakeDriver()
	drv.LaunchErr = types.Errorf(types.ErrBrowserLaunch, "no chrome")
	p := newTestPool(t, cfg, drv)

	// Each acquire attempt triggers a failed launch until the breaker
	// opens and stops the attempts entirely.
	for i := 0; i < 3; i++ {
		if _, err := p.Acquire(context.Background()); err == nil {
			t.Fatalf("attempt %d: expected failure", i)
		}
	}

	launchesBefore := drv.Launched()
	_, err := p.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected failure with open breaker")
	}
	if drv.Launched() != launchesBefore {
		t.Fatalf("breaker open but driver was invoked %d more times", drv.Launched()-launchesBefore)
	}
}

func TestPoolUsageRecycleOnRelease(t *testing.T) {
	cfg := testPoolConfig()
	cfg.RecycleStrategy = "usage"
	cfg.MaxBrowserUses = 1
	cfg.PoolMaxSize = 1

	drv := driver.NewFakeDriver()
	p := newTestPool(t, cfg, drv)

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	firstID := lease.Instance.ID
	lease.Release()

	// The replacement launch is async; poll for the swap.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		infos := p.Instances()
		if len(infos) == 1 && infos[0].ID != firstID {
			if p.Metrics().TotalRecycled != 1 {
				t.Fatalf("expected recycle count 1, got %d", p.Metrics().TotalRecycled)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("worn-out instance was not replaced")
}

func TestPoolHealthPassRecyclesDeadBrowser(t *testing.T) {
	cfg := testPoolConfig()
	drv := driver.NewFakeDriver()
	p := newTestPool(t, cfg, drv)

	// Instance exists from min-size launch; kill its connection.
	b := drv.Browsers()[0]
	b.HealthErr.Store(error(types.Errorf(types.ErrBrowserCrashed, "gone")))

	p.runHealthPass()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Metrics().TotalRecycled >= 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("dead browser was not recycled")
}

func TestPoolSubscribeReceivesEvents(t *testing.T) {
	cfg := testPoolConfig()
	cfg.PoolMinSize = 0
	drv := driver.NewFakeDriver()
	p := newTestPool(t, cfg, drv)

	events, cancel := p.Subscribe()
	defer cancel()

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lease.Release()

	select {
	case ev := <-events:
		if ev.Type != EventLaunched {
			t.Fatalf("expected %s event, got %s", EventLaunched, ev.Type)
		}
		if ev.InstanceID != lease.Instance.ID {
			t.Fatalf("event for wrong instance: %s", ev.InstanceID)
		}
	case <-time.After(time.Second):
		t.Fatal("no launch event received")
	}
}

func TestPoolScaleDownRecyclesInstance(t *testing.T) {
	cfg := testPoolConfig()
	cfg.ScalingSamples = 1
	cfg.ScaleDownThreshold = 0.5
	drv := driver.NewFakeDriver()
	p := newTestPool(t, cfg, drv)

	// Grow to two instances, then idle both so demand reads zero.
	l1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	l2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}
	l1.Release()
	l2.Release()

	events, cancel := p.Subscribe()
	defer cancel()

	p.scalingPass()

	if size := p.Metrics().Size; size != 1 {
		t.Fatalf("expected pool size 1 after scale-down, got %d", size)
	}

	// Subscribers must see browser_recycled with the instance id so page
	// registries can evict the tabs that died with the browser.
	var sawScaleDown bool
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case EventScaleDown:
				sawScaleDown = true
				if ev.InstanceID == "" {
					t.Fatal("scale-down event carries no instance id")
				}
			case EventRecycled:
				if ev.InstanceID == "" {
					t.Fatal("recycle event carries no instance id")
				}
				if !sawScaleDown {
					t.Fatal("recycle event arrived before scale-down event")
				}
				return
			}
		case <-deadline:
			t.Fatal("no browser_recycled event after scale-down")
		}
	}
}

func TestHealthScoreWeights(t *testing.T) {
	full := healthScore(HealthResult{ConnectionHealthy: true, Responsive: true, MemoryHealthy: true, PageCountHealthy: true})
	if full != 1 {
		t.Fatalf("expected perfect score 1, got %f", full)
	}
	dead := healthScore(HealthResult{MemoryHealthy: true, PageCountHealthy: true})
	if dead >= 0.5 {
		t.Fatalf("disconnected browser scored too high: %f", dead)
	}
}

func TestHybridScoreCondemnsWornInstance(t *testing.T) {
	cfg := testPoolConfig()
	drv := driver.NewFakeDriver()
	p := newTestPool(t, cfg, drv)

	inst := &Instance{
		createdAt:  time.Now().Add(-2 * time.Hour), // past lifetime
		lastUsedAt: time.Now(),
		useCount:   100, // at use limit
	}
	unhealthy := HealthResult{ConnectionHealthy: true} // score 0.35

	score := p.hybridScore(inst, unhealthy, time.Now())
	if score < hybridCutoff {
		t.Fatalf("expected hybrid score >= %f, got %f", hybridCutoff, score)
	}

	fresh := &Instance{createdAt: time.Now(), lastUsedAt: time.Now()}
	healthy := HealthResult{ConnectionHealthy: true, Responsive: true, MemoryHealthy: true, PageCountHealthy: true, Score: 1}
	if s := p.hybridScore(fresh, healthy, time.Now()); s >= hybridCutoff {
		t.Fatalf("fresh instance condemned: %f", s)
	}
}
