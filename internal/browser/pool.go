// Package browser manages the pool of browser instances: acquisition
// with a FIFO waiter queue, health monitoring, recycling strategies,
// adaptive scaling, and lifecycle events.
package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/audit"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/circuit"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/driver"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/metrics"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// Lease is an exclusive hold on a browser instance. Callers must call
// Release exactly once; a second Release is a no-op.
type Lease struct {
	Instance *Instance

	pool     *Pool
	released atomic.Bool
}

// Release returns the instance to the pool.
func (l *Lease) Release() {
	if l.released.Swap(true) {
		return
	}
	l.pool.release(l.Instance)
}

type waiter struct {
	ch      chan *Lease
	removed bool
}

// Pool owns every browser instance. Waiters are served strictly FIFO.
type Pool struct {
	cfg  *config.Config
	drv  driver.Driver
	sink audit.Sink

	mu        sync.Mutex
	instances map[string]*Instance
	idle      []string // instance IDs, oldest first
	waiters   []*waiter
	launching int
	shutdown  bool

	launchBreaker *circuit.Breaker
	lastRecycleAt time.Time

	subMu sync.Mutex
	subs  map[int]chan Event
	subID int

	acquired  atomic.Int64
	recycled  atomic.Int64
	launchErr atomic.Int64

	demandSamples []float64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PoolMetrics is a point-in-time pool snapshot.
type PoolMetrics struct {
	Size           int    `json:"size"`
	Idle           int    `json:"idle"`
	Active         int    `json:"active"`
	Launching      int    `json:"launching"`
	QueueDepth     int    `json:"queueDepth"`
	TotalAcquired  int64  `json:"totalAcquired"`
	TotalRecycled  int64  `json:"totalRecycled"`
	LaunchFailures int64  `json:"launchFailures"`
	BreakerState   string `json:"breakerState"`
}

// NewPool creates the pool and pre-launches the minimum instances. The
// pool is usable even if some initial launches fail; the health loop
// keeps working toward the minimum.
func NewPool(ctx context.Context, cfg *config.Config, drv driver.Driver, sink audit.Sink) (*Pool, error) {
	if sink == nil {
		sink = audit.NopSink{}
	}
	p := &Pool{
		cfg:       cfg,
		drv:       drv,
		sink:      sink,
		instances: make(map[string]*Instance),
		subs:      make(map[int]chan Event),
		stopCh:    make(chan struct{}),
		launchBreaker: circuit.New("browser_launch", circuit.Options{
			FailureThreshold: cfg.BreakerFailureThreshold,
			Window:           cfg.BreakerRollingWindow,
			OpenDuration:     cfg.BreakerOpenDuration,
		}),
	}

	for i := 0; i < cfg.PoolMinSize; i++ {
		if _, err := p.launch(ctx); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("Initial browser launch failed")
		}
	}
	if len(p.instances) == 0 && cfg.PoolMinSize > 0 {
		log.Warn().Msg("Pool started with no browsers, launches will be retried on demand")
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.healthLoop()
	}()
	go func() {
		defer p.wg.Done()
		p.scalingLoop()
	}()

	log.Info().
		Int("min_size", cfg.PoolMinSize).
		Int("max_size", cfg.PoolMaxSize).
		Int("launched", len(p.instances)).
		Str("recycle_strategy", cfg.RecycleStrategy).
		Msg("Browser pool initialized")
	return p, nil
}

// Acquire leases an idle browser, launching one when under capacity.
// Blocks until a browser frees up, the acquire timeout elapses, or the
// context is canceled.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if wait := p.cfg.PoolAcquireWait; wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, types.ErrPoolShuttingDown
	}

	if inst := p.takeIdleLocked(); inst != nil {
		lease := p.activateLocked(inst)
		p.mu.Unlock()
		return lease, nil
	}

	if p.capacityLeftLocked() {
		p.launching++
		go p.launchForWaiters()
	}

	w := &waiter{ch: make(chan *Lease, 1)}
	p.waiters = append(p.waiters, w)
	metrics.PoolQueueDepth.Set(float64(len(p.waiters)))
	p.mu.Unlock()

	select {
	case lease := <-w.ch:
		return lease, nil
	case <-p.stopCh:
		p.dropWaiter(w)
		return nil, types.ErrPoolShuttingDown
	case <-ctx.Done():
		p.dropWaiter(w)
		// The lease may have been delivered while we were timing out.
		select {
		case lease := <-w.ch:
			lease.Release()
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.Errorf(types.ErrPoolTimeout, "no browser available within %s", p.cfg.PoolAcquireWait)
		}
		return nil, types.Errorf(types.ErrCanceled, "acquire: %v", ctx.Err())
	}
}

func (p *Pool) dropWaiter(w *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	w.removed = true
	metrics.PoolQueueDepth.Set(float64(len(p.waiters)))
}

// takeIdleLocked pops the oldest idle instance, skipping stale entries.
func (p *Pool) takeIdleLocked() *Instance {
	for len(p.idle) > 0 {
		id := p.idle[0]
		p.idle = p.idle[1:]
		inst, ok := p.instances[id]
		if ok && inst.state == StateIdle {
			return inst
		}
	}
	return nil
}

func (p *Pool) activateLocked(inst *Instance) *Lease {
	inst.state = StateActive
	inst.lastUsedAt = time.Now()
	inst.useCount++
	p.acquired.Add(1)
	metrics.PoolAcquired.Inc()
	p.publishGaugesLocked()
	return &Lease{Instance: inst, pool: p}
}

func (p *Pool) capacityLeftLocked() bool {
	return len(p.instances)+p.launching < p.cfg.PoolMaxSize
}

// launchForWaiters launches one browser to serve the queue. The
// launching slot was reserved by the caller.
func (p *Pool) launchForWaiters() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	_, err := p.launch(ctx)

	p.mu.Lock()
	p.launching--
	p.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Msg("On-demand browser launch failed")
	}
}

// launch starts one browser behind the circuit breaker and registers it,
// serving the first waiter if any.
func (p *Pool) launch(ctx context.Context) (*Instance, error) {
	var b driver.Browser
	err := p.launchBreaker.Do(func() error {
		var launchErr error
		b, launchErr = p.drv.Launch(ctx)
		return launchErr
	})
	if err != nil {
		if !errors.Is(err, types.ErrCircuitOpen) {
			p.launchErr.Add(1)
			metrics.PoolLaunchFailures.Inc()
		}
		return nil, err
	}

	inst := &Instance{
		ID:         uuid.NewString(),
		Browser:    b,
		state:      StateStarting,
		createdAt:  time.Now(),
		lastUsedAt: time.Now(),
		health:     HealthResult{ConnectionHealthy: true, Responsive: true, MemoryHealthy: true, PageCountHealthy: true, Score: 1, CheckedAt: time.Now()},
	}

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		_ = b.Close()
		return nil, types.ErrPoolShuttingDown
	}
	p.instances[inst.ID] = inst
	inst.state = StateIdle
	p.serveOrParkLocked(inst)
	p.publishGaugesLocked()
	p.mu.Unlock()

	p.emit(Event{Type: EventLaunched, InstanceID: inst.ID})
	log.Debug().Str("instance_id", inst.ID).Msg("Browser instance added to pool")
	return inst, nil
}

// serveOrParkLocked hands an idle instance to the first waiter or parks
// it in the idle queue.
func (p *Pool) serveOrParkLocked(inst *Instance) {
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		metrics.PoolQueueDepth.Set(float64(len(p.waiters)))
		if w.removed {
			continue
		}
		lease := p.activateLocked(inst)
		w.ch <- lease
		return
	}
	p.idle = append(p.idle, inst.ID)
}

// release is called by Lease.Release.
func (p *Pool) release(inst *Instance) {
	p.mu.Lock()
	if p.shutdown || inst.state == StateRecycling || inst.state == StateClosed {
		p.mu.Unlock()
		return
	}
	inst.state = StateIdle
	inst.lastUsedAt = time.Now()

	// Usage-based recycling triggers on release so a worn-out instance
	// never serves another lease.
	if reason, due := p.usageRecycleDueLocked(inst); due {
		inst.state = StateRecycling
		p.publishGaugesLocked()
		p.mu.Unlock()
		go p.recycle(inst, reason)
		return
	}

	p.serveOrParkLocked(inst)
	p.publishGaugesLocked()
	p.mu.Unlock()
}

func (p *Pool) usageRecycleDueLocked(inst *Instance) (string, bool) {
	strategy := p.cfg.RecycleStrategy
	if strategy != "usage" && strategy != "hybrid" {
		return "", false
	}
	if p.cfg.MaxBrowserUses > 0 && inst.useCount >= p.cfg.MaxBrowserUses {
		return "use_count", true
	}
	return "", false
}

// recycle closes a browser and launches a replacement when the pool is
// below minimum or waiters are queued.
func (p *Pool) recycle(inst *Instance, reason string) {
	p.mu.Lock()
	if inst.state == StateClosed {
		p.mu.Unlock()
		return
	}
	inst.state = StateRecycling
	p.lastRecycleAt = time.Now()
	p.mu.Unlock()

	log.Info().Str("instance_id", inst.ID).Str("reason", reason).Msg("Recycling browser instance")
	p.closeInstance(inst)

	p.recycled.Add(1)
	metrics.PoolRecycled.WithLabelValues(reason).Inc()
	p.emit(Event{Type: EventRecycled, InstanceID: inst.ID, Details: map[string]any{"reason": reason}})
	p.sink.Emit(audit.Event{
		Type:      audit.BrowserRecycled,
		Timestamp: time.Now().UTC(),
		Resource:  inst.ID,
		Outcome:   reason,
	})

	p.mu.Lock()
	needReplacement := !p.shutdown && (len(p.instances) < p.cfg.PoolMinSize || len(p.waiters) > 0) && p.capacityLeftLocked()
	p.mu.Unlock()
	if needReplacement {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if _, err := p.launch(ctx); err != nil {
			log.Warn().Err(err).Msg("Replacement browser launch failed")
		}
	}
}

// closeInstance removes the instance from the registry and closes the
// underlying browser.
func (p *Pool) closeInstance(inst *Instance) {
	p.mu.Lock()
	delete(p.instances, inst.ID)
	inst.state = StateClosed
	p.publishGaugesLocked()
	p.mu.Unlock()

	if err := inst.Browser.Close(); err != nil {
		log.Warn().Err(err).Str("instance_id", inst.ID).Msg("Error closing browser")
	}
}

func (p *Pool) publishGaugesLocked() {
	idle := 0
	for _, inst := range p.instances {
		if inst.state == StateIdle {
			idle++
		}
	}
	metrics.PoolSize.Set(float64(len(p.instances)))
	metrics.PoolIdle.Set(float64(idle))
}

// Metrics returns a pool snapshot.
func (p *Pool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := PoolMetrics{
		Size:           len(p.instances),
		Launching:      p.launching,
		QueueDepth:     len(p.waiters),
		TotalAcquired:  p.acquired.Load(),
		TotalRecycled:  p.recycled.Load(),
		LaunchFailures: p.launchErr.Load(),
		BreakerState:   p.launchBreaker.State().String(),
	}
	for _, inst := range p.instances {
		switch inst.state {
		case StateIdle:
			m.Idle++
		case StateActive:
			m.Active++
		}
	}
	return m
}

// Instances returns snapshots of every instance.
func (p *Pool) Instances() []InstanceInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]InstanceInfo, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, inst.snapshot())
	}
	return out
}

// Healthy reports whether the pool can serve requests.
func (p *Pool) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.shutdown && (len(p.instances) > 0 || p.capacityLeftLocked())
}

// Shutdown stops the pool. With force=false it waits for active leases
// to be released until the context deadline; force=true closes browsers
// immediately.
func (p *Pool) Shutdown(ctx context.Context, force bool) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil
	}
	p.shutdown = true
	for _, w := range p.waiters {
		w.removed = true
	}
	p.waiters = nil
	metrics.PoolQueueDepth.Set(0)
	p.mu.Unlock()

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	if !force {
		p.waitForIdle(ctx)
	}

	p.mu.Lock()
	toClose := make([]*Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		toClose = append(toClose, inst)
	}
	p.mu.Unlock()

	// Close all browsers in parallel, bounded by the context.
	g, _ := errgroup.WithContext(ctx)
	for _, inst := range toClose {
		inst := inst
		g.Go(func() error {
			p.closeInstance(inst)
			return nil
		})
	}
	err := g.Wait()

	p.subMu.Lock()
	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
	p.subMu.Unlock()

	log.Info().Int("closed", len(toClose)).Msg("Browser pool shut down")
	return err
}

// waitForIdle blocks until no instance is active or ctx expires.
func (p *Pool) waitForIdle(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		p.mu.Lock()
		active := 0
		for _, inst := range p.instances {
			if inst.state == StateActive {
				active++
			}
		}
		p.mu.Unlock()
		if active == 0 {
			return
		}

		select {
		case <-ctx.Done():
			log.Warn().Int("active", active).Msg("Shutdown timeout with leases still active")
			return
		case <-ticker.C:
		}
	}
}
