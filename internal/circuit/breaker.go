// Package circuit implements a keyed circuit breaker used to shed load
// from failing browser launches and repeatedly failing page operations.
package circuit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/metrics"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// State of a breaker.
type State int

// Breaker states.
const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Options configure a breaker.
type Options struct {
	// FailureThreshold opens the breaker once this many failures land
	// inside the rolling window.
	FailureThreshold int
	// Window is the rolling window failures are counted over.
	Window time.Duration
	// OpenDuration is how long the breaker stays open before allowing a
	// single half-open probe.
	OpenDuration time.Duration
}

// DefaultOptions matches the pool launch breaker defaults.
func DefaultOptions() Options {
	return Options{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		OpenDuration:     30 * time.Second,
	}
}

func (o Options) normalized() Options {
	if o.FailureThreshold < 1 {
		o.FailureThreshold = 1
	}
	if o.Window <= 0 {
		o.Window = 60 * time.Second
	}
	if o.OpenDuration <= 0 {
		o.OpenDuration = 30 * time.Second
	}
	return o
}

// Breaker is a single circuit breaker. Closed admits all calls; Open
// rejects them; HalfOpen admits exactly one probe whose outcome decides
// the next state.
type Breaker struct {
	key  string
	opts Options

	mu       sync.Mutex
	state    State
	failures []time.Time
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// New creates a breaker identified by key for metrics and logs.
func New(key string, opts Options) *Breaker {
	b := &Breaker{
		key:  key,
		opts: opts.normalized(),
		now:  time.Now,
	}
	metrics.CircuitState.WithLabelValues(key).Set(0)
	return b
}

// Allow reports whether a call may proceed. When the open duration has
// elapsed it transitions to half-open and admits a single probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) >= b.opts.OpenDuration {
			b.transition(HalfOpen)
			b.probing = true
			return true
		}
		return false
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Do runs fn under the breaker. A rejected call returns ErrCircuitOpen
// without invoking fn.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return types.Errorf(types.ErrCircuitOpen, "circuit %s is open", b.key)
	}
	err := fn()
	b.Record(err == nil)
	return err
}

// Record reports the outcome of an admitted call.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.probing = false
		if success {
			b.failures = b.failures[:0]
			b.transition(Closed)
		} else {
			b.openedAt = b.now()
			b.transition(Open)
		}
		return
	}

	if success {
		return
	}

	now := b.now()
	b.failures = append(b.failures, now)
	b.prune(now)
	if b.state == Closed && len(b.failures) >= b.opts.FailureThreshold {
		b.openedAt = now
		b.transition(Open)
	}
}

// State returns the current state, applying the open-to-half-open
// timeout so callers observing the state see the same answer Allow
// would give.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.opts.OpenDuration {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears the failure window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = b.failures[:0]
	b.probing = false
	b.transition(Closed)
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.opts.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// transition must be called with mu held.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	metrics.CircuitState.WithLabelValues(b.key).Set(float64(next))
	log.Info().
		Str("breaker", b.key).
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("Circuit breaker state change")
}

// Registry manages breakers keyed by string, creating them on demand
// with shared options. Used for the per-operation executor breakers.
type Registry struct {
	opts Options

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers all share opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:     opts.normalized(),
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it if needed.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = New(key, r.opts)
		r.breakers[key] = b
	}
	return b
}

// Remove drops the breaker for key, typically when its page closes.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, key)
	metrics.CircuitState.DeleteLabelValues(key)
}

// Len returns the number of tracked breakers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.breakers)
}
