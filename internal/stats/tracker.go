// Package stats tracks per-domain navigation outcomes so operators can
// see which targets fail, block, or slow down, and how hard to back
// off before retrying them.
package stats

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// maxDomains bounds the tracked set; least recently seen domains
	// are evicted in batches once the cap is exceeded.
	maxDomains = 1000
	evictBatch = 100

	// staleAfter is how long an untouched entry survives.
	staleAfter = 24 * time.Hour

	minDelayMs = 0
	maxDelayMs = 120000
)

// DomainStats is a point-in-time snapshot for one domain.
type DomainStats struct {
	Domain           string    `json:"domain"`
	Requests         int64     `json:"requests"`
	Failures         int64     `json:"failures"`
	Blocks           int64     `json:"blocks"`
	ErrorRate        float64   `json:"errorRate"`
	AvgLatencyMs     int64     `json:"avgLatencyMs"`
	SuggestedDelayMs int       `json:"suggestedDelayMs"`
	LastBlockCode    string    `json:"lastBlockCode,omitempty"`
	LastSeen         time.Time `json:"lastSeen"`
}

type entry struct {
	requests      int64
	failures      int64
	blocks        int64
	latencyEMAMs  float64
	manualDelayMs int
	hasManual     bool
	lastBlockCode string
	lastBlockAt   time.Time
	lastSeen      time.Time
}

// Tracker aggregates outcomes keyed by domain. Safe for concurrent
// use.
type Tracker struct {
	mu      sync.Mutex
	domains map[string]*entry
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{domains: make(map[string]*entry)}
}

// Domain extracts the host from a URL, without the port. Returns ""
// for unparseable input.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Record notes one completed request against the domain.
func (t *Tracker) Record(domain string, latency time.Duration, success bool) {
	if domain == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.getOrCreateLocked(domain)
	e.requests++
	if !success {
		e.failures++
	}
	// Exponential moving average keeps the latency figure current
	// without retaining samples.
	ms := float64(latency.Milliseconds())
	if e.latencyEMAMs == 0 {
		e.latencyEMAMs = ms
	} else {
		e.latencyEMAMs = e.latencyEMAMs*0.8 + ms*0.2
	}
	e.lastSeen = time.Now()
}

// RecordBlock notes that the domain served a block page.
func (t *Tracker) RecordBlock(domain, code string) {
	if domain == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.getOrCreateLocked(domain)
	e.blocks++
	e.lastBlockCode = code
	e.lastBlockAt = time.Now()
	e.lastSeen = time.Now()
}

// SetManualDelay pins the suggested delay for a domain, overriding the
// computed value. ClearManualDelay removes the pin.
func (t *Tracker) SetManualDelay(domain string, delayMs int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.getOrCreateLocked(domain)
	e.manualDelayMs = clampDelay(delayMs)
	e.hasManual = true
}

// ClearManualDelay removes a manual delay override.
func (t *Tracker) ClearManualDelay(domain string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.domains[domain]; ok {
		e.hasManual = false
		e.manualDelayMs = 0
	}
}

// SuggestedDelayMs returns the backoff to apply before the next
// request to the domain. Zero means no tracked pressure.
func (t *Tracker) SuggestedDelayMs(domain string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.domains[domain]
	if !ok {
		return 0
	}
	return e.suggestedDelayMs()
}

// Stats returns the snapshot for one domain. ok is false when the
// domain is not tracked.
func (t *Tracker) Stats(domain string) (DomainStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.domains[domain]
	if !ok {
		return DomainStats{}, false
	}
	return e.snapshot(domain), true
}

// Snapshot returns every tracked domain, sorted by request volume
// descending.
func (t *Tracker) Snapshot() []DomainStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]DomainStats, 0, len(t.domains))
	for domain, e := range t.domains {
		out = append(out, e.snapshot(domain))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Requests != out[j].Requests {
			return out[i].Requests > out[j].Requests
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}

// Reset discards tracked state for one domain.
func (t *Tracker) Reset(domain string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.domains, domain)
}

// ResetAll discards every tracked domain.
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.domains = make(map[string]*entry)
}

// Len returns the number of tracked domains.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.domains)
}

func (t *Tracker) getOrCreateLocked(domain string) *entry {
	if e, ok := t.domains[domain]; ok {
		return e
	}
	if len(t.domains) >= maxDomains {
		t.evictLocked()
	}
	e := &entry{lastSeen: time.Now()}
	t.domains[domain] = e
	return e
}

// evictLocked drops stale entries first, then the least recently seen
// until a batch worth of room exists.
func (t *Tracker) evictLocked() {
	cutoff := time.Now().Add(-staleAfter)
	for domain, e := range t.domains {
		if e.lastSeen.Before(cutoff) {
			delete(t.domains, domain)
		}
	}
	if len(t.domains) < maxDomains {
		return
	}

	type aged struct {
		domain string
		seen   time.Time
	}
	order := make([]aged, 0, len(t.domains))
	for domain, e := range t.domains {
		order = append(order, aged{domain, e.lastSeen})
	}
	sort.Slice(order, func(i, j int) bool { return order[i].seen.Before(order[j].seen) })
	for i := 0; i < evictBatch && i < len(order); i++ {
		delete(t.domains, order[i].domain)
	}
}

func (e *entry) errorRate() float64 {
	if e.requests == 0 {
		return 0
	}
	return float64(e.failures) / float64(e.requests)
}

// suggestedDelayMs scales backoff with the error rate and applies a
// floor while a recent block is in effect.
func (e *entry) suggestedDelayMs() int {
	if e.hasManual {
		return e.manualDelayMs
	}

	delay := int(e.errorRate() * 30000)
	if time.Since(e.lastBlockAt) < 5*time.Minute && delay < 30000 {
		delay = 30000
	}
	return clampDelay(delay)
}

func (e *entry) snapshot(domain string) DomainStats {
	return DomainStats{
		Domain:           domain,
		Requests:         e.requests,
		Failures:         e.failures,
		Blocks:           e.blocks,
		ErrorRate:        e.errorRate(),
		AvgLatencyMs:     int64(e.latencyEMAMs),
		SuggestedDelayMs: e.suggestedDelayMs(),
		LastBlockCode:    e.lastBlockCode,
		LastSeen:         e.lastSeen,
	}
}

func clampDelay(ms int) int {
	if ms < minDelayMs {
		return minDelayMs
	}
	if ms > maxDelayMs {
		return maxDelayMs
	}
	return ms
}
