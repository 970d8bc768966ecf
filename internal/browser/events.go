package browser

import "time"

// EventType names pool lifecycle events.
type EventType string

// Pool events.
const (
	EventLaunched  EventType = "browser_launched"
	EventRecycled  EventType = "browser_recycled"
	EventUnhealthy EventType = "browser_unhealthy"
	EventScaledUp  EventType = "pool_scaled_up"
	EventScaleDown EventType = "pool_scaled_down"
)

// Event is a pool lifecycle notification.
type Event struct {
	Type       EventType      `json:"type"`
	InstanceID string         `json:"instanceId,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
}

// Subscribe registers a listener. The returned cancel function must be
// called to release the subscription. Slow listeners miss events rather
// than blocking the pool.
func (p *Pool) Subscribe() (<-chan Event, func()) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	id := p.subID
	p.subID++
	ch := make(chan Event, 16)
	p.subs[id] = ch

	return ch, func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
}

func (p *Pool) emit(ev Event) {
	ev.Timestamp = time.Now().UTC()

	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
