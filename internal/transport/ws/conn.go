package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/transport"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

const (
	writeWait = 10 * time.Second

	// TopicPool streams browser pool lifecycle events.
	TopicPool = "pool"
)

type subscription struct {
	filters   map[string]string
	expiresAt time.Time // zero means no TTL
}

func (s *subscription) expired(now time.Time) bool {
	return !s.expiresAt.IsZero() && now.After(s.expiresAt)
}

type conn struct {
	h    *Handler
	sock *websocket.Conn
	send chan Envelope

	ctx    context.Context
	cancel context.CancelFunc

	// Set before the pumps start, then only read by the read loop.
	principal types.Principal
	authed    bool

	limiter *rate.Limiter

	mu   sync.Mutex
	subs map[string]*subscription

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(h *Handler, sock *websocket.Conn) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		h:      h,
		sock:   sock,
		send:   make(chan Envelope, 64),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*subscription),
		closed: make(chan struct{}),
	}
	if h.cfg.RateLimitEnabled && h.cfg.RateLimitRPM > 0 {
		rpm := h.cfg.RateLimitRPM
		c.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	}
	return c
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
		_ = c.sock.Close()
		c.h.remove(c)
	})
}

// enqueue queues an outbound frame, blocking until the writer drains
// or the connection closes.
func (c *conn) enqueue(env Envelope) {
	select {
	case c.send <- env:
	case <-c.closed:
	}
}

// deliver forwards a pool event if the connection subscribed to the
// pool topic and the event passes its filters. Slow consumers miss
// events rather than blocking the bridge.
func (c *conn) deliver(ev any) {
	c.mu.Lock()
	sub, ok := c.subs[TopicPool]
	if ok && sub.expired(time.Now()) {
		delete(c.subs, TopicPool)
		ok = false
	}
	matches := ok && filtersMatch(sub.filters, ev)
	c.mu.Unlock()
	if !matches {
		return
	}

	env := envelope(TypeEvent, "", ev)
	env.Topic = TopicPool
	select {
	case c.send <- env:
	default:
	}
}

// filtersMatch compares filter values against the event's JSON field
// values, so filters use the same names clients see on the wire.
func filtersMatch(filters map[string]string, ev any) bool {
	if len(filters) == 0 {
		return true
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	for k, want := range filters {
		got, ok := fields[k]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

func (c *conn) readDeadline() time.Time {
	return time.Now().Add(2 * c.h.cfg.WSHeartbeatInterval)
}

func (c *conn) readPump() {
	defer c.close()

	c.sock.SetReadLimit(c.h.cfg.WSMaxPayload)
	_ = c.sock.SetReadDeadline(c.readDeadline())
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(c.readDeadline())
	})

	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("WebSocket read failed")
			}
			return
		}
		_ = c.sock.SetReadDeadline(c.readDeadline())

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.enqueue(errorEnvelope("", types.Errorf(types.ErrBadArgument, "decoding envelope: %v", err)))
			continue
		}
		c.handle(env)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.h.cfg.WSHeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case env := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.sweepExpired()
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteJSON(envelope(TypePing, "", nil)); err != nil {
				return
			}
		case <-c.closed:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.sock.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *conn) sweepExpired() {
	now := time.Now()
	c.mu.Lock()
	for topic, sub := range c.subs {
		if sub.expired(now) {
			delete(c.subs, topic)
		}
	}
	c.mu.Unlock()
}

func (c *conn) handle(env Envelope) {
	switch env.Type {
	case TypeAuth:
		c.handleAuth(env)
	case TypePing:
		c.enqueue(envelope(TypePong, env.ID, nil))
	case TypePong:
		// Read deadline already extended.
	case TypeRequest:
		c.handleRequest(env)
	case TypeSubscribe:
		c.handleSubscribe(env)
	case TypeUnsubscribe:
		c.handleUnsubscribe(env)
	default:
		c.enqueue(errorEnvelope(env.ID, types.Errorf(types.ErrBadArgument, "unknown frame type %q", env.Type)))
	}
}

func (c *conn) requireAuth(env Envelope) bool {
	if c.authed {
		return true
	}
	c.enqueue(errorEnvelope(env.ID, types.ErrUnauthenticated))
	return false
}

func (c *conn) handleAuth(env Envelope) {
	creds, err := transport.DecodeData[authData](env.Data)
	if err != nil {
		c.enqueue(errorEnvelope(env.ID, err))
		return
	}
	principal, err := c.h.gate.Authenticate(c.ctx, authCredentials(creds))
	if err != nil {
		c.enqueue(errorEnvelope(env.ID, err))
		return
	}
	c.principal = principal
	c.authed = true
	c.enqueue(envelope(TypeResponse, env.ID, map[string]any{
		"authenticated": true,
		"userId":        principal.UserID,
		"roles":         principal.Roles,
	}))
}

func (c *conn) handleRequest(env Envelope) {
	if !c.authed && !transport.IsLogin(env.Method, env.Path) {
		c.enqueue(errorEnvelope(env.ID, types.ErrUnauthenticated))
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.enqueue(errorEnvelope(env.ID, types.ErrRateLimited))
		return
	}
	result, err := c.h.router.Dispatch(c.ctx, c.principal, env.Method, env.Path, env.Data)
	if err != nil {
		c.enqueue(errorEnvelope(env.ID, err))
		return
	}
	c.enqueue(envelope(TypeResponse, env.ID, result))
}

func (c *conn) handleSubscribe(env Envelope) {
	if !c.requireAuth(env) {
		return
	}
	if env.Topic != TopicPool {
		c.enqueue(errorEnvelope(env.ID, types.Errorf(types.ErrBadArgument, "unknown topic %q", env.Topic)))
		return
	}
	opts, err := transport.DecodeData[subscribeData](env.Data)
	if err != nil {
		c.enqueue(errorEnvelope(env.ID, err))
		return
	}

	sub := &subscription{filters: env.Filters}
	if opts.TTLSeconds > 0 {
		sub.expiresAt = time.Now().Add(time.Duration(opts.TTLSeconds) * time.Second)
	}
	c.mu.Lock()
	c.subs[env.Topic] = sub
	c.mu.Unlock()

	c.enqueue(envelope(TypeResponse, env.ID, map[string]any{"subscribed": env.Topic}))
}

func (c *conn) handleUnsubscribe(env Envelope) {
	if !c.requireAuth(env) {
		return
	}
	c.mu.Lock()
	delete(c.subs, env.Topic)
	c.mu.Unlock()
	c.enqueue(envelope(TypeResponse, env.ID, map[string]any{"unsubscribed": env.Topic}))
}
