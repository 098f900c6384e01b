package deriv

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusAuthorized   Status = "authorized"
	StatusReconnecting Status = "reconnecting"
	StatusFatal        Status = "fatal"
)

// Conn is the transport surface the gateway needs from a WebSocket
// connection. *websocket.Conn satisfies it; tests substitute a stub.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type DialFunc func() (Conn, error)

// Handler receives inbound frames for a subscribed msg_type. Subscribing
// to the empty msg_type receives every frame.
type Handler func(msg *Message)

type Options struct {
	Endpoint             string
	APIToken             string
	AppID                string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatGrace       time.Duration
	AuthTimeout          time.Duration
}

// Health reports connection state for status queries.
type Health struct {
	Status            Status    `json:"status"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	LastHeartbeatAt   time.Time `json:"last_heartbeat_at,omitempty"`
}

// Gateway owns the single physical connection to the venue shared by every
// tenant. Correlation ids separate concurrently in-flight calls; see
// Request. All state transitions happen inside the gateway.
type Gateway struct {
	opts Options
	dial DialFunc // overridable in tests

	mu           sync.Mutex // guards status, conn, gen, attempts, lastBeat
	status       Status
	conn         Conn
	gen          uint64 // connection generation; invalidates stale readers
	attempts     int
	lastBeat     time.Time
	establishing bool // an establish loop is running; at most one at a time

	wmu sync.Mutex // single writer on the socket

	reqID   atomic.Int64
	pmu     sync.Mutex
	pending map[int64]chan *Message

	hmu      sync.Mutex
	subID    int
	handlers map[string]map[int]Handler

	closed atomic.Bool
}

func New(opts Options) *Gateway {
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 10
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.ReconnectMaxDelay <= 0 {
		opts.ReconnectMaxDelay = 20 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.HeartbeatGrace <= 0 {
		opts.HeartbeatGrace = 10 * time.Second
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 15 * time.Second
	}
	g := &Gateway{
		opts:     opts,
		status:   StatusDisconnected,
		pending:  make(map[int64]chan *Message),
		handlers: make(map[string]map[int]Handler),
	}
	g.dial = func() (Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		url := fmt.Sprintf("%s?app_id=%s", opts.Endpoint, opts.AppID)
		c, _, err := dialer.Dial(url, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		return c, nil
	}
	return g
}

// Connect opens the transport and completes the authorization handshake.
// Idempotent: a gateway that is already connecting or usable returns nil.
// Failures retry with exponential backoff up to the configured attempt
// ceiling; exhaustion leaves the gateway fatal and returns the last error.
func (g *Gateway) Connect() error {
	g.mu.Lock()
	switch g.status {
	case StatusConnecting, StatusConnected, StatusAuthorized, StatusReconnecting:
		g.mu.Unlock()
		return nil
	}
	g.closed.Store(false)
	g.status = StatusConnecting
	g.establishing = true
	g.mu.Unlock()
	err := g.establish(StatusConnecting)
	g.mu.Lock()
	g.establishing = false
	g.mu.Unlock()
	return err
}

// Close shuts the transport down, rejects every outstanding request with
// ErrConnectionClosed and stops heartbeat and reconnect activity.
func (g *Gateway) Close() error {
	g.closed.Store(true)
	g.mu.Lock()
	g.gen++ // orphan the reader and heartbeat for the old connection
	conn := g.conn
	g.conn = nil
	g.status = StatusDisconnected
	g.mu.Unlock()
	g.failPending()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Request attaches a fresh correlation id to payload, sends it and blocks
// until the matching response arrives or timeout passes. The pending entry
// is removed exactly once whichever way the call resolves. A venue error
// envelope resolves the call normally; inspect Message.Err.
func (g *Gateway) Request(ctx context.Context, payload map[string]any, timeout time.Duration) (*Message, error) {
	g.mu.Lock()
	status := g.status
	conn := g.conn
	g.mu.Unlock()

	switch status {
	case StatusFatal:
		return nil, ErrConnectionDead
	case StatusConnected, StatusAuthorized:
	default:
		return nil, ErrNotConnected
	}

	id := g.reqID.Add(1)
	payload["req_id"] = id

	ch := make(chan *Message, 1)
	g.pmu.Lock()
	g.pending[id] = ch
	g.pmu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		g.takePending(id)
		return nil, err
	}
	g.wmu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	g.wmu.Unlock()
	if err != nil {
		g.takePending(id)
		return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		return msg, nil
	case <-timer.C:
		g.takePending(id)
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		g.takePending(id)
		return nil, ctx.Err()
	}
}

// On subscribes handler to frames of the given msg_type ("" for all
// frames) and returns a subscription id for Off.
func (g *Gateway) On(msgType string, h Handler) int {
	g.hmu.Lock()
	defer g.hmu.Unlock()
	g.subID++
	if g.handlers[msgType] == nil {
		g.handlers[msgType] = make(map[int]Handler)
	}
	g.handlers[msgType][g.subID] = h
	return g.subID
}

func (g *Gateway) Off(msgType string, id int) {
	g.hmu.Lock()
	defer g.hmu.Unlock()
	delete(g.handlers[msgType], id)
}

// Connected reports whether the gateway is authorized and usable.
func (g *Gateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status == StatusAuthorized
}

func (g *Gateway) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

func (g *Gateway) Health() Health {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Health{
		Status:            g.status,
		ReconnectAttempts: g.attempts,
		LastHeartbeatAt:   g.lastBeat,
	}
}

// PendingCount exposes the size of the correlation table.
func (g *Gateway) PendingCount() int {
	g.pmu.Lock()
	defer g.pmu.Unlock()
	return len(g.pending)
}

// establish runs the bounded reconnect loop. progress is the status shown
// while attempts are in flight (connecting on first use, reconnecting
// afterwards).
func (g *Gateway) establish(progress Status) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.opts.ReconnectDelay
	bo.MaxInterval = g.opts.ReconnectMaxDelay
	bo.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		if g.closed.Load() {
			return backoff.Permanent(ErrConnectionClosed)
		}
		if err := g.connectOnce(progress); err != nil {
			g.mu.Lock()
			g.attempts++
			attempt := g.attempts
			g.mu.Unlock()
			log.Printf("deriv: connection attempt %d failed: %v", attempt, err)
			return err
		}
		return nil
	}, backoff.WithMaxRetries(bo, uint64(g.opts.MaxReconnectAttempts)))

	if err != nil {
		g.mu.Lock()
		if !g.closed.Load() {
			g.status = StatusFatal
		}
		g.mu.Unlock()
		log.Printf("deriv: giving up after %d attempts: %v", g.opts.MaxReconnectAttempts, err)
		return err
	}
	return nil
}

func (g *Gateway) connectOnce(progress Status) error {
	conn, err := g.dial()
	if err != nil {
		return err
	}

	g.mu.Lock()
	if g.conn != nil {
		_ = g.conn.Close() // superseded by this newer connection
	}
	g.conn = conn
	g.gen++
	gen := g.gen
	g.status = StatusConnected
	g.mu.Unlock()

	go g.readLoop(conn, gen)

	msg, err := g.Request(context.Background(), authorizeRequest(g.opts.APIToken), g.opts.AuthTimeout)
	if err != nil {
		g.teardown(conn, gen, progress)
		return fmt.Errorf("authorize: %w", err)
	}
	if msg.Err != nil {
		g.teardown(conn, gen, progress)
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrAuthorization, msg.Err.Message))
	}

	g.mu.Lock()
	g.status = StatusAuthorized
	g.attempts = 0
	g.lastBeat = time.Now()
	g.mu.Unlock()

	go g.heartbeat(gen)
	log.Printf("deriv: connection authorized")
	return nil
}

// teardown reverts a half-open connection so the next attempt starts clean.
func (g *Gateway) teardown(conn Conn, gen uint64, progress Status) {
	g.mu.Lock()
	if g.gen == gen {
		g.gen++ // orphan the reader
		g.conn = nil
		g.status = progress
	}
	g.mu.Unlock()
	_ = conn.Close()
}

func (g *Gateway) readLoop(conn Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			g.handleDisconnect(conn, gen, err)
			return
		}
		msg, err := parseMessage(data)
		if err != nil {
			log.Printf("deriv: dropping malformed frame: %v", err)
			continue
		}
		if msg.ReqID != 0 {
			if ch := g.takePending(msg.ReqID); ch != nil {
				ch <- msg
				continue
			}
			// Late or duplicate reply for an already-resolved id: fall
			// through so subscription pushes that echo a req_id still
			// reach their handlers.
		}
		g.dispatch(msg)
	}
}

func (g *Gateway) handleDisconnect(conn Conn, gen uint64, cause error) {
	g.mu.Lock()
	if gen != g.gen {
		g.mu.Unlock()
		_ = conn.Close() // superseded connection; release the transport
		return
	}
	if g.conn != nil {
		_ = g.conn.Close()
		g.conn = nil
	}
	if g.closed.Load() {
		g.status = StatusDisconnected
		g.mu.Unlock()
		g.failPending()
		return
	}
	// An establish loop may already be running, either spawned by an
	// earlier disconnect or driven by Connect when the drop happened
	// mid-handshake. Its next attempt redials; starting a second loop
	// here would race it for the connection slot.
	alreadyEstablishing := g.establishing
	g.establishing = true
	g.status = StatusReconnecting
	g.mu.Unlock()

	g.failPending()
	if alreadyEstablishing {
		return
	}
	log.Printf("deriv: connection lost (%v), reconnecting", cause)
	go func() {
		err := g.establish(StatusReconnecting)
		g.mu.Lock()
		g.establishing = false
		g.mu.Unlock()
		if err != nil {
			log.Printf("deriv: reconnect failed: %v", err)
		}
	}()
}

// heartbeat sends an app-level ping through the correlator. A ping that
// misses its grace period forces a reconnect cycle by closing the
// transport, regardless of transport-level signals.
func (g *Gateway) heartbeat(gen uint64) {
	ticker := time.NewTicker(g.opts.HeartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		g.mu.Lock()
		if gen != g.gen || g.status != StatusAuthorized {
			g.mu.Unlock()
			return
		}
		conn := g.conn
		g.mu.Unlock()

		if _, err := g.Request(context.Background(), pingRequest(), g.opts.HeartbeatGrace); err != nil {
			log.Printf("deriv: heartbeat missed: %v", err)
			_ = conn.Close()
			return
		}
		g.mu.Lock()
		if gen == g.gen {
			g.lastBeat = time.Now()
		}
		g.mu.Unlock()
	}
}

// takePending removes and returns the waiter for id. Removal happens under
// the table lock before delivery, so each id resolves at most once.
func (g *Gateway) takePending(id int64) chan *Message {
	g.pmu.Lock()
	defer g.pmu.Unlock()
	ch, ok := g.pending[id]
	if !ok {
		return nil
	}
	delete(g.pending, id)
	return ch
}

// failPending rejects every outstanding request. Closing the channel makes
// the waiter observe ErrConnectionClosed.
func (g *Gateway) failPending() {
	g.pmu.Lock()
	defer g.pmu.Unlock()
	for id, ch := range g.pending {
		delete(g.pending, id)
		close(ch)
	}
}

func (g *Gateway) dispatch(msg *Message) {
	g.hmu.Lock()
	var hs []Handler
	for _, h := range g.handlers[msg.MsgType] {
		hs = append(hs, h)
	}
	if msg.MsgType != "" {
		for _, h := range g.handlers[""] {
			hs = append(hs, h)
		}
	}
	g.hmu.Unlock()
	for _, h := range hs {
		h(msg)
	}
}
