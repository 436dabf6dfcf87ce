package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/opsforge/engine/pkg/logger"
	"go.uber.org/zap"
)

// ClientConn is the client's view of one connection.
type ClientConn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a new connection. The websocket implementation lives in
// transport.go; tests inject fakes.
type Dialer func(ctx context.Context) (ClientConn, error)

// ClientState is the connection state machine:
// connected, connecting, backoff(attempt), given-up.
type ClientState int

const (
	StateConnecting ClientState = iota
	StateConnected
	StateBackoff
	StateGivenUp
)

// ClientOptions tunes the reconnect behavior.
type ClientOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func defaultClientOptions() ClientOptions {
	return ClientOptions{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Client maintains one logical realtime connection. On abnormal close it
// reconnects with exponential backoff up to a bounded attempt count, then
// surfaces a persistent connection-lost notice and stops. Sends made while
// disconnected queue in memory and flush in original order on reconnect.
type Client struct {
	dial Dialer
	opts ClientOptions

	mu       sync.Mutex
	state    ClientState
	attempt  int
	conn     ClientConn
	queue    []Envelope
	handlers map[string][]func(Envelope)

	onConnectionLost func()
	redial           chan struct{}
}

func NewClient(dial Dialer, opts *ClientOptions) *Client {
	o := defaultClientOptions()
	if opts != nil {
		o = *opts
	}
	return &Client{
		dial:     dial,
		opts:     o,
		state:    StateConnecting,
		handlers: map[string][]func(Envelope){},
		redial:   make(chan struct{}, 1),
	}
}

// State returns the current connection state and backoff attempt.
func (c *Client) State() (ClientState, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.attempt
}

// OnConnectionLost registers the handler invoked once when the client gives
// up reconnecting.
func (c *Client) OnConnectionLost(fn func()) {
	c.mu.Lock()
	c.onConnectionLost = fn
	c.mu.Unlock()
}

// On registers a handler for an event type. Handlers run on the read loop
// goroutine in delivery order.
func (c *Client) On(eventType string, fn func(Envelope)) {
	c.mu.Lock()
	c.handlers[eventType] = append(c.handlers[eventType], fn)
	c.mu.Unlock()
}

// Off removes all handlers for an event type.
func (c *Client) Off(eventType string) {
	c.mu.Lock()
	delete(c.handlers, eventType)
	c.mu.Unlock()
}

// Subscribe asks the server for type-based fan-out of the given topic.
func (c *Client) Subscribe(topic string) {
	c.Send(TypeSubscribe, TopicPayload{Topic: topic})
}

// Unsubscribe cancels a topic subscription.
func (c *Client) Unsubscribe(topic string) {
	c.Send(TypeUnsubscribe, TopicPayload{Topic: topic})
}

// JoinRoom enters a scoped multicast group.
func (c *Client) JoinRoom(room string) {
	c.Send(TypeJoinRoom, RoomPayload{Room: room})
}

// LeaveRoom exits a room.
func (c *Client) LeaveRoom(room string) {
	c.Send(TypeLeaveRoom, RoomPayload{Room: room})
}

// Send transmits an event, or queues it while disconnected. A write that
// fails on a live connection re-queues the event at the front so ordering
// survives the reconnect with no duplication.
func (c *Client) Send(eventType string, payload any) {
	env := NewEvent(eventType, payload)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.queue = append(c.queue, env)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := conn.WriteJSON(env); err != nil {
		c.mu.Lock()
		c.queue = append([]Envelope{env}, c.queue...)
		c.conn = nil
		c.mu.Unlock()
		c.kickRedial()
	}
}

func (c *Client) kickRedial() {
	select {
	case c.redial <- struct{}{}:
	default:
	}
}

// Run drives the connection until ctx is canceled or the client gives up.
func (c *Client) Run(ctx context.Context) {
	for {
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !c.backoff(ctx) {
				return
			}
			continue
		}

		c.attach(conn)
		c.readLoop(ctx, conn)
		c.detach(conn)

		if ctx.Err() != nil {
			return
		}
		if !c.backoff(ctx) {
			return
		}
	}
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// backoff waits out the next delay; false means the attempt budget is spent
// and the client has given up.
func (c *Client) backoff(ctx context.Context) bool {
	c.mu.Lock()
	c.attempt++
	attempt := c.attempt
	lost := c.onConnectionLost
	if attempt > c.opts.MaxAttempts {
		c.state = StateGivenUp
		c.mu.Unlock()
		logger.L().Warn("realtime connection lost, giving up", zap.Int("attempts", attempt-1))
		if lost != nil {
			lost()
		}
		return false
	}
	c.state = StateBackoff
	c.mu.Unlock()

	delay := c.opts.BaseDelay << (attempt - 1)
	if delay > c.opts.MaxDelay {
		delay = c.opts.MaxDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.redial:
		return true
	case <-timer.C:
		return true
	}
}

// attach flushes queued sends in original submission order, then marks the
// connection live. New sends keep queueing until the flush completes so
// ordering holds across the reconnect.
func (c *Client) attach(conn ClientConn) {
	c.mu.Lock()
	c.state = StateConnected
	c.attempt = 0
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.conn = conn
			c.mu.Unlock()
			return
		}
		pending := c.queue
		c.queue = nil
		c.mu.Unlock()

		for i, env := range pending {
			if err := conn.WriteJSON(env); err != nil {
				// Connection died mid-flush: keep the rest for the next attempt.
				c.mu.Lock()
				c.queue = append(pending[i:], c.queue...)
				c.mu.Unlock()
				return
			}
		}
	}
}

func (c *Client) detach(conn ClientConn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) readLoop(ctx context.Context, conn ClientConn) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.L().Warn("realtime read failed, reconnecting", zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.L().Warn("malformed server event, dropped", zap.Error(err))
			continue
		}

		// Server liveness probes are answered immediately, outside the queue.
		if env.Type == TypeHeartbeat {
			c.Send(TypeHeartbeatResponse, nil)
			continue
		}

		c.mu.Lock()
		handlers := append([]func(Envelope){}, c.handlers[env.Type]...)
		c.mu.Unlock()
		for _, fn := range handlers {
			fn(env)
		}
	}
}
