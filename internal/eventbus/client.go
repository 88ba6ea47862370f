package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler processes one decoded Event. A handler must not panic the
// receive loop; Client recovers and logs instead of propagating.
type Handler func(Event)

const (
	backoffInitial   = 1 * time.Second
	backoffCap       = 60 * time.Second
	maxConsecutiveFailures = 10
	pingInterval     = 20 * time.Second
	pingTimeout      = 20 * time.Second
)

// Client subscribes to a fixed set of controller WebSocket endpoints, one
// per event type, normalizing every received frame into a tagged Event and
// dispatching it to registered handlers. Each endpoint runs its own
// reconnecting receive loop independent of the others.
type Client struct {
	baseURL string
	logger  *zap.Logger

	mu       sync.Mutex
	handlers map[EventType][]Handler

	wg      sync.WaitGroup
	cancels []context.CancelFunc
	running map[EventType]struct{}

	dialer *websocket.Dialer
}

// NewClient creates an event bus client against the controller's WS base
// URL (e.g. "ws://controller:8181").
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:  baseURL,
		logger:   logger.Named("eventbus-client"),
		handlers: make(map[EventType][]Handler),
		dialer:   websocket.DefaultDialer,
	}
}

// RegisterHandler adds a handler invoked, in registration order, for every
// event of the given type received on the corresponding endpoint.
func (c *Client) RegisterHandler(t EventType, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = append(c.handlers[t], h)
}

// Start launches a receive loop per requested event type (or all known
// types, if none are given). Start is idempotent: calling it again with
// endpoints already running is a no-op for those endpoints.
func (c *Client) Start(ctx context.Context, types ...EventType) error {
	if len(types) == 0 {
		for t := range wsEndpoints {
			types = append(types, t)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range types {
		path, ok := wsEndpoints[t]
		if !ok {
			return fmt.Errorf("eventbus: unknown event type %q", t)
		}
		if _, running := c.running[t]; running {
			continue
		}
		if c.running == nil {
			c.running = make(map[EventType]struct{})
		}
		c.running[t] = struct{}{}
		loopCtx, cancel := context.WithCancel(ctx)
		c.cancels = append(c.cancels, cancel)
		c.wg.Add(1)
		go c.runEndpoint(loopCtx, t, path)
	}
	return nil
}

// Stop cancels every running endpoint loop and waits up to 5s for them to
// exit.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
	c.running = nil
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("eventbus: stop timed out waiting for receive loops")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runEndpoint owns the reconnect/backoff state machine for a single WS
// endpoint. It returns only when ctx is cancelled or the consecutive-failure
// cap is exceeded (a fatal condition logged but not propagated — other
// endpoints keep running).
func (c *Client) runEndpoint(ctx context.Context, eventType EventType, path string) {
	defer c.wg.Done()

	backoff := backoffInitial
	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := c.dial(ctx, path)
		if err != nil {
			consecutiveFailures++
			c.logger.Warn("websocket connect failed",
				zap.String("event_type", string(eventType)),
				zap.Int("attempt", consecutiveFailures),
				zap.Error(err))

			if consecutiveFailures >= maxConsecutiveFailures {
				c.logger.Error("endpoint exceeded reconnect attempt cap, giving up",
					zap.String("event_type", string(eventType)))
				return
			}

			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		// Connected: reset backoff and run the receive loop until it breaks.
		consecutiveFailures = 0
		backoff = backoffInitial
		c.receiveLoop(ctx, conn, eventType)
		_ = conn.Close()

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *Client) dial(ctx context.Context, path string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	u.Path = path

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// receiveLoop reads frames until the connection errors or ctx is cancelled.
// A keepalive ping ticks every 20s with a 20s write/pong deadline.
func (c *Client) receiveLoop(ctx context.Context, conn *websocket.Conn, eventType EventType) {
	conn.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout))
		return nil
	})

	stopPing := make(chan struct{})
	go c.pingLoop(conn, stopPing)
	defer close(stopPing)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug("websocket read error, will reconnect",
				zap.String("event_type", string(eventType)), zap.Error(err))
			return
		}

		var frame struct {
			Event     string                 `json:"event"`
			Timestamp time.Time              `json:"timestamp"`
			Data      map[string]interface{} `json:"data"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("dropping malformed frame",
				zap.String("event_type", string(eventType)), zap.Error(err))
			continue
		}

		evt := Event{
			Type:      eventType,
			Timestamp: frame.Timestamp,
			Data:      frame.Data,
			Raw:       json.RawMessage(data),
		}
		c.dispatch(evt)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(pingTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch invokes every handler registered for evt.Type, in registration
// order, on the calling (receive-loop) goroutine. A handler panic is
// recovered so one bad handler cannot kill the loop.
func (c *Client) dispatch(evt Event) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[evt.Type]...)
	c.mu.Unlock()

	for _, h := range handlers {
		c.invokeSafely(h, evt)
	}
}

func (c *Client) invokeSafely(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked",
				zap.String("event_type", string(evt.Type)),
				zap.Any("panic", r))
		}
	}()
	h(evt)
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > backoffCap {
		return backoffCap
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
