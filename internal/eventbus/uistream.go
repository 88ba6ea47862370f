package eventbus

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const uiClientBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// UIStream accepts any number of UI WebSocket clients at /ui-events and
// fans out every Publish()'d event to all of them. A single producer
// goroutine per client drains that client's outgoing queue. When a client's
// queue is full the event is skipped for that client only, and a client
// whose write fails is dropped; the publisher never blocks.
type UIStream struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[chan Event]struct{}
}

// NewUIStream creates an empty UI fan-out hub.
func NewUIStream(logger *zap.Logger) *UIStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UIStream{
		logger:  logger.Named("ui-stream"),
		clients: make(map[chan Event]struct{}),
	}
}

// Publish forwards evt to every currently connected UI client without
// blocking; a client whose outgoing queue is full misses this event but
// stays connected.
func (s *UIStream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.clients {
		select {
		case ch <- evt:
		default:
			// Slow consumer: drop this event for this client only.
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams events to it
// until the connection closes or a write fails.
func (s *UIStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("ui websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := make(chan Event, uiClientBuffer)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, ch)
		s.mu.Unlock()
	}()

	// Drain any client->server frames to keep the connection alive and
	// detect disconnects promptly.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for evt := range ch {
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}
}

// ClientCount reports the number of currently connected UI clients, for
// diagnostics and tests.
func (s *UIStream) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
