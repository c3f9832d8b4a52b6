package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event is one engine lifecycle notification pushed to subscribers.
type Event struct {
	Type string      `json:"type"`
	At   time.Time   `json:"at"`
	Data interface{} `json:"data,omitempty"`
}

// Event types published by the scheduler.
const (
	EventCycleStarted  = "cycle_started"
	EventCycleFinished = "cycle_finished"
	EventFallback      = "fallback_vector"
	EventDiscoveryRun  = "discovery_run"
	EventSnapshot      = "snapshot_frozen"
)

const eventWriteTimeout = 5 * time.Second

// EventHub fans engine events out to websocket subscribers. Slow or dead
// subscribers are dropped, never waited on.
type EventHub struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	subs   map[*websocket.Conn]struct{}
	closed bool
}

// NewEventHub returns an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The surface binds locally; cross-origin checks add nothing.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs: make(map[*websocket.Conn]struct{}),
	}
}

// Publish sends the event to every live subscriber.
func (h *EventHub) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.subs {
		conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			log.Debug().Err(err).Msg("dropping event subscriber")
			conn.Close()
			delete(h.subs, conn)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects all subscribers and rejects new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.subs {
		conn.Close()
		delete(h.subs, conn)
	}
}

func (h *EventHub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.subs[conn] = struct{}{}
	h.mu.Unlock()
	log.Debug().Str("remote", r.RemoteAddr).Msg("event subscriber connected")

	go h.drain(conn)
}

// drain consumes inbound frames so pings are answered, and drops the
// subscriber once the peer goes away.
func (h *EventHub) drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.mu.Lock()
			if _, ok := h.subs[conn]; ok {
				conn.Close()
				delete(h.subs, conn)
			}
			h.mu.Unlock()
			return
		}
	}
}
