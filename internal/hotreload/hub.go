package hotreload

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nilsbr/rushd/internal/logger"
)

// subscriberQueueCap bounds the number of undelivered events held per
// WebSocket subscriber; a slow client drops its oldest events rather than
// blocking the broadcaster or growing without limit.
const subscriberQueueCap = 256

const pingInterval = 30 * time.Second

// Hub fans out ChangeEvents to WebSocket subscribers, optionally filtered
// to one backend ("name:port").
type Hub struct {
	log      logger.Logger
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn   *websocket.Conn
	filter string // "" = all backends, else "name:port"
	queue  chan ChangeEvent
	done   chan struct{}
}

// NewHub creates an empty Hub.
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// ServeWS upgrades r to a WebSocket connection and subscribes it to hot
// reload events. An optional "server" query parameter ("name:port") scopes
// the subscription to one backend.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logger.Error(err))
		return
	}

	sub := &subscriber{
		conn:   conn,
		filter: r.URL.Query().Get("server"),
		queue:  make(chan ChangeEvent, subscriberQueueCap),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go h.writePump(sub)
	go h.readPump(sub)
}

// Broadcast delivers change to every subscriber whose filter matches.
// Filter matching runs under the hub's read lock; the channel sends are
// attempted after the lock is released, so a slow subscriber can never
// stall registration of new subscribers.
func (h *Hub) Broadcast(change ChangeEvent) {
	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		if s.filter == "" || s.filter == backendKey(change.BackendName, change.Port) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.queue <- change:
		default:
			// drop-oldest: make room, then retry once
			select {
			case <-s.queue:
			default:
			}
			select {
			case s.queue <- change:
			default:
			}
		}
	}
}

func (h *Hub) writePump(s *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer h.remove(s)
	defer s.conn.Close()

	for {
		select {
		case <-s.done:
			return
		case change, ok := <-s.queue:
			if !ok {
				return
			}
			payload, err := json.Marshal(change)
			if err != nil {
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(s *subscriber) {
	defer h.remove(s)
	defer s.conn.Close()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			close(s.done)
			return
		}
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// SubscriberCount reports the current number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func backendKey(name string, port int) string {
	return name + ":" + strconv.Itoa(port)
}
