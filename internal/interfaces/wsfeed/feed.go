// Package wsfeed broadcasts Tray State transitions and process events
// to any number of connected dashboard clients over /ws/events.
// Unlike a chat socket this is one-way: the server never expects a
// reply frame, only the occasional ping/pong keepalive.
package wsfeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mindlink-dev/mindlink/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventType enumerates the frames the feed emits.
type EventType string

const (
	EventTrayState     EventType = "tray_state"
	EventProcessStatus EventType = "process_status"
)

// Event is one frame pushed to every connected client.
type Event struct {
	Type      EventType       `json:"type"`
	TrayState domain.TrayState `json:"tray_state,omitempty"`
	ProcessID string          `json:"process_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out Events to every connected client. A client whose send
// buffer is full misses that frame (it stays connected) rather than
// blocking the broadcaster.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	log     *zap.Logger
}

// NewHub builds an empty Hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{clients: make(map[*client]struct{}), log: log}
}

// Broadcast pushes ev to every currently connected client.
func (h *Hub) Broadcast(ev Event) {
	ev.Timestamp = time.Now().Unix()
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to marshal tray event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("dropping tray event for slow feed client")
		}
	}
}

// ClientCount reports how many dashboards are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the connection until it
// closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("failed to upgrade tray event feed connection", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.readPump(c)
	go h.writePump(c)
}

// readPump only watches for the client closing the connection; the
// feed carries no inbound payloads.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}
