// Package observer fans debug events (stopped, continued, output) out
// to read-only websocket spectators, so a dashboard can watch a debugging
// session without holding the DAP connection. Spectators never send
// commands; inbound frames are drained and dropped.
package observer

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sssooonnnggg/luaud/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// Event is the wire format pushed to spectators.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	At   time.Time   `json:"at"`
}

// Hub tracks spectator connections and broadcasts events to all of
// them.
type Hub struct {
	register   chan *connection
	unregister chan *connection
	broadcast  chan []byte
	done       chan struct{}
	log        *logging.Logger

	mu      sync.Mutex
	conns   map[*connection]bool
	stopped bool
}

// NewHub builds a Hub; call Run on its own goroutine.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		register:   make(chan *connection),
		unregister: make(chan *connection),
		broadcast:  make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		log:        log,
		conns:      make(map[*connection]bool),
	}
}

// Run processes registration and broadcast until Shutdown.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.conns[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.drop(c)
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.conns {
				select {
				case c.send <- msg:
				default:
					// A spectator that can't keep up is dropped rather
					// than allowed to stall the hub.
					delete(h.conns, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		case <-h.done:
			h.mu.Lock()
			for c := range h.conns {
				delete(h.conns, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) drop(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c] {
		delete(h.conns, c)
		close(c.send)
	}
}

// Publish broadcasts one named event to every spectator.
func (h *Hub) Publish(event string, data interface{}) {
	h.mu.Lock()
	stopped := h.stopped
	h.mu.Unlock()
	if stopped {
		return
	}

	msg, err := json.Marshal(Event{Type: event, Data: data, At: time.Now().UTC()})
	if err != nil {
		h.log.Warnf("observer marshal: %v", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warnf("observer broadcast buffer full, dropping %s", event)
	}
}

// ConnectionCount reports the number of attached spectators.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown closes every spectator connection and stops the hub.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()
	close(h.done)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Spectators are read-only and carry no credentials, so any origin
	// may watch.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request into a spectator connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("observer upgrade: %v", err)
		return
	}
	c := &connection{hub: h, ws: ws, send: make(chan []byte, sendBuffer)}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

type connection struct {
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
}

// readPump drains inbound frames so pongs and close frames are
// processed; anything else a spectator sends is discarded.
func (c *connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.ws.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
