package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventHub fans engine events out to connected WebSocket clients. Slow
// or broken clients are dropped rather than blocking the broadcaster.
type EventHub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
	logger   *log.Logger

	pingInterval time.Duration
	writeTimeout time.Duration
}

// NewEventHub creates an empty hub.
func NewEventHub(logger *log.Logger) *EventHub {
	if logger == nil {
		logger = log.Default()
	}
	return &EventHub{
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Events are read-only and carry no sensitive payload.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:       logger,
		pingInterval: 30 * time.Second,
		writeTimeout: 5 * time.Second,
	}
}

// Handle upgrades the request and keeps the connection registered until
// it drops.
func (h *EventHub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Printf("Event client connected (%d total)", count)

	go h.pingLoop(conn)
	go h.readLoop(conn)
}

// Broadcast sends the payload as JSON to every connected client.
func (h *EventHub) Broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Printf("Failed to marshal event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// Close drops every client connection.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// readLoop drains client messages so pings/pongs are processed; any
// read error unregisters the connection.
func (h *EventHub) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.drop(conn)
			return
		}
	}
}

func (h *EventHub) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		h.mu.Lock()
		_, registered := h.clients[conn]
		h.mu.Unlock()
		if !registered {
			return
		}
		deadline := time.Now().Add(h.writeTimeout)
		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			h.drop(conn)
			return
		}
	}
}

func (h *EventHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		conn.Close()
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}
