package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyviz/tinyviz/pkg/config"
	"github.com/tinyviz/tinyviz/pkg/series"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Allow same-origin requests, or requests with no Origin header
		// (non-browser clients like curl and test tooling).
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// liveConn wraps a WebSocket connection with a write mutex. The hub's
// broadcast loop and the per-connection ping goroutine both write to
// the same connection; gorilla/websocket supports only one concurrent
// writer, so every write goes through here.
type liveConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *liveConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
	return c.conn.WriteMessage(messageType, data)
}

// StreamHub fans live-window updates out to WebSocket clients. The
// streaming buffer publishes into it on every flush; slow clients shed
// messages rather than backing up producers.
type StreamHub struct {
	clients map[*liveConn]bool

	register   chan *liveConn
	unregister chan *liveConn
	broadcast  chan []byte

	mu sync.RWMutex
}

// NewStreamHub creates a hub with no clients.
func NewStreamHub() *StreamHub {
	return &StreamHub{
		clients:    make(map[*liveConn]bool),
		register:   make(chan *liveConn, config.WSChannelBuffer),
		unregister: make(chan *liveConn, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
	}
}

// Run owns the hub's client set until the context is cancelled.
func (h *StreamHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.conn.Close()
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("Live client connected (total: %d)", count)
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("Live client disconnected (total: %d)", count)
		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*liveConn
			for client := range h.clients {
				if err := client.write(websocket.TextMessage, message); err != nil {
					log.Printf("Live client write error: %v", err)
					failed = append(failed, client)
				}
			}
			h.mu.RUnlock()

			// Unregister failed connections without holding the lock.
			for _, client := range failed {
				h.unregister <- client
			}
		}
	}
}

// WindowUpdate is the message published to live clients on each flush.
type WindowUpdate struct {
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Points    []series.Point `json:"points"`
	Count     int            `json:"count"`
	Rate      float64        `json:"rate"`
}

// BroadcastWindow pushes a window snapshot to every connected client.
// A full broadcast channel drops the update instead of blocking the
// flush cycle.
func (h *StreamHub) BroadcastWindow(window []series.Point, rate float64) {
	if !h.HasClients() {
		return
	}

	message, err := json.Marshal(WindowUpdate{
		Type:      "window_update",
		Timestamp: time.Now().Unix(),
		Points:    window,
		Count:     len(window),
		Rate:      rate,
	})
	if err != nil {
		log.Printf("Failed to encode window update: %v", err)
		return
	}

	select {
	case h.broadcast <- message:
	default:
		log.Printf("Broadcast channel full, dropping window update")
	}
}

// HasClients returns true if any WebSocket client is connected.
func (h *StreamHub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// HandleLive upgrades the connection and keeps it registered until the
// client goes away.
func (h *Handler) HandleLive(hub *StreamHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		client := &liveConn{conn: conn}
		hub.register <- client

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Ping sender keeps the connection alive across idle periods.
		go func() {
			ticker := time.NewTicker(config.WSPingInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := client.write(websocket.PingMessage, nil); err != nil {
						return
					}
				}
			}
		}()

		defer func() {
			cancel()
			hub.unregister <- client
		}()

		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
			return nil
		})

		// Read loop handles control frames and detects close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("WebSocket error: %v", err)
				}
				break
			}
		}
	}
}
