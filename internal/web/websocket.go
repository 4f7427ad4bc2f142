// internal/web/websocket.go
package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bitaxe-monitor/internal/metrics"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type WSClient struct {
	conn *websocket.Conn
	send chan WSMessage
	hub  *Hub
}

// Hub tracks live websocket clients and fans messages out to them.
type Hub struct {
	clients   map[*WSClient]bool
	collector *metrics.Collector
	mu        sync.Mutex
}

func NewHub(collector *metrics.Collector) *Hub {
	return &Hub{
		clients:   make(map[*WSClient]bool),
		collector: collector,
	}
}

func (h *Hub) register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	if h.collector != nil {
		h.collector.RecordWebSocketConnection(1)
	}
}

func (h *Hub) unregister(client *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	if ok && h.collector != nil {
		h.collector.RecordWebSocketConnection(-1)
	}
}

// Broadcast queues a message for every client. Clients whose buffer is
// full are dropped.
func (h *Hub) Broadcast(msgType string, data interface{}) {
	message := WSMessage{Type: msgType, Data: data, Timestamp: time.Now().UTC()}

	h.mu.Lock()
	var slow []*WSClient
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.Unlock()

	for _, client := range slow {
		logrus.Warn("Dropping slow websocket client")
		h.unregister(client)
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to upgrade websocket")
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan WSMessage, 256),
		hub:  s.hub,
	}
	s.hub.register(client)

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
