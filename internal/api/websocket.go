package api

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/smartpneu/label-engine/internal/store"
)

// WebSocket event types
const (
	EventJobUpdate = "job_update"
	EventError     = "error"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan WSMessage
}

// hub tracks connected clients and fans job transitions out to them.
type hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	log     *zap.Logger
}

func newHub(log *zap.Logger) *hub {
	return &hub{
		clients: make(map[*wsClient]bool),
		log:     log,
	}
}

func (h *hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// broadcastJob sends a job status change to every connected client. Clients
// with a full send buffer are skipped rather than blocking the dispatcher.
func (h *hub) broadcastJob(job store.Job) {
	msg := WSMessage{Event: EventJobUpdate, Data: job}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

// handleWebSocket upgrades the connection and streams job updates
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan WSMessage, 256),
	}
	s.hub.add(client)
	s.log.Debug("websocket client connected", zap.String("remote", conn.RemoteAddr().String()))

	go s.writePump(client)
	go s.readPump(client)
}

func (s *Server) writePump(c *wsClient) {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			s.log.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

// readPump drains inbound frames so pings and close handshakes are handled.
// The job stream is one-way; any payload a client sends is ignored.
func (s *Server) readPump(c *wsClient) {
	defer func() {
		s.hub.remove(c)
		close(c.send)
		c.conn.Close()
		s.log.Debug("websocket client disconnected")
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
	}
}
