package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event types pushed to WebSocket clients.
const (
	EventPeerConnected    = "peer-connected"
	EventPeerDisconnected = "peer-disconnected"
	EventFileAnnounced    = "file-announced"
)

// Event is a single notification pushed to WebSocket clients.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func newEvent(eventType string, data map[string]any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for localhost development
	},
}

// WSConnection represents a WebSocket connection receiving event
// notifications.
type WSConnection struct {
	conn    *websocket.Conn
	server  *Server
	sendCh  chan Event
	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// NewWSConnection creates a new WebSocket connection handler.
func NewWSConnection(conn *websocket.Conn, server *Server) *WSConnection {
	return &WSConnection{
		conn:    conn,
		server:  server,
		sendCh:  make(chan Event, 100),
		closeCh: make(chan struct{}),
	}
}

// Start begins processing the WebSocket connection.
func (ws *WSConnection) Start() {
	go ws.readPump()
	go ws.writePump()
}

// Send queues an event to be sent to the client.
func (ws *WSConnection) Send(ev Event) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return fmt.Errorf("connection closed")
	}

	select {
	case ws.sendCh <- ev:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Close closes the WebSocket connection.
func (ws *WSConnection) Close() {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return
	}
	ws.closed = true
	ws.mu.Unlock()

	if ws.server != nil {
		ws.server.removeConnection(ws)
	}

	close(ws.closeCh)
	ws.conn.Close()
}

// readPump drains client frames. The feed is one-way; client data is
// discarded, but the pump detects the close handshake.
func (ws *WSConnection) readPump() {
	defer ws.Close()

	for {
		if _, _, err := ws.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("WebSocket read error: %v\n", err)
			}
			return
		}
	}
}

// writePump writes queued events to the WebSocket.
func (ws *WSConnection) writePump() {
	defer ws.Close()

	for {
		select {
		case ev := <-ws.sendCh:
			data, err := json.Marshal(ev)
			if err != nil {
				fmt.Printf("Failed to marshal event: %v\n", err)
				continue
			}

			if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				fmt.Printf("Failed to write event: %v\n", err)
				return
			}

		case <-ws.closeCh:
			return
		}
	}
}

// handleWebSocket upgrades the request and registers the connection for
// event broadcasts.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		fmt.Printf("Failed to upgrade connection: %v\n", err)
		return
	}

	ws := NewWSConnection(conn, s)

	s.mu.Lock()
	s.connections[ws] = true
	s.mu.Unlock()

	ws.Start()
	s.logf(2, "WebSocket client connected")
}

func (s *Server) removeConnection(ws *WSConnection) {
	s.mu.Lock()
	delete(s.connections, ws)
	s.mu.Unlock()
}
