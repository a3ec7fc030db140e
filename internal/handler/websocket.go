package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/CageChen/markkeep/internal/index"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 5 * time.Second
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only feed, any origin may subscribe
	},
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ChangePayload describes one store change on the feed
type ChangePayload struct {
	Event      string `json:"event"`
	Path       string `json:"path"`
	Generation uint64 `json:"generation"`
}

type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (cl *wsClient) close() {
	cl.closeOnce.Do(func() {
		close(cl.done)
	})
}

// WSHandler pushes store changes to websocket subscribers. A client that
// cannot keep up is disconnected rather than slowing the index down.
type WSHandler struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
	logger  *slog.Logger
}

// NewWSHandler creates a new WebSocket handler
func NewWSHandler(logger *slog.Logger) *WSHandler {
	return &WSHandler{
		clients: make(map[*wsClient]struct{}),
		logger:  logger,
	}
}

// HandleWS upgrades the connection and streams changes until the client
// goes away or the handler is closed
func (h *WSHandler) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}
	if !h.addClient(client) {
		_ = conn.Close()
		return
	}
	defer func() {
		h.removeClient(client)
		_ = conn.Close()
	}()

	// Drain incoming frames so close and ping control messages are handled
	go func() {
		defer client.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-client.done:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// OnChange is registered with the store and broadcasts every change
func (h *WSHandler) OnChange(change index.Change) {
	msg := WSMessage{
		Type: "fileChange",
		Payload: ChangePayload{
			Event:      change.Kind.String(),
			Path:       change.Path,
			Generation: change.Generation,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("dropping slow websocket client", "remote", client.conn.RemoteAddr().String())
			client.close()
			delete(h.clients, client)
		}
	}
}

// Close disconnects every subscriber and refuses new ones
func (h *WSHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		client.close()
		delete(h.clients, client)
	}
}

func (h *WSHandler) addClient(client *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = struct{}{}
	return true
}

func (h *WSHandler) removeClient(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
}

// Clients returns the number of connected subscribers
func (h *WSHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
