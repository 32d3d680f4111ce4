package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Jacobolevy/simon-game-app-sub000/internal/auth"
)

// WSMessage is the envelope for all WebSocket communication.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client represents one connected player. The player ID comes from the
// identity token and survives reconnects; the conn does not.
type Client struct {
	ID       string
	Name     string
	RoomCode string
	conn     *websocket.Conn
	send     chan WSMessage
}

// Hub manages all WebSocket clients and room-level broadcasting.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	rooms     map[string]map[string]*Client
	handler   MessageHandler
	tokens    *auth.Service
	readLimit int64
	logger    *slog.Logger
	metrics   *Metrics
}

// MessageHandler processes inbound messages and connection lifecycle events.
// Connect fires after a client registers (including reconnects); Disconnect
// fires when its transport drops. Neither implies roster changes by itself.
type MessageHandler interface {
	HandleMessage(ctx context.Context, client *Client, msg WSMessage)
	HandleConnect(playerID string)
	HandleDisconnect(playerID string)
}

func NewHub(tokens *auth.Service, readLimit int64, handler MessageHandler, logger *slog.Logger) *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		rooms:     make(map[string]map[string]*Client),
		handler:   handler,
		tokens:    tokens,
		readLimit: readLimit,
		logger:    logger,
	}
}

// SetMetrics wires the connection gauges (optional).
func (h *Hub) SetMetrics(m *Metrics) {
	h.metrics = m
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.ValidateToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("ws accept", "err", err)
		return
	}
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	client := &Client{
		ID:   claims.PlayerID,
		Name: claims.DisplayName,
		conn: conn,
		send: make(chan WSMessage, 64),
	}

	h.register(client)
	if h.metrics != nil {
		h.metrics.IncrWSConn()
	}
	if h.handler != nil {
		h.handler.HandleConnect(client.ID)
	}
	defer func() {
		if h.unregister(client) {
			if h.metrics != nil {
				h.metrics.DecrWSConn()
			}
			if h.handler != nil {
				h.handler.HandleDisconnect(client.ID)
			}
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writePump(ctx, client)
	h.readPump(ctx, client)
}

// register installs the client, displacing any previous connection for the
// same player. The new transport inherits the old room membership so a
// reconnect lands back in the same broadcast group.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[c.ID]; ok {
		c.RoomCode = old.RoomCode
		close(old.send)
		old.conn.Close(websocket.StatusPolicyViolation, "superseded by new connection")
	}
	h.clients[c.ID] = c
	if c.RoomCode != "" {
		if _, ok := h.rooms[c.RoomCode]; !ok {
			h.rooms[c.RoomCode] = make(map[string]*Client)
		}
		h.rooms[c.RoomCode][c.ID] = c
	}
}

// unregister removes the client unless a newer connection for the same
// player has already replaced it. Returns whether this was the live one.
func (h *Hub) unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	current, ok := h.clients[c.ID]
	if !ok || current != c {
		return false
	}
	delete(h.clients, c.ID)
	close(c.send)
	if c.RoomCode != "" {
		if room, ok := h.rooms[c.RoomCode]; ok {
			delete(room, c.ID)
			if len(room) == 0 {
				delete(h.rooms, c.RoomCode)
			}
		}
	}
	return true
}

// JoinRoom adds a client to a room broadcast group.
func (h *Hub) JoinRoom(playerID, roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[playerID]
	if !ok {
		return
	}
	if c.RoomCode != "" && c.RoomCode != roomCode {
		if room, ok := h.rooms[c.RoomCode]; ok {
			delete(room, c.ID)
		}
	}
	c.RoomCode = roomCode
	if _, ok := h.rooms[roomCode]; !ok {
		h.rooms[roomCode] = make(map[string]*Client)
	}
	h.rooms[roomCode][c.ID] = c
}

// LeaveRoom removes a client from its room broadcast group.
func (h *Hub) LeaveRoom(playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[playerID]
	if !ok || c.RoomCode == "" {
		return
	}
	if room, ok := h.rooms[c.RoomCode]; ok {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(h.rooms, c.RoomCode)
		}
	}
	c.RoomCode = ""
}

// BroadcastRoom sends a message to every client in a room.
func (h *Hub) BroadcastRoom(roomCode string, msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[roomCode]
	if !ok {
		return
	}
	for _, c := range room {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client send buffer full", "client", c.ID)
		}
	}
}

// SendTo sends a message to a specific client.
func (h *Hub) SendTo(playerID string, msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[playerID]
	if !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// IsConnected reports whether a player currently has a live transport.
func (h *Hub) IsConnected(playerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[playerID]
	return ok
}

func (h *Hub) readPump(ctx context.Context, c *Client) {
	defer func() {
		_ = c.conn.CloseNow()
	}()
	for {
		var msg WSMessage
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			return
		}
		if h.handler != nil {
			h.handler.HandleMessage(ctx, c, msg)
		}
	}
}

func (h *Hub) writePump(ctx context.Context, c *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, c.conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
