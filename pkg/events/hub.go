package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ClientFrame is the JSON structure for client → server WebSocket messages.
type ClientFrame struct {
	Type    string         `json:"type"`    // "chat", "ping", "get_status"
	Message string         `json:"message,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ChatFunc handles an inbound chat frame. Wired to the coordinator at
// startup; the hub never imports it directly.
type ChatFunc func(ctx context.Context, sessionID, message string, patch map[string]any)

// StatusFunc produces the session stats returned for a get_status frame.
type StatusFunc func(ctx context.Context, sessionID string) (map[string]any, error)

// Conn is one live WebSocket connection bound to a session.
//
// The read loop is the sole goroutine that mutates a Conn after
// registration; sends may come from any goroutine and go through the
// connection's context and write timeout.
type Conn struct {
	ID        string
	SessionID string
	ws        *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
}

// Hub is the single-process registry of live connections per session.
// Fan-out is best effort: connections that fail a send are pruned.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Conn]bool

	writeTimeout time.Duration
	chatFn       ChatFunc
	statusFn     StatusFunc
	logger       *slog.Logger
}

// NewHub creates a hub with the given per-send write timeout.
func NewHub(writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Hub{
		sessions:     make(map[string]map[*Conn]bool),
		writeTimeout: writeTimeout,
		logger:       slog.Default(),
	}
}

// SetChatHandler wires the coordinator callback for inbound chat frames.
// Called once during startup.
func (h *Hub) SetChatHandler(fn ChatFunc) { h.chatFn = fn }

// SetStatusHandler wires the callback answering get_status frames.
func (h *Hub) SetStatusHandler(fn StatusFunc) { h.statusFn = fn }

// HandleConnection manages the lifecycle of one WebSocket connection.
// Called by the HTTP handler after upgrade; blocks until the connection
// closes.
func (h *Hub) HandleConnection(parentCtx context.Context, sessionID string, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Conn{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		ws:        ws,
		ctx:       ctx,
		cancel:    cancel,
	}

	h.register(c)
	defer h.unregister(c)

	h.sendJSON(c, map[string]any{
		"type":       "connected",
		"session_id": sessionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return // closed or failed — cleanup via defer
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendJSON(c, map[string]string{
				"type":    "error",
				"message": "Invalid JSON format",
			})
			continue
		}
		h.handleFrame(ctx, c, &frame)
	}
}

func (h *Hub) handleFrame(ctx context.Context, c *Conn, frame *ClientFrame) {
	switch frame.Type {
	case "chat":
		if frame.Message == "" {
			h.sendJSON(c, map[string]string{"type": "error", "message": "message is required for chat"})
			return
		}
		if h.chatFn == nil {
			h.sendJSON(c, map[string]string{"type": "error", "message": "chat is not available"})
			return
		}
		// Processing outlives the read loop iteration; replies and progress
		// come back through SendToSession.
		go h.chatFn(context.WithoutCancel(ctx), c.SessionID, frame.Message, frame.Context)

	case "ping":
		h.sendJSON(c, map[string]string{"type": "pong"})

	case "get_status":
		if h.statusFn == nil {
			h.sendJSON(c, map[string]string{"type": "error", "message": "status is not available"})
			return
		}
		stats, err := h.statusFn(ctx, c.SessionID)
		if err != nil {
			h.sendJSON(c, map[string]string{"type": "error", "message": "failed to load session status"})
			return
		}
		h.sendJSON(c, map[string]any{"type": "status", "session_id": c.SessionID, "stats": stats})

	default:
		h.sendJSON(c, map[string]string{"type": "error", "message": "unknown message type"})
	}
}

// SendToSession pushes a payload to every live connection of a session.
// Connections that fail the send are pruned.
func (h *Hub) SendToSession(sessionID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("Failed to marshal hub payload", "session_id", sessionID, "error", err)
		return
	}

	for _, c := range h.snapshot(sessionID) {
		if err := h.sendRaw(c, data); err != nil {
			h.logger.Warn("Pruning failed WebSocket connection",
				"connection_id", c.ID, "session_id", sessionID, "error", err)
			h.unregister(c)
		}
	}
}

// Broadcast pushes a payload to every connection of every session.
func (h *Hub) Broadcast(payload any) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.SendToSession(id, payload)
	}
}

// ActiveConnections returns the total number of live connections.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.sessions {
		n += len(conns)
	}
	return n
}

// SessionConnections returns the number of live connections for a session.
func (h *Hub) SessionConnections(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[*Conn]bool)
	}
	h.sessions[c.SessionID][c] = true
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	if conns, ok := h.sessions[c.SessionID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.sessions, c.SessionID)
		}
	}
	h.mu.Unlock()

	c.cancel()
	_ = c.ws.Close(websocket.StatusNormalClosure, "")
}

// snapshot copies the connection set so sends happen without holding the
// lock — a slow socket must not stall register/unregister.
func (h *Hub) snapshot(sessionID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Conn, 0, len(h.sessions[sessionID]))
	for c := range h.sessions[sessionID] {
		conns = append(conns, c)
	}
	return conns
}

func (h *Hub) sendJSON(c *Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := h.sendRaw(c, data); err != nil {
		h.logger.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

func (h *Hub) sendRaw(c *Conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.ws.Write(writeCtx, websocket.MessageText, data)
}
