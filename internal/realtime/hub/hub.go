// Package hub implements the Notification Hub: a registry mapping
// conversation IDs to the set of subscribed control-channel clients, with
// best-effort fire-and-forget broadcast.
package hub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yourusername/medinterp/internal/logger"
)

// Client is one control-channel WebSocket connection.
type Client struct {
	Conn *websocket.Conn

	// writeMu serializes every write to Conn: broadcasts arrive from
	// pipeline and coordinator goroutines while the handler's read loop
	// replies to inbound messages on the same connection, and the
	// transport allows only one concurrent writer.
	writeMu sync.Mutex

	mu             sync.Mutex
	conversationID uuid.UUID
	hasConv        bool
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{Conn: conn}
}

// WriteJSON sends one JSON message to the client. All writes to a
// hub-registered connection must go through here.
func (c *Client) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(v)
}

// Envelope is the uniform shape of every hub broadcast.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub maps conversation IDs to subscribed clients. A client appears in at
// most one conversation's set at a time.
type Hub struct {
	mu     sync.Mutex
	byConv map[uuid.UUID]map[*Client]struct{}
}

func New() *Hub {
	return &Hub{byConv: make(map[uuid.UUID]map[*Client]struct{})}
}

// RegisterClient removes client from any prior conversation and adds it to
// conversationID's set.
func (h *Hub) RegisterClient(client *Client, conversationID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.mu.Lock()
	prev, hadPrev := client.conversationID, client.hasConv
	client.conversationID = conversationID
	client.hasConv = true
	client.mu.Unlock()

	if hadPrev {
		h.removeFromSetLocked(prev, client)
	}

	set, ok := h.byConv[conversationID]
	if !ok {
		set = make(map[*Client]struct{})
		h.byConv[conversationID] = set
	}
	set[client] = struct{}{}
}

// RemoveClient removes client from its current conversation set, deleting
// the set if it becomes empty.
func (h *Hub) RemoveClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.mu.Lock()
	conv, ok := client.conversationID, client.hasConv
	client.hasConv = false
	client.mu.Unlock()

	if ok {
		h.removeFromSetLocked(conv, client)
	}
}

func (h *Hub) removeFromSetLocked(conversationID uuid.UUID, client *Client) {
	set, ok := h.byConv[conversationID]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.byConv, conversationID)
	}
}

// ClientCount reports how many clients are subscribed to conversationID.
// The Coordinator uses this to decide whether a scheduled STT reconnect
// should still happen.
func (h *Hub) ClientCount(conversationID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byConv[conversationID])
}

// NotifyActionCreated broadcasts {type: "action_created", payload: action}.
func (h *Hub) NotifyActionCreated(conversationID uuid.UUID, action any) {
	h.BroadcastMessage(conversationID, Envelope{Type: "action_created", Payload: action})
}

// BroadcastMessage sends an arbitrary pre-shaped envelope to every client
// subscribed to conversationID. Best-effort: closed or erroring transports
// are skipped and logged, never propagated.
func (h *Hub) BroadcastMessage(conversationID uuid.UUID, envelope any) {
	log := logger.WithComponent("hub")

	h.mu.Lock()
	set := h.byConv[conversationID]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.WriteJSON(envelope); err != nil {
			log.Debug().Err(err).Msg("broadcast send failed, skipping client")
		}
	}
}
