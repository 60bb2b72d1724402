package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"alumni-messaging/internal/models"
	"alumni-messaging/internal/observability"
)

// wsConn is the slice of *websocket.Conn the hub needs. Tests substitute
// an in-memory implementation.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// client wraps a websocket connection with its identity and a write lock.
// Broadcasts arrive from other sessions' read loops, so writes must be
// serialized per connection.
type client struct {
	conn wsConn
	mu   sync.Mutex
	info ConnInfo
}

func (c *client) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub tracks the active websocket connections per user and per joined room.
// Delivery of newMessage events is addressed by participant, not by joined
// room: a client that has the conversation closed still needs the event for
// its chat list and unread accounting. Read receipts go the other way —
// only connections with the room open render them, so messagesRead is
// scoped to joined connections.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[*client]bool
	rooms map[string]map[*client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		users: make(map[string]map[*client]bool),
		rooms: make(map[string]map[*client]bool),
	}
}

// Add registers a connection for its user.
func (h *Hub) Add(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.users[cl.info.UserID]; !ok {
		h.users[cl.info.UserID] = make(map[*client]bool)
	}
	h.users[cl.info.UserID][cl] = true
}

// Remove drops a connection from its user and from every joined room.
func (h *Hub) Remove(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.users[cl.info.UserID]; ok {
		delete(conns, cl)
		if len(conns) == 0 {
			delete(h.users, cl.info.UserID)
		}
	}
	for roomID, conns := range h.rooms {
		delete(conns, cl)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// JoinRoom marks the connection as having the room open.
func (h *Hub) JoinRoom(roomID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*client]bool)
	}
	h.rooms[roomID][cl] = true
}

// LeaveRoom detaches the connection from the room.
func (h *Hub) LeaveRoom(roomID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[roomID]; ok {
		delete(conns, cl)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// participantClients returns every connection belonging to either user,
// deduplicated. The sender's own connections are included: self-delivery of
// newMessage is how optimistic entries get confirmed.
func (h *Hub) participantClients(userA, userB string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[*client]bool)
	var list []*client
	for _, userID := range []string{userA, userB} {
		for cl := range h.users[userID] {
			if !seen[cl] {
				seen[cl] = true
				list = append(list, cl)
			}
		}
	}
	return list
}

// BroadcastMessage delivers a newMessage event to every connection of both
// participants.
func (h *Hub) BroadcastMessage(conv models.Conversation, msg models.Message) {
	event := models.ChatEvent{Type: models.EvtNewMessage, Message: &msg}
	for _, cl := range h.participantClients(conv.UserA, conv.UserB) {
		if err := cl.writeJSON(event); err != nil {
			log.Printf("websocket write error: %v", err)
			cl.conn.Close()
			h.Remove(cl)
			h.publishWSError(conv.RoomID, cl, err)
			continue
		}
		observability.IncMessageDelivered()
	}
}

// roomClients returns the connections that currently have the room open.
func (h *Hub) roomClients(roomID string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := make([]*client, 0, len(h.rooms[roomID]))
	for cl := range h.rooms[roomID] {
		list = append(list, cl)
	}
	return list
}

// BroadcastRead tells every connection with the room open that the reader
// caught up.
func (h *Hub) BroadcastRead(conv models.Conversation, readerID string) {
	event := models.ChatEvent{Type: models.EvtMessagesRead, RoomID: conv.RoomID, ReaderID: readerID}
	for _, cl := range h.roomClients(conv.RoomID) {
		if err := cl.writeJSON(event); err != nil {
			log.Printf("websocket write error: %v", err)
			cl.conn.Close()
			h.Remove(cl)
			h.publishWSError(conv.RoomID, cl, err)
		}
	}
}

func (h *Hub) publishWSError(roomID string, cl *client, err error) {
	info := cl.info
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"room_id":     roomID,
			"event":       observability.WSEventError,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), observability.WSRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: observability.WSEventError,
		Payload:   payload,
	}, headers)
	observability.IncWSEvent(observability.WSEventError)
}
