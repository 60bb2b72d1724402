package chatclient

import "time"

// DeliveryState tracks a message through the optimistic send lifecycle.
type DeliveryState string

const (
	// DeliveryPending is a local optimistic entry not yet acknowledged.
	DeliveryPending DeliveryState = "pending"
	// DeliverySent means the server acknowledged the send but the
	// confirmed echo has not been merged yet.
	DeliverySent DeliveryState = "sent"
	// DeliveryConfirmed is a server-assigned message.
	DeliveryConfirmed DeliveryState = "confirmed"
	// DeliveryFailed marks an optimistic entry whose acknowledgment
	// window expired.
	DeliveryFailed DeliveryState = "failed"
)

// Message mirrors the server's wire shape. ID is assigned by the server
// once the message is persisted; TempID identifies the optimistic entry
// that produced it and is echoed back on the newMessage broadcast.
type Message struct {
	ID            int           `json:"id"`
	TempID        string        `json:"tempId,omitempty"`
	RoomID        string        `json:"roomId"`
	SenderID      string        `json:"senderId"`
	RecipientID   string        `json:"recipientId"`
	Content       string        `json:"content"`
	CreatedAt     time.Time     `json:"createdAt"`
	DeliveryState DeliveryState `json:"-"`
}

// Correspondent is one entry of the chat list.
type Correspondent struct {
	RoomID        string     `json:"roomId"`
	PeerID        string     `json:"peerId"`
	LastMessage   *Message   `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	Pinned        bool       `json:"pinned"`
	Unread        int        `json:"unread"`
}

// command is a client-to-server websocket frame.
type command struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Payload   any    `json:"payload"`
}

// serverEvent is a server-to-client websocket frame.
type serverEvent struct {
	Type      string   `json:"type"`
	RequestID string   `json:"requestId,omitempty"`
	Error     string   `json:"error,omitempty"`
	Message   *Message `json:"message,omitempty"`
	RoomID    string   `json:"roomId,omitempty"`
	ReaderID  string   `json:"readerId,omitempty"`
}

type joinRoomPayload struct {
	TargetUserID string `json:"targetUserId"`
}

type leaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

type sendMessagePayload struct {
	To      string `json:"to"`
	Content string `json:"content"`
	TempID  string `json:"tempId,omitempty"`
}

type markReadPayload struct {
	RoomID string `json:"roomId"`
}
