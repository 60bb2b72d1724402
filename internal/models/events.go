package models

import "encoding/json"

// Command is a client-to-server frame on the websocket transport.
type Command struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Command types understood by the server.
const (
	CmdJoinRoom    = "joinRoom"
	CmdLeaveRoom   = "leaveRoom"
	CmdSendMessage = "sendMessage"
	CmdMarkRead    = "markRead"
)

// Event types pushed by the server.
const (
	EvtAck          = "ack"
	EvtNewMessage   = "newMessage"
	EvtMessagesRead = "messagesRead"
)

type JoinRoomPayload struct {
	TargetUserID string `json:"targetUserId"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

type SendMessagePayload struct {
	To      string `json:"to"`
	Content string `json:"content"`
	TempID  string `json:"tempId,omitempty"`
}

type MarkReadPayload struct {
	RoomID string `json:"roomId"`
}

// ChatEvent is broadcast through websockets.
type ChatEvent struct {
	Type      string   `json:"type"`
	RequestID string   `json:"requestId,omitempty"`
	Error     string   `json:"error,omitempty"`
	Message   *Message `json:"message,omitempty"`
	RoomID    string   `json:"roomId,omitempty"`
	ReaderID  string   `json:"readerId,omitempty"`
}
