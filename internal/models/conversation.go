package models

import "time"

// Conversation is the persisted record of a one-to-one exchange. The room id
// derived from the participant pair is its natural key, so a second attempt
// to start the same conversation always lands on the existing row.
type Conversation struct {
	ID            int        `db:"id" json:"-"`
	RoomID        string     `db:"room_id" json:"roomId"`
	UserA         string     `db:"user_a" json:"userA"`
	UserB         string     `db:"user_b" json:"userB"`
	LastMessageID *int       `db:"last_message_id" json:"-"`
	LastMessageAt *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
}

// Correspondent is the API view of a conversation for one participant:
// the peer, the last message, and whether the caller pinned the thread.
type Correspondent struct {
	RoomID        string     `json:"roomId"`
	PeerID        string     `json:"peerId"`
	LastMessage   *Message   `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	Pinned        bool       `json:"pinned"`
	Unread        int        `json:"unread"`
}

// Peer returns the other participant relative to userID.
func (c Conversation) Peer(userID string) string {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return c.UserA == userID || c.UserB == userID
}
