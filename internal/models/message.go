package models

import "time"

// Message is a persisted chat message. TempID is the client-generated id of
// the optimistic send that produced it; it is echoed on the acknowledgment
// and on the newMessage broadcast but never stored.
type Message struct {
	ID          int       `db:"id" json:"id"`
	RoomID      string    `db:"room_id" json:"roomId"`
	SenderID    string    `db:"sender_id" json:"senderId"`
	RecipientID string    `db:"recipient_id" json:"recipientId"`
	Content     string    `db:"content" json:"content"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	TempID      string    `db:"-" json:"tempId,omitempty"`
}
