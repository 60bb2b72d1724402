package repositories

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"alumni-messaging/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	Create(ctx context.Context, roomID string, senderID string, recipientID string, content string) (models.Message, error)
	HistoryForUser(ctx context.Context, roomID string, userID string) ([]models.Message, error)
	UnreadCounts(ctx context.Context, userID string) (map[string]int, error)
	MarkRead(ctx context.Context, roomID string, userID string) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create stores a message and advances the conversation's last-message
// pointer in the same transaction.
func (r *MessageRepo) Create(ctx context.Context, roomID string, senderID string, recipientID string, content string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var msg models.Message
	if err := tx.QueryRowxContext(ctx, `INSERT INTO messages (room_id, sender_id, recipient_id, content) VALUES ($1, $2, $3, $4)
        RETURNING id, room_id, sender_id, recipient_id, content, created_at`, roomID, senderID, recipientID, content).
		StructScan(&msg); err != nil {
		return models.Message{}, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET last_message_id=$1, last_message_at=$2 WHERE room_id=$3`, msg.ID, msg.CreatedAt, roomID); err != nil {
		return models.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// HistoryForUser returns the room's messages in ascending order, excluding
// anything older than the user's deletion watermark.
func (r *MessageRepo) HistoryForUser(ctx context.Context, roomID string, userID string) ([]models.Message, error) {
	query := `SELECT m.id, m.room_id, m.sender_id, m.recipient_id, m.content, m.created_at
        FROM messages m
        LEFT JOIN conversation_visibility cv ON cv.room_id = m.room_id AND cv.user_id=$2
        WHERE m.room_id=$1 AND (cv.deleted_at IS NULL OR m.created_at > cv.deleted_at)
        ORDER BY m.created_at ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, roomID, userID)
	return msgs, err
}

// UnreadCounts computes every room's unread count for the user in one
// grouped query: messages addressed to the user that are newer than the
// user's read watermark for that room.
func (r *MessageRepo) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	query := `SELECT m.room_id, COUNT(*) AS unread
        FROM messages m
        LEFT JOIN conversation_reads cr ON cr.room_id = m.room_id AND cr.user_id=$1
        WHERE m.recipient_id=$1 AND (cr.last_read_at IS NULL OR m.created_at > cr.last_read_at)
        GROUP BY m.room_id`
	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var roomID string
		var unread int
		if err := rows.Scan(&roomID, &unread); err != nil {
			return nil, err
		}
		counts[roomID] = unread
	}
	return counts, rows.Err()
}

// MarkRead advances the user's read watermark for the room to now.
func (r *MessageRepo) MarkRead(ctx context.Context, roomID string, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_reads (room_id, user_id, last_read_at) VALUES ($1, $2, NOW())
        ON CONFLICT (room_id, user_id) DO UPDATE SET last_read_at = NOW()`, roomID, userID)
	return err
}
