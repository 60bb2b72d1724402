package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"alumni-messaging/internal/models"
	"alumni-messaging/internal/room"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	CreateOrGet(ctx context.Context, userID string, peerID string) (models.Conversation, error)
	Get(ctx context.Context, roomID string) (models.Conversation, error)
	IsParticipant(ctx context.Context, roomID string, userID string) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]models.Correspondent, error)
	Pin(ctx context.Context, roomID string, userID string) error
	Unpin(ctx context.Context, roomID string, userID string) error
	HideForUser(ctx context.Context, roomID string, userID string) error
	UnhideForUser(ctx context.Context, roomID string, userID string) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CreateOrGet creates the conversation between two users if it does not
// already exist. The room id is the natural key, so the same pair always
// resolves to the same row regardless of who initiates.
func (r *ConversationRepo) CreateOrGet(ctx context.Context, userID string, peerID string) (models.Conversation, error) {
	if userID == peerID {
		return models.Conversation{}, errors.New("cannot create conversation with self")
	}
	roomID := room.Resolve(userID, peerID)
	userA, userB, _ := room.Participants(roomID)

	var conv models.Conversation
	query := `SELECT id, room_id, user_a, user_b, last_message_id, last_message_at, created_at FROM conversations WHERE room_id=$1`
	if err := r.db.GetContext(ctx, &conv, query, roomID); err != nil {
		if err != sql.ErrNoRows {
			return models.Conversation{}, err
		}
		err := r.db.QueryRowxContext(ctx, `INSERT INTO conversations (room_id, user_a, user_b) VALUES ($1, $2, $3)
            ON CONFLICT (room_id) DO UPDATE SET room_id = EXCLUDED.room_id
            RETURNING id, room_id, user_a, user_b, last_message_id, last_message_at, created_at`, roomID, userA, userB).
			StructScan(&conv)
		if err != nil {
			return models.Conversation{}, err
		}
	}

	if err := r.UnhideForUser(ctx, conv.RoomID, userID); err != nil {
		return models.Conversation{}, err
	}
	if err := r.UnhideForUser(ctx, conv.RoomID, peerID); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// Get fetches a conversation by room id.
func (r *ConversationRepo) Get(ctx context.Context, roomID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, room_id, user_a, user_b, last_message_id, last_message_at, created_at FROM conversations WHERE room_id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, roomID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversations WHERE room_id=$1 AND (user_a=$2 OR user_b=$2))`, roomID, userID)
	return exists, err
}

type correspondentRow struct {
	models.Conversation
	Pinned bool `db:"pinned"`
}

// ListForUser returns conversations visible to the user, pinned threads
// first, then most recent activity.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]models.Correspondent, error) {
	query := `SELECT c.id, c.room_id, c.user_a, c.user_b, c.last_message_id, c.last_message_at, c.created_at,
            (p.user_id IS NOT NULL) AS pinned
        FROM conversations c
        LEFT JOIN conversation_visibility cv ON cv.room_id = c.room_id AND cv.user_id=$1
        LEFT JOIN conversation_pins p ON p.room_id = c.room_id AND p.user_id=$1
        WHERE (c.user_a=$1 OR c.user_b=$1) AND (cv.hidden IS NULL OR cv.hidden = FALSE)
        ORDER BY (p.user_id IS NOT NULL) DESC, c.last_message_at DESC NULLS LAST, c.created_at DESC`
	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Correspondent
	var lastIDs []int64
	for rows.Next() {
		var row correspondentRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		result = append(result, models.Correspondent{
			RoomID:        row.RoomID,
			PeerID:        row.Conversation.Peer(userID),
			LastMessageAt: row.LastMessageAt,
			Pinned:        row.Pinned,
		})
		if row.LastMessageID != nil {
			lastIDs = append(lastIDs, int64(*row.LastMessageID))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(lastIDs) == 0 {
		return result, nil
	}

	var lastMsgs []models.Message
	if err := r.db.SelectContext(ctx, &lastMsgs, `SELECT id, room_id, sender_id, recipient_id, content, created_at FROM messages WHERE id = ANY($1)`, pq.Array(lastIDs)); err != nil {
		return nil, err
	}
	byRoom := make(map[string]models.Message, len(lastMsgs))
	for _, m := range lastMsgs {
		byRoom[m.RoomID] = m
	}
	for i := range result {
		if m, ok := byRoom[result[i].RoomID]; ok {
			msg := m
			result[i].LastMessage = &msg
		}
	}
	return result, nil
}

// Pin marks the conversation as pinned for the user.
func (r *ConversationRepo) Pin(ctx context.Context, roomID string, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_pins (room_id, user_id) VALUES ($1, $2)
        ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID)
	return err
}

// Unpin removes the pin for the user.
func (r *ConversationRepo) Unpin(ctx context.Context, roomID string, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM conversation_pins WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	return err
}

// HideForUser marks the conversation hidden for the user and records the
// deletion time. Messages older than that watermark stay hidden for this
// user even after the thread resurfaces; the peer is unaffected.
func (r *ConversationRepo) HideForUser(ctx context.Context, roomID string, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_visibility (room_id, user_id, hidden, deleted_at) VALUES ($1, $2, TRUE, NOW())
        ON CONFLICT (room_id, user_id) DO UPDATE SET hidden = TRUE, deleted_at = NOW()`, roomID, userID)
	return err
}

// UnhideForUser clears the hidden flag but keeps the deletion watermark.
func (r *ConversationRepo) UnhideForUser(ctx context.Context, roomID string, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_visibility (room_id, user_id, hidden) VALUES ($1, $2, FALSE)
        ON CONFLICT (room_id, user_id) DO UPDATE SET hidden = FALSE`, roomID, userID)
	return err
}
