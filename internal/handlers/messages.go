package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"alumni-messaging/internal/models"
	"alumni-messaging/internal/repositories"
	"alumni-messaging/internal/room"
	"alumni-messaging/internal/telemetry"
)

// MessageHandler serves the REST surface of the messaging subsystem:
// correspondent summaries, per-pair history, bulk unread counts and
// per-user conversation state (pin, hide).
type MessageHandler struct {
	convRepo repositories.ConversationRepository
	msgRepo  repositories.MessageRepository
	emitter  *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(convRepo repositories.ConversationRepository, msgRepo repositories.MessageRepository, emitter *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{convRepo: convRepo, msgRepo: msgRepo, emitter: emitter}
}

// ListCorrespondents returns the authenticated user's conversations with
// last message and unread count, pinned first then by recency.
func (h *MessageHandler) ListCorrespondents(c *gin.Context) {
	userID := c.GetString("userID")

	convs, err := h.convRepo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	counts, err := h.msgRepo.UnreadCounts(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread counts"})
		return
	}
	for i := range convs {
		convs[i].Unread = counts[convs[i].RoomID]
	}

	if convs == nil {
		convs = []models.Correspondent{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// UnreadCounts returns every room's unread count for the user in one call.
func (h *MessageHandler) UnreadCounts(c *gin.Context) {
	userID := c.GetString("userID")

	counts, err := h.msgRepo.UnreadCounts(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread counts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": counts})
}

// GetHistory returns the ordered message history between the caller and the
// given user. A pair that never exchanged messages yields an empty list,
// not an error.
func (h *MessageHandler) GetHistory(c *gin.Context) {
	userID := c.GetString("userID")
	peerID := c.Param("user_id")
	if peerID == "" || peerID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer id"})
		return
	}

	roomID := room.Resolve(userID, peerID)
	msgs, err := h.msgRepo.HistoryForUser(c.Request.Context(), roomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "messages": msgs})
}

// PinConversation pins the thread with the given user for the caller.
func (h *MessageHandler) PinConversation(c *gin.Context) {
	h.withConversation(c, func(userID, roomID string) error {
		return h.convRepo.Pin(c.Request.Context(), roomID, userID)
	})
}

// UnpinConversation removes the caller's pin.
func (h *MessageHandler) UnpinConversation(c *gin.Context) {
	h.withConversation(c, func(userID, roomID string) error {
		return h.convRepo.Unpin(c.Request.Context(), roomID, userID)
	})
}

// HideConversation soft-hides the thread for the caller only. The peer
// keeps the conversation; a new message makes it visible again.
func (h *MessageHandler) HideConversation(c *gin.Context) {
	h.withConversation(c, func(userID, roomID string) error {
		if err := h.convRepo.HideForUser(c.Request.Context(), roomID, userID); err != nil {
			return err
		}
		h.emitter.Emit(c.Request.Context(), "INFO", "conversation_hidden", roomID, requestIDFromContext(c), userIDFromContext(c))
		return nil
	})
}

func (h *MessageHandler) withConversation(c *gin.Context, fn func(userID, roomID string) error) {
	userID := c.GetString("userID")
	peerID := c.Param("user_id")
	if peerID == "" || peerID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer id"})
		return
	}

	roomID := room.Resolve(userID, peerID)
	if _, err := h.convRepo.Get(c.Request.Context(), roomID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}

	if err := fn(userID, roomID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update conversation"})
		return
	}
	c.Status(http.StatusNoContent)
}
