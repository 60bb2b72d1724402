package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"alumni-messaging/internal/mocks"
	"alumni-messaging/internal/models"
)

func setupMessagesRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})
	r.GET("/messages", handler.ListCorrespondents)
	r.GET("/unread", handler.UnreadCounts)
	r.GET("/messages/:user_id", handler.GetHistory)
	r.POST("/messages/:user_id/pin", handler.PinConversation)
	r.DELETE("/messages/:user_id/pin", handler.UnpinConversation)
	r.DELETE("/messages/:user_id", handler.HideConversation)
	return r
}

func TestListCorrespondentsSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, msgRepo, nil)
	router := setupMessagesRouter(handler)

	now := time.Now()
	convRepo.On("ListForUser", mock.Anything, "u1").Return([]models.Correspondent{
		{RoomID: "u1#u2", PeerID: "u2", LastMessageAt: &now},
	}, nil).Once()
	msgRepo.On("UnreadCounts", mock.Anything, "u1").Return(map[string]int{"u1#u2": 3}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []models.Correspondent `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, 3, resp.Conversations[0].Unread)
	assert.Equal(t, "u2", resp.Conversations[0].PeerID)

	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
}

func TestListCorrespondentsRepoError(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewMessageHandler(convRepo, new(mocks.MessageRepositoryMock), nil)
	router := setupMessagesRouter(handler)

	convRepo.On("ListForUser", mock.Anything, "u1").Return(([]models.Correspondent)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestUnreadCountsSuccess(t *testing.T) {
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(new(mocks.ConversationRepositoryMock), msgRepo, nil)
	router := setupMessagesRouter(handler)

	msgRepo.On("UnreadCounts", mock.Anything, "u1").Return(map[string]int{"u1#u2": 2, "u1#u3": 1}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/unread", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Unread map[string]int `json:"unread"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Unread["u1#u2"])
	msgRepo.AssertExpectations(t)
}

func TestGetHistorySuccess(t *testing.T) {
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(new(mocks.ConversationRepositoryMock), msgRepo, nil)
	router := setupMessagesRouter(handler)

	msgRepo.On("HistoryForUser", mock.Anything, "u1#u2", "u1").Return([]models.Message{
		{ID: 1, RoomID: "u1#u2", SenderID: "u2", RecipientID: "u1", Content: "hey"},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/u2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	msgRepo.AssertExpectations(t)
}

func TestGetHistoryEmptyPair(t *testing.T) {
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(new(mocks.ConversationRepositoryMock), msgRepo, nil)
	router := setupMessagesRouter(handler)

	msgRepo.On("HistoryForUser", mock.Anything, "u1#u9", "u1").Return(([]models.Message)(nil), nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/u9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotNil(t, resp.Messages)
	assert.Empty(t, resp.Messages)
	msgRepo.AssertExpectations(t)
}

func TestGetHistorySelf(t *testing.T) {
	handler := NewMessageHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), nil)
	router := setupMessagesRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/messages/u1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPinConversationSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewMessageHandler(convRepo, new(mocks.MessageRepositoryMock), nil)
	router := setupMessagesRouter(handler)

	convRepo.On("Get", mock.Anything, "u1#u2").Return(models.Conversation{RoomID: "u1#u2", UserA: "u1", UserB: "u2"}, nil).Once()
	convRepo.On("Pin", mock.Anything, "u1#u2", "u1").Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/messages/u2/pin", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestHideConversationNotFound(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewMessageHandler(convRepo, new(mocks.MessageRepositoryMock), nil)
	router := setupMessagesRouter(handler)

	convRepo.On("Get", mock.Anything, "u1#u2").Return(models.Conversation{}, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodDelete, "/messages/u2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestHideConversationSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewMessageHandler(convRepo, new(mocks.MessageRepositoryMock), nil)
	router := setupMessagesRouter(handler)

	convRepo.On("Get", mock.Anything, "u1#u2").Return(models.Conversation{RoomID: "u1#u2", UserA: "u1", UserB: "u2"}, nil).Once()
	convRepo.On("HideForUser", mock.Anything, "u1#u2", "u1").Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/messages/u2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	convRepo.AssertExpectations(t)
}
