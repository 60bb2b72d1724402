package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"alumni-messaging/internal/auth"
	"alumni-messaging/internal/models"
	"alumni-messaging/internal/observability"
	"alumni-messaging/internal/repositories"
	"alumni-messaging/internal/room"
)

// SessionHandler upgrades websocket connections and runs the command loop
// for one authenticated session.
type SessionHandler struct {
	hub       *Hub
	convRepo  repositories.ConversationRepository
	msgRepo   repositories.MessageRepository
	validator auth.Validator
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(hub *Hub, convRepo repositories.ConversationRepository, msgRepo repositories.MessageRepository, validator auth.Validator) *SessionHandler {
	return &SessionHandler{hub: hub, convRepo: convRepo, msgRepo: msgRepo, validator: validator}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the handshake, upgrades the connection and starts
// the session's read loop.
func (h *SessionHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("alumni-messaging/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := observability.TokenFromRequest(c.Request)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	userID, err := h.validator.ValidateToken(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	cl := &client{conn: conn, info: info}
	h.hub.Add(cl)

	observability.IncWSActive()
	observability.IncWSEvent(observability.WSEventConnect)
	publishLifecycle(context.Background(), observability.WSEventConnect, info, "")

	go h.readLoop(cl)
}

func (h *SessionHandler) readLoop(cl *client) {
	ctx := context.Background()
	var closeReason string
	defer func() {
		h.hub.Remove(cl)
		observability.DecWSActive()
		observability.IncWSEvent(observability.WSEventDisconnect)
		publishLifecycle(ctx, observability.WSEventDisconnect, cl.info, closeReason)
		cl.conn.Close()
	}()

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent(observability.WSEventError)
				publishLifecycle(ctx, observability.WSEventError, cl.info, closeReason)
			}
			return
		}

		var cmd models.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		h.dispatch(ctx, cl, cmd)
	}
}

func (h *SessionHandler) dispatch(ctx context.Context, cl *client, cmd models.Command) {
	userID := cl.info.UserID

	switch cmd.Type {
	case models.CmdJoinRoom:
		var p models.JoinRoomPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil || p.TargetUserID == "" {
			h.ack(cl, cmd.RequestID, "invalid joinRoom payload")
			return
		}
		h.hub.JoinRoom(room.Resolve(userID, p.TargetUserID), cl)
		h.ack(cl, cmd.RequestID, "")

	case models.CmdLeaveRoom:
		var p models.LeaveRoomPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil || !room.Contains(p.RoomID, userID) {
			h.ack(cl, cmd.RequestID, "invalid leaveRoom payload")
			return
		}
		h.hub.LeaveRoom(p.RoomID, cl)
		h.ack(cl, cmd.RequestID, "")

	case models.CmdSendMessage:
		var p models.SendMessagePayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			h.ack(cl, cmd.RequestID, "invalid sendMessage payload")
			return
		}
		if strings.TrimSpace(p.Content) == "" {
			h.ack(cl, cmd.RequestID, "empty message")
			return
		}
		if p.To == "" || p.To == userID {
			h.ack(cl, cmd.RequestID, "invalid recipient")
			return
		}

		conv, err := h.convRepo.CreateOrGet(ctx, userID, p.To)
		if err != nil {
			h.ack(cl, cmd.RequestID, "could not resolve conversation")
			return
		}
		msg, err := h.msgRepo.Create(ctx, conv.RoomID, userID, p.To, p.Content)
		if err != nil {
			h.ack(cl, cmd.RequestID, "could not store message")
			return
		}
		// Echo the client's temp id so the sender can reconcile its
		// optimistic entry by exact key.
		msg.TempID = p.TempID

		h.ack(cl, cmd.RequestID, "")
		h.hub.BroadcastMessage(conv, msg)

	case models.CmdMarkRead:
		var p models.MarkReadPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil || !room.Contains(p.RoomID, userID) {
			h.ack(cl, cmd.RequestID, "invalid markRead payload")
			return
		}
		conv, err := h.convRepo.Get(ctx, p.RoomID)
		if err != nil {
			h.ack(cl, cmd.RequestID, "conversation not found")
			return
		}
		if err := h.msgRepo.MarkRead(ctx, p.RoomID, userID); err != nil {
			h.ack(cl, cmd.RequestID, "could not mark read")
			return
		}
		h.ack(cl, cmd.RequestID, "")
		h.hub.BroadcastRead(conv, userID)
	}
}

func (h *SessionHandler) ack(cl *client, requestID, errMsg string) {
	if requestID == "" {
		return
	}
	_ = cl.writeJSON(models.ChatEvent{Type: models.EvtAck, RequestID: requestID, Error: errMsg})
}

func publishLifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	_ = observability.PublishEvent(ctx, observability.WSRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
