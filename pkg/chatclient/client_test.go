package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"alumni-messaging/internal/room"
)

type testCommand struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload"`
}

// fakeServer emulates the messaging service: the REST seed endpoints plus a
// websocket that acks commands and echoes sent messages back with a
// server-assigned id.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu            sync.Mutex
	conn          *websocket.Conn
	nextID        int
	unread        map[string]int
	conversations []Correspondent
	history       map[string][]Message

	rejectAuth   bool
	ackError     string
	suppressAck  bool
	historyDelay map[string]time.Duration

	commands chan testCommand
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{
		t:            t,
		unread:       map[string]int{},
		history:      map[string][]Message{},
		historyDelay: map[string]time.Duration{},
		commands:     make(chan testCommand, 32),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", fs.handleWS)
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		writeJSONResponse(w, map[string]any{"conversations": fs.conversations})
	})
	mux.HandleFunc("/unread", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		writeJSONResponse(w, map[string]any{"unread": fs.unread})
	})
	mux.HandleFunc("/messages/", func(w http.ResponseWriter, r *http.Request) {
		peer := strings.TrimPrefix(r.URL.Path, "/messages/")
		fs.mu.Lock()
		delay := fs.historyDelay[peer]
		msgs := fs.history[peer]
		fs.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if msgs == nil {
			msgs = []Message{}
		}
		writeJSONResponse(w, map[string]any{
			"roomId":   room.Resolve("u1", peer),
			"messages": msgs,
		})
	})

	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.srv.Close)
	return fs
}

func writeJSONResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (fs *fakeServer) handleWS(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	reject := fs.rejectAuth
	fs.mu.Unlock()
	if reject {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	fs.mu.Lock()
	fs.conn = conn
	fs.mu.Unlock()

	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd testCommand
		if json.Unmarshal(data, &cmd) != nil {
			continue
		}
		fs.commands <- cmd
		fs.dispatch(ctx, conn, cmd)
	}
}

func (fs *fakeServer) dispatch(ctx context.Context, conn *websocket.Conn, cmd testCommand) {
	switch cmd.Type {
	case cmdSendMessage:
		var p sendMessagePayload
		json.Unmarshal(cmd.Payload, &p)

		fs.mu.Lock()
		suppress := fs.suppressAck
		ackErr := fs.ackError
		fs.nextID++
		id := fs.nextID
		fs.mu.Unlock()

		if suppress {
			return
		}
		fs.writeEvent(ctx, conn, serverEvent{Type: evtAck, RequestID: cmd.RequestID, Error: ackErr})
		if ackErr != "" {
			return
		}
		fs.writeEvent(ctx, conn, serverEvent{Type: evtNewMessage, Message: &Message{
			ID:          id,
			TempID:      p.TempID,
			RoomID:      room.Resolve("u1", p.To),
			SenderID:    "u1",
			RecipientID: p.To,
			Content:     p.Content,
			CreatedAt:   time.Now(),
		}})
	case cmdJoinRoom, cmdLeaveRoom, cmdMarkRead:
		if cmd.RequestID != "" {
			fs.writeEvent(ctx, conn, serverEvent{Type: evtAck, RequestID: cmd.RequestID})
		}
	}
}

func (fs *fakeServer) writeEvent(ctx context.Context, conn *websocket.Conn, evt serverEvent) {
	data, err := json.Marshal(evt)
	require.NoError(fs.t, err)
	conn.Write(ctx, websocket.MessageText, data)
}

// push delivers a server-initiated event over the live connection.
func (fs *fakeServer) push(evt serverEvent) {
	fs.mu.Lock()
	conn := fs.conn
	fs.mu.Unlock()
	require.NotNil(fs.t, conn, "no websocket connection")
	fs.writeEvent(context.Background(), conn, evt)
}

func (fs *fakeServer) dropConnection() {
	fs.mu.Lock()
	conn := fs.conn
	fs.conn = nil
	fs.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusGoingAway, "server restart")
	}
}

func (fs *fakeServer) awaitCommand(typ string) testCommand {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case cmd := <-fs.commands:
			if cmd.Type == typ {
				return cmd
			}
		case <-deadline:
			fs.t.Fatalf("timed out waiting for %s command", typ)
			return testCommand{}
		}
	}
}

func newTestClient(fs *fakeServer) *Client {
	return NewClient(Config{
		ServerURL:  fs.srv.URL,
		AckTimeout: time.Second,
	})
}

func connect(t *testing.T, c *Client) {
	t.Helper()
	require.NoError(t, c.Connect(context.Background(), "u1", "token-u1"))
	t.Cleanup(c.Disconnect)
}

func TestClientConnectAuthRejected(t *testing.T) {
	fs := newFakeServer(t)
	fs.rejectAuth = true
	c := newTestClient(fs)

	err := c.Connect(context.Background(), "u1", "bad-token")
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClientConnectSeedsStateFromServer(t *testing.T) {
	fs := newFakeServer(t)
	last := time.Now()
	fs.conversations = []Correspondent{
		{RoomID: "u1#u2", PeerID: "u2", LastMessageAt: &last},
	}
	fs.unread = map[string]int{"u1#u2": 3}

	c := newTestClient(fs)
	connect(t, c)

	assert.Equal(t, StateConnected, c.State())
	require.Len(t, c.ChatList(), 1)
	assert.Equal(t, "u2", c.ChatList()[0].PeerID)
	assert.Equal(t, 3, c.UnreadFor("u1#u2"))
}

func TestClientSendConfirmedProducesSingleEntry(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs)
	connect(t, c)

	tempID, err := c.Send(context.Background(), "u2", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, tempID)

	require.Eventually(t, func() bool {
		msgs := c.Timeline("u1#u2")
		return len(msgs) == 1 && msgs[0].DeliveryState == DeliveryConfirmed
	}, 2*time.Second, 10*time.Millisecond)

	msgs := c.Timeline("u1#u2")
	assert.NotZero(t, msgs[0].ID)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestClientSendRejectedRollsBack(t *testing.T) {
	fs := newFakeServer(t)
	fs.ackError = "recipient not found"
	c := newTestClient(fs)
	connect(t, c)

	var mu sync.Mutex
	var failedTempID string
	var failedReason error
	c.OnSendFailed(func(roomID, tempID string, reason error) {
		mu.Lock()
		failedTempID = tempID
		failedReason = reason
		mu.Unlock()
	})

	tempID, err := c.Send(context.Background(), "u2", "hello")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failedTempID == tempID
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.EqualError(t, failedReason, "recipient not found")
	mu.Unlock()
	assert.Empty(t, c.Timeline("u1#u2"))
}

func TestClientSendAckTimeoutMarksFailed(t *testing.T) {
	fs := newFakeServer(t)
	fs.suppressAck = true
	c := NewClient(Config{ServerURL: fs.srv.URL, AckTimeout: 50 * time.Millisecond})
	connect(t, c)

	var mu sync.Mutex
	var failedReason error
	c.OnSendFailed(func(roomID, tempID string, reason error) {
		mu.Lock()
		failedReason = reason
		mu.Unlock()
	})

	_, err := c.Send(context.Background(), "u2", "hello")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := c.Timeline("u1#u2")
		return len(msgs) == 1 && msgs[0].DeliveryState == DeliveryFailed
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.ErrorIs(t, failedReason, ErrAckTimeout)
	mu.Unlock()
}

func TestClientSendFailsFastWhenDisconnected(t *testing.T) {
	c := NewClient(Config{ServerURL: "http://localhost:0"})

	_, err := c.Send(context.Background(), "u2", "hello")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClientSendRejectsEmptyContent(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs)
	connect(t, c)

	_, err := c.Send(context.Background(), "u2", "   ")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestClientOpenRoomLoadsHistoryAndMarksRead(t *testing.T) {
	fs := newFakeServer(t)
	fs.history["u2"] = []Message{
		{ID: 1, RoomID: "u1#u2", SenderID: "u2", RecipientID: "u1", Content: "hi", CreatedAt: time.Now().Add(-time.Minute)},
		{ID: 2, RoomID: "u1#u2", SenderID: "u1", RecipientID: "u2", Content: "hey", CreatedAt: time.Now()},
	}
	fs.unread = map[string]int{"u1#u2": 1}

	c := newTestClient(fs)
	connect(t, c)
	require.Equal(t, 1, c.UnreadFor("u1#u2"))

	require.NoError(t, c.OpenRoom(context.Background(), "u2"))

	assert.Equal(t, "u1#u2", c.ActiveRoom())
	assert.Len(t, c.Timeline("u1#u2"), 2)
	assert.Equal(t, 0, c.UnreadFor("u1#u2"))

	fs.awaitCommand(cmdJoinRoom)
	cmd := fs.awaitCommand(cmdMarkRead)
	var p markReadPayload
	require.NoError(t, json.Unmarshal(cmd.Payload, &p))
	assert.Equal(t, "u1#u2", p.RoomID)
}

func TestClientIncomingAccumulatesUnreadUntilOpened(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs)
	connect(t, c)

	for i := 1; i <= 3; i++ {
		fs.push(serverEvent{Type: evtNewMessage, Message: &Message{
			ID: i, RoomID: "u1#u2", SenderID: "u2", RecipientID: "u1",
			Content: "ping", CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}})
	}

	require.Eventually(t, func() bool {
		return c.UnreadFor("u1#u2") == 3
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.OpenRoom(context.Background(), "u2"))
	assert.Equal(t, 0, c.UnreadFor("u1#u2"))
}

func TestClientIncomingForActiveRoomStaysRead(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs)
	connect(t, c)
	require.NoError(t, c.OpenRoom(context.Background(), "u2"))
	fs.awaitCommand(cmdMarkRead)

	fs.push(serverEvent{Type: evtNewMessage, Message: &Message{
		ID: 10, RoomID: "u1#u2", SenderID: "u2", RecipientID: "u1",
		Content: "hi", CreatedAt: time.Now(),
	}})

	// The open room reads the message on arrival and tells the server.
	cmd := fs.awaitCommand(cmdMarkRead)
	var p markReadPayload
	require.NoError(t, json.Unmarshal(cmd.Payload, &p))
	assert.Equal(t, "u1#u2", p.RoomID)
	assert.Equal(t, 0, c.UnreadFor("u1#u2"))
	assert.Len(t, c.Timeline("u1#u2"), 1)
}

func TestClientDuplicateDeliveryIsIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs)
	connect(t, c)

	msg := &Message{
		ID: 5, RoomID: "u1#u2", SenderID: "u2", RecipientID: "u1",
		Content: "once", CreatedAt: time.Now(),
	}
	fs.push(serverEvent{Type: evtNewMessage, Message: msg})
	fs.push(serverEvent{Type: evtNewMessage, Message: msg})
	fs.push(serverEvent{Type: evtNewMessage, Message: msg})

	require.Eventually(t, func() bool {
		return len(c.Timeline("u1#u2")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, c.Timeline("u1#u2"), 1)
	assert.Equal(t, 1, c.UnreadFor("u1#u2"))
}

func TestClientOpenRoomSupersededByNewerOpen(t *testing.T) {
	fs := newFakeServer(t)
	fs.historyDelay["slow"] = 200 * time.Millisecond
	fs.history["slow"] = []Message{
		{ID: 1, RoomID: room.Resolve("u1", "slow"), SenderID: "slow", RecipientID: "u1", Content: "old", CreatedAt: time.Now()},
	}

	c := newTestClient(fs)
	connect(t, c)

	errCh := make(chan error, 1)
	go func() { errCh <- c.OpenRoom(context.Background(), "slow") }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, c.OpenRoom(context.Background(), "u2"))

	assert.ErrorIs(t, <-errCh, ErrRoomSuperseded)
	assert.Equal(t, "u1#u2", c.ActiveRoom())
	// The stale fetch must not leak into the superseding room's timeline.
	assert.Empty(t, c.Timeline("u1#u2"))
}

func TestClientCloseRoomInvalidatesInFlightOpen(t *testing.T) {
	fs := newFakeServer(t)
	fs.historyDelay["slow"] = 200 * time.Millisecond
	slowRoom := room.Resolve("u1", "slow")
	fs.history["slow"] = []Message{
		{ID: 1, RoomID: slowRoom, SenderID: "slow", RecipientID: "u1", Content: "old", CreatedAt: time.Now()},
	}
	fs.unread = map[string]int{slowRoom: 2}

	c := newTestClient(fs)
	connect(t, c)
	require.Equal(t, 2, c.UnreadFor(slowRoom))

	errCh := make(chan error, 1)
	go func() { errCh <- c.OpenRoom(context.Background(), "slow") }()
	time.Sleep(50 * time.Millisecond)

	c.CloseRoom()

	assert.ErrorIs(t, <-errCh, ErrRoomSuperseded)
	assert.Empty(t, c.ActiveRoom())
	// The abandoned fetch must not mark the room read behind the user's
	// back.
	assert.Equal(t, 2, c.UnreadFor(slowRoom))
}

func TestClientReconnectResyncsFromServer(t *testing.T) {
	fs := newFakeServer(t)
	fs.unread = map[string]int{"u1#u2": 1}

	c := NewClient(Config{
		ServerURL:          fs.srv.URL,
		AutoReconnect:      true,
		ReconnectBaseDelay: 20 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
	})
	connect(t, c)
	require.Equal(t, 1, c.UnreadFor("u1#u2"))

	// Server-side truth changes while the client is offline.
	fs.mu.Lock()
	fs.unread = map[string]int{"u1#u2": 4}
	fs.mu.Unlock()
	fs.dropConnection()

	require.Eventually(t, func() bool {
		return c.State() == StateConnected && c.UnreadFor("u1#u2") == 4
	}, 5*time.Second, 20*time.Millisecond)
}

func TestClientReconnectReportsRoomsClearedByReseed(t *testing.T) {
	fs := newFakeServer(t)
	fs.unread = map[string]int{"u1#u2": 2, "u1#u3": 1}

	c := NewClient(Config{
		ServerURL:          fs.srv.URL,
		AutoReconnect:      true,
		ReconnectBaseDelay: 20 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
	})

	var mu sync.Mutex
	latest := map[string]int{}
	c.OnUnread(func(roomID string, count int) {
		mu.Lock()
		latest[roomID] = count
		mu.Unlock()
	})
	connect(t, c)

	// The room was read elsewhere while this client is offline.
	fs.mu.Lock()
	fs.unread = map[string]int{"u1#u3": 1}
	fs.mu.Unlock()
	fs.dropConnection()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return c.State() == StateConnected && latest["u1#u2"] == 0 && latest["u1#u3"] == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, c.UnreadFor("u1#u2"))
}
