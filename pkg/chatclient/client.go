package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"alumni-messaging/internal/room"
)

const (
	cmdJoinRoom    = "joinRoom"
	cmdLeaveRoom   = "leaveRoom"
	cmdSendMessage = "sendMessage"
	cmdMarkRead    = "markRead"

	evtAck          = "ack"
	evtNewMessage   = "newMessage"
	evtMessagesRead = "messagesRead"
)

type roomState int

const (
	roomClosed roomState = iota
	roomOpening
	roomOpen
)

// Client is a one-to-one messaging session for a single user. It owns the
// websocket connection, the per-room timelines, the unread ledger and the
// chat list, and republishes server events through a single synchronous
// dispatcher so subscribers observe them in a fixed order.
//
// On every connect, including reconnects, the client refetches the chat
// list and unread counts and re-opens the active room before it starts
// consuming the event stream. Local state accumulated across a connection
// gap is never trusted.
type Client struct {
	config     *Config
	dispatcher *eventDispatcher
	recon      *reconnector

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnectionState
	intentionalClose bool
	cancelFn         context.CancelFunc

	identity   string
	credential string
	rest       *restClient

	timelines map[string]*Timeline
	ledger    *UnreadLedger
	chatList  []Correspondent

	activeRoom string
	activePeer string
	active     roomState
	fetchSeq   uint64

	pendingMu   sync.Mutex
	pendingAcks map[string]chan string
}

// NewClient builds a client from the given configuration.
func NewClient(config Config) *Client {
	config.defaults()
	return &Client{
		config:      &config,
		dispatcher:  newEventDispatcher(),
		recon:       newReconnector(&config),
		state:       StateDisconnected,
		timelines:   make(map[string]*Timeline),
		ledger:      NewUnreadLedger(),
		pendingAcks: make(map[string]chan string),
	}
}

// OnStateChange registers a handler for connection state transitions.
func (c *Client) OnStateChange(h func(ConnectionState)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onStateChange = append(c.dispatcher.onStateChange, h)
	c.dispatcher.mu.Unlock()
}

// OnMessage registers a handler for newly merged messages.
func (c *Client) OnMessage(h func(roomID string, msg Message)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onMessage = append(c.dispatcher.onMessage, h)
	c.dispatcher.mu.Unlock()
}

// OnRead registers a handler for peer read notifications.
func (c *Client) OnRead(h func(roomID, readerID string)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onRead = append(c.dispatcher.onRead, h)
	c.dispatcher.mu.Unlock()
}

// OnChatList registers a handler for chat list updates.
func (c *Client) OnChatList(h func([]Correspondent)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onChatList = append(c.dispatcher.onChatList, h)
	c.dispatcher.mu.Unlock()
}

// OnUnread registers a handler for unread count changes.
func (c *Client) OnUnread(h func(roomID string, count int)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onUnread = append(c.dispatcher.onUnread, h)
	c.dispatcher.mu.Unlock()
}

// OnSendFailed registers a handler for sends that were rejected or whose
// acknowledgment timed out.
func (c *Client) OnSendFailed(h func(roomID, tempID string, reason error)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onSendFailed = append(c.dispatcher.onSendFailed, h)
	c.dispatcher.mu.Unlock()
}

// Connect dials the messaging service as the given user and seeds local
// state from the server before the event stream starts. A rejected
// credential returns ErrAuthRejected and does not trigger reconnects.
func (c *Client) Connect(ctx context.Context, identity, credential string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.identity = identity
	c.credential = credential
	c.rest = newRESTClient(c.config, credential)
	c.intentionalClose = false
	c.state = StateConnecting
	c.mu.Unlock()
	c.dispatcher.emitStateChange(StateConnecting)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)
	conn, resp, err := websocket.Dial(ctx, wsURL(c.config.ServerURL), &websocket.DialOptions{
		HTTPClient: c.config.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.dispatcher.emitStateChange(StateDisconnected)
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return ErrAuthRejected
		}
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.cancelFn = cancel
	c.state = StateConnected
	c.mu.Unlock()
	c.recon.markConnected()
	c.dispatcher.emitStateChange(StateConnected)

	// Seed before reading: anything the socket buffers while we fetch is
	// deduplicated by the merge step once the loop starts.
	if err := c.resync(ctx); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "resync failed")
		c.mu.Lock()
		c.conn = nil
		c.cancelFn = nil
		c.state = StateDisconnected
		c.mu.Unlock()
		c.dispatcher.emitStateChange(StateDisconnected)
		return err
	}

	go c.readLoop(loopCtx, conn)
	return nil
}

// Disconnect closes the session without triggering reconnects.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentionalClose = true
	conn := c.conn
	cancel := c.cancelFn
	c.conn = nil
	c.cancelFn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	c.recon.reset()
	c.dispatcher.emitStateChange(StateDisconnected)
}

// Send queues an optimistic message to the given peer and returns its temp
// id. The entry appears in the room timeline immediately; the server
// acknowledgment, the confirmed echo, or the ack timeout moves it through
// the delivery lifecycle. Rejections surface through OnSendFailed.
func (c *Client) Send(ctx context.Context, peerID, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	tempID := uuid.NewString()
	roomID := room.Resolve(c.identity, peerID)
	c.timeline(roomID).AppendPending(Message{
		TempID:      tempID,
		RoomID:      roomID,
		SenderID:    c.identity,
		RecipientID: peerID,
		Content:     content,
		CreatedAt:   time.Now(),
	})
	c.mu.Unlock()

	ackCh := make(chan string, 1)
	c.pendingMu.Lock()
	c.pendingAcks[tempID] = ackCh
	c.pendingMu.Unlock()

	err := c.writeCommand(ctx, command{
		Type:      cmdSendMessage,
		RequestID: tempID,
		Payload:   sendMessagePayload{To: peerID, Content: content, TempID: tempID},
	})
	if err != nil {
		c.dropAck(tempID)
		c.mu.Lock()
		c.timeline(roomID).RemovePending(tempID)
		c.mu.Unlock()
		return "", err
	}

	go c.awaitAck(roomID, tempID, ackCh)
	return tempID, nil
}

func (c *Client) awaitAck(roomID, tempID string, ackCh <-chan string) {
	timer := time.NewTimer(c.config.AckTimeout)
	defer timer.Stop()

	select {
	case ackErr := <-ackCh:
		if ackErr == "" {
			c.mu.Lock()
			c.timeline(roomID).MarkSent(tempID)
			c.mu.Unlock()
			return
		}
		// A rejected send never happened; drop the optimistic entry.
		c.mu.Lock()
		c.timeline(roomID).RemovePending(tempID)
		c.mu.Unlock()
		c.dispatcher.emitSendFailed(roomID, tempID, errors.New(ackErr))
	case <-timer.C:
		c.dropAck(tempID)
		c.mu.Lock()
		failed := c.timeline(roomID).MarkFailed(tempID)
		c.mu.Unlock()
		if failed {
			c.dispatcher.emitSendFailed(roomID, tempID, ErrAckTimeout)
		}
	}
}

// OpenRoom makes the conversation with the given peer the active one:
// history is fetched, the room's unread count is cleared and a read
// notification goes out to the peer. Only the most recent OpenRoom call
// wins; an older in-flight fetch is discarded with ErrRoomSuperseded.
func (c *Client) OpenRoom(ctx context.Context, peerID string) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.fetchSeq++
	seq := c.fetchSeq
	roomID := room.Resolve(c.identity, peerID)
	c.activeRoom = roomID
	c.activePeer = peerID
	c.active = roomOpening
	rest := c.rest
	c.mu.Unlock()

	_, history, histErr := rest.history(ctx, peerID)

	c.mu.Lock()
	if c.fetchSeq != seq {
		c.mu.Unlock()
		return ErrRoomSuperseded
	}
	c.active = roomOpen
	tl := c.timeline(roomID)
	for _, m := range history {
		tl.Merge(m)
	}
	c.mu.Unlock()

	if err := c.writeCommand(ctx, command{Type: cmdJoinRoom, Payload: joinRoomPayload{TargetUserID: peerID}}); err != nil {
		return err
	}

	if histErr != nil {
		// The room still opens on whatever is cached locally, but unread
		// state stays untouched until a fetch succeeds.
		return histErr
	}

	c.clearUnread(ctx, roomID)
	return nil
}

// CloseRoom leaves the active conversation. Messages for it count as
// unread again from this point on. An OpenRoom history fetch still in
// flight is invalidated so it cannot reopen the room or touch its unread
// state after the fact.
func (c *Client) CloseRoom() {
	c.mu.Lock()
	c.fetchSeq++
	roomID := c.activeRoom
	wasOpen := c.active == roomOpen
	c.activeRoom = ""
	c.activePeer = ""
	c.active = roomClosed
	c.mu.Unlock()

	if wasOpen && roomID != "" {
		// Best effort; the server also drops membership on disconnect.
		c.writeCommand(context.Background(), command{Type: cmdLeaveRoom, Payload: leaveRoomPayload{RoomID: roomID}})
	}
}

// RefreshChatList refetches correspondent summaries from the server.
func (c *Client) RefreshChatList(ctx context.Context) error {
	c.mu.Lock()
	rest := c.rest
	c.mu.Unlock()
	if rest == nil {
		return ErrNotConnected
	}

	list, err := rest.correspondents(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.chatList = list
	c.mu.Unlock()
	c.dispatcher.emitChatList(list)
	return nil
}

// PinConversation pins the thread with the given peer in the chat list.
func (c *Client) PinConversation(ctx context.Context, peerID string) error {
	c.mu.Lock()
	rest := c.rest
	c.mu.Unlock()
	if rest == nil {
		return ErrNotConnected
	}
	if err := rest.pin(ctx, peerID); err != nil {
		return err
	}
	return c.RefreshChatList(ctx)
}

// UnpinConversation removes the pin on the thread with the given peer.
func (c *Client) UnpinConversation(ctx context.Context, peerID string) error {
	c.mu.Lock()
	rest := c.rest
	c.mu.Unlock()
	if rest == nil {
		return ErrNotConnected
	}
	if err := rest.unpin(ctx, peerID); err != nil {
		return err
	}
	return c.RefreshChatList(ctx)
}

// HideConversation hides the thread with the given peer from this user's
// chat list. The peer's view is unaffected.
func (c *Client) HideConversation(ctx context.Context, peerID string) error {
	c.mu.Lock()
	rest := c.rest
	c.mu.Unlock()
	if rest == nil {
		return ErrNotConnected
	}
	if err := rest.hide(ctx, peerID); err != nil {
		return err
	}
	return c.RefreshChatList(ctx)
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Timeline returns a copy of the room's merged message sequence.
func (c *Client) Timeline(roomID string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	tl, ok := c.timelines[roomID]
	if !ok {
		return nil
	}
	return tl.Messages()
}

// Unread returns a copy of all non-zero unread counters.
func (c *Client) Unread() map[string]int {
	return c.ledger.Counts()
}

// UnreadFor returns the unread count of one room.
func (c *Client) UnreadFor(roomID string) int {
	return c.ledger.Count(roomID)
}

// ChatList returns the last known correspondent summaries.
func (c *Client) ChatList() []Correspondent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Correspondent, len(c.chatList))
	copy(out, c.chatList)
	return out
}

// ActiveRoom returns the open room id, or "" when no room is active.
func (c *Client) ActiveRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != roomOpen && c.active != roomOpening {
		return ""
	}
	return c.activeRoom
}

// resync rebuilds server-owned state after a (re)connection: chat list,
// unread counters, and the active room's history when one is open.
func (c *Client) resync(ctx context.Context) error {
	if err := c.RefreshChatList(ctx); err != nil {
		return err
	}

	counts, err := c.rest.unreadCounts(ctx)
	if err != nil {
		return err
	}
	before := c.ledger.Counts()
	c.ledger.Seed(counts)
	for roomID, n := range counts {
		c.dispatcher.emitUnread(roomID, n)
	}
	// Rooms the server no longer counts must not keep a stale number on
	// the subscriber side.
	for roomID := range before {
		if _, ok := counts[roomID]; !ok {
			c.dispatcher.emitUnread(roomID, 0)
		}
	}

	c.mu.Lock()
	peer := c.activePeer
	reopen := c.active == roomOpen || c.active == roomOpening
	c.mu.Unlock()
	if reopen {
		return c.OpenRoom(ctx, peer)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			if c.conn == conn {
				c.conn = nil
				c.state = StateDisconnected
			}
			c.mu.Unlock()
			if intentional || ctx.Err() != nil {
				return
			}

			c.dispatcher.emitStateChange(StateDisconnected)
			if c.config.AutoReconnect {
				if c.recon.shouldReconnect() {
					c.scheduleReconnect()
				} else {
					c.enterErrorState()
				}
			}
			return
		}

		var evt serverEvent
		if json.Unmarshal(data, &evt) != nil {
			continue
		}
		c.handleEvent(ctx, evt)
	}
}

func (c *Client) handleEvent(ctx context.Context, evt serverEvent) {
	switch evt.Type {
	case evtAck:
		c.pendingMu.Lock()
		ch, ok := c.pendingAcks[evt.RequestID]
		if ok {
			delete(c.pendingAcks, evt.RequestID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- evt.Error
		}
	case evtNewMessage:
		if evt.Message != nil {
			c.handleIncoming(ctx, *evt.Message)
		}
	case evtMessagesRead:
		c.dispatcher.emitRead(evt.RoomID, evt.ReaderID)
	}
}

// handleIncoming folds a broadcast message into local state. The merge
// decides whether the event is new; duplicates change nothing, so redelivery
// after a reconnect is harmless. A message for the open room is read
// immediately and acknowledged to the server; any other inbound message
// bumps its room's unread counter.
func (c *Client) handleIncoming(ctx context.Context, msg Message) {
	c.mu.Lock()
	added := c.timeline(msg.RoomID).Merge(msg)
	if !added {
		c.mu.Unlock()
		return
	}
	activeRoom := ""
	if c.active == roomOpen {
		activeRoom = c.activeRoom
	}
	identity := c.identity
	c.updateChatListLocked(msg)
	list := make([]Correspondent, len(c.chatList))
	copy(list, c.chatList)
	c.mu.Unlock()

	if c.ledger.OnMessageReceived(msg, identity, activeRoom) {
		c.dispatcher.emitUnread(msg.RoomID, c.ledger.Count(msg.RoomID))
	} else if msg.RecipientID == identity && msg.RoomID == activeRoom {
		c.writeCommand(ctx, command{Type: cmdMarkRead, Payload: markReadPayload{RoomID: msg.RoomID}})
	}

	c.dispatcher.emitMessage(msg.RoomID, msg)
	c.dispatcher.emitChatList(list)
}

// updateChatListLocked moves the message's conversation to its place in
// the chat list: pinned first, then most recent activity.
func (c *Client) updateChatListLocked(msg Message) {
	at := msg.CreatedAt
	m := msg
	found := false
	for i := range c.chatList {
		if c.chatList[i].RoomID == msg.RoomID {
			c.chatList[i].LastMessage = &m
			c.chatList[i].LastMessageAt = &at
			found = true
			break
		}
	}
	if !found {
		peer := room.Peer(msg.RoomID, c.identity)
		c.chatList = append(c.chatList, Correspondent{
			RoomID:        msg.RoomID,
			PeerID:        peer,
			LastMessage:   &m,
			LastMessageAt: &at,
		})
	}
	for i := range c.chatList {
		c.chatList[i].Unread = c.ledger.Count(c.chatList[i].RoomID)
	}
	if msg.RecipientID == c.identity && msg.RoomID != c.activeRoomLocked() {
		for i := range c.chatList {
			if c.chatList[i].RoomID == msg.RoomID {
				c.chatList[i].Unread++
			}
		}
	}
	sort.SliceStable(c.chatList, func(i, j int) bool {
		a, b := c.chatList[i], c.chatList[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		switch {
		case a.LastMessageAt == nil:
			return false
		case b.LastMessageAt == nil:
			return true
		}
		return a.LastMessageAt.After(*b.LastMessageAt)
	})
}

func (c *Client) activeRoomLocked() string {
	if c.active == roomOpen {
		return c.activeRoom
	}
	return ""
}

func (c *Client) clearUnread(ctx context.Context, roomID string) {
	c.ledger.OnRoomOpened(roomID)
	c.mu.Lock()
	for i := range c.chatList {
		if c.chatList[i].RoomID == roomID {
			c.chatList[i].Unread = 0
		}
	}
	c.mu.Unlock()
	c.dispatcher.emitUnread(roomID, 0)
	c.writeCommand(ctx, command{Type: cmdMarkRead, Payload: markReadPayload{RoomID: roomID}})
}

func (c *Client) scheduleReconnect() {
	delay := c.recon.nextDelay()
	c.mu.Lock()
	c.state = StateReconnecting
	identity := c.identity
	credential := c.credential
	c.mu.Unlock()
	c.dispatcher.emitStateChange(StateReconnecting)

	time.Sleep(delay)

	c.mu.Lock()
	if c.intentionalClose {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.Connect(context.Background(), identity, credential); err != nil {
		if errors.Is(err, ErrAuthRejected) {
			c.enterErrorState()
			return
		}
		if c.config.AutoReconnect && c.recon.shouldReconnect() {
			c.scheduleReconnect()
		} else {
			c.enterErrorState()
		}
	}
}

func (c *Client) enterErrorState() {
	c.mu.Lock()
	c.state = StateError
	c.mu.Unlock()
	c.dispatcher.emitStateChange(StateError)
}

func (c *Client) writeCommand(ctx context.Context, cmd command) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) dropAck(tempID string) {
	c.pendingMu.Lock()
	delete(c.pendingAcks, tempID)
	c.pendingMu.Unlock()
}

// timeline returns the room's timeline, creating it on first use. Caller
// holds c.mu.
func (c *Client) timeline(roomID string) *Timeline {
	tl, ok := c.timelines[roomID]
	if !ok {
		tl = &Timeline{}
		c.timelines[roomID] = tl
	}
	return tl
}

func wsURL(serverURL string) string {
	u := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}
