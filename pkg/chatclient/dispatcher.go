package chatclient

import "sync"

// ConnectionState reports the client's transport status.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	// StateError is terminal for the session: reconnect attempts are
	// exhausted or the credential was rejected mid-session.
	StateError ConnectionState = "error"
)

// eventDispatcher fans client events out to registered handlers. Handlers
// run synchronously on the calling goroutine in registration order, so a
// subscriber always observes events in the order the client processed them.
type eventDispatcher struct {
	mu            sync.RWMutex
	onStateChange []func(ConnectionState)
	onMessage     []func(roomID string, msg Message)
	onRead        []func(roomID, readerID string)
	onChatList    []func([]Correspondent)
	onUnread      []func(roomID string, count int)
	onSendFailed  []func(roomID, tempID string, reason error)
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{}
}

func (d *eventDispatcher) emitStateChange(s ConnectionState) {
	d.mu.RLock()
	handlers := append([]func(ConnectionState){}, d.onStateChange...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(s)
	}
}

func (d *eventDispatcher) emitMessage(roomID string, msg Message) {
	d.mu.RLock()
	handlers := append([]func(string, Message){}, d.onMessage...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(roomID, msg)
	}
}

func (d *eventDispatcher) emitRead(roomID, readerID string) {
	d.mu.RLock()
	handlers := append([]func(string, string){}, d.onRead...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(roomID, readerID)
	}
}

func (d *eventDispatcher) emitChatList(list []Correspondent) {
	d.mu.RLock()
	handlers := append([]func([]Correspondent){}, d.onChatList...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(list)
	}
}

func (d *eventDispatcher) emitUnread(roomID string, count int) {
	d.mu.RLock()
	handlers := append([]func(string, int){}, d.onUnread...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(roomID, count)
	}
}

func (d *eventDispatcher) emitSendFailed(roomID, tempID string, reason error) {
	d.mu.RLock()
	handlers := append([]func(string, string, error){}, d.onSendFailed...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(roomID, tempID, reason)
	}
}
