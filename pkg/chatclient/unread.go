package chatclient

import "sync"

// UnreadLedger holds per-room unread counters. A message counts only when
// it is addressed to the local user and its room is not the active one; a
// message for the open room is considered read the moment it arrives.
type UnreadLedger struct {
	mu     sync.RWMutex
	counts map[string]int
}

// NewUnreadLedger creates an empty ledger.
func NewUnreadLedger() *UnreadLedger {
	return &UnreadLedger{counts: make(map[string]int)}
}

// OnMessageReceived applies one incoming message and reports whether it
// incremented the room's counter.
func (l *UnreadLedger) OnMessageReceived(msg Message, localID, activeRoom string) bool {
	if msg.RecipientID != localID {
		return false
	}
	if msg.RoomID == activeRoom {
		return false
	}
	l.mu.Lock()
	l.counts[msg.RoomID]++
	l.mu.Unlock()
	return true
}

// OnRoomOpened clears the room's counter.
func (l *UnreadLedger) OnRoomOpened(roomID string) {
	l.mu.Lock()
	delete(l.counts, roomID)
	l.mu.Unlock()
}

// Seed replaces the whole ledger with server-computed counts. Used at
// session start and after every reconnect, since in-memory counts cannot be
// trusted across a gap in the event stream.
func (l *UnreadLedger) Seed(counts map[string]int) {
	l.mu.Lock()
	l.counts = make(map[string]int, len(counts))
	for roomID, n := range counts {
		if n > 0 {
			l.counts[roomID] = n
		}
	}
	l.mu.Unlock()
}

// Count returns the unread count for one room.
func (l *UnreadLedger) Count(roomID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counts[roomID]
}

// Counts returns a copy of all non-zero counters.
func (l *UnreadLedger) Counts() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int, len(l.counts))
	for roomID, n := range l.counts {
		out[roomID] = n
	}
	return out
}
