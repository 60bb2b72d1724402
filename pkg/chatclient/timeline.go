package chatclient

import (
	"sort"
	"time"
)

// pendingMatchWindow bounds the heuristic pairing of an optimistic entry
// with its confirmed echo when no temp id is available to match on.
const pendingMatchWindow = time.Second

// Timeline is the ordered, duplicate-free message sequence of one room.
// It is not safe for concurrent use; Client serializes access.
type Timeline struct {
	entries []Message
}

// Merge folds a confirmed incoming message into the timeline. It returns
// false when the message was already present, which makes repeated delivery
// of the same event a no-op. A pending entry matching the incoming message
// is replaced in place rather than duplicated: first by exact temp id, then
// by the (sender, content, time window) heuristic for echoes that carry no
// temp id.
func (t *Timeline) Merge(in Message) bool {
	in.DeliveryState = DeliveryConfirmed

	if in.ID != 0 {
		for _, e := range t.entries {
			if e.ID == in.ID {
				return false
			}
		}
	}

	if in.TempID != "" {
		for i, e := range t.entries {
			if e.TempID == in.TempID && e.DeliveryState != DeliveryConfirmed {
				t.entries[i] = in
				return true
			}
		}
	}

	for i, e := range t.entries {
		if e.DeliveryState != DeliveryPending && e.DeliveryState != DeliverySent {
			continue
		}
		if e.SenderID == in.SenderID && e.Content == in.Content && absDuration(in.CreatedAt.Sub(e.CreatedAt)) < pendingMatchWindow {
			t.entries[i] = in
			return true
		}
	}

	t.entries = append(t.entries, in)
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].CreatedAt.Before(t.entries[j].CreatedAt)
	})
	return true
}

// AppendPending adds an optimistic entry at the end of the timeline.
func (t *Timeline) AppendPending(msg Message) {
	msg.DeliveryState = DeliveryPending
	t.entries = append(t.entries, msg)
}

// RemovePending drops the optimistic entry with the given temp id unless it
// has already been confirmed.
func (t *Timeline) RemovePending(tempID string) bool {
	for i, e := range t.entries {
		if e.TempID == tempID && e.DeliveryState != DeliveryConfirmed {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// MarkSent transitions a pending entry to sent after a successful ack.
func (t *Timeline) MarkSent(tempID string) {
	for i, e := range t.entries {
		if e.TempID == tempID && e.DeliveryState == DeliveryPending {
			t.entries[i].DeliveryState = DeliverySent
			return
		}
	}
}

// MarkFailed transitions an unconfirmed entry to failed. A no-op when the
// confirmed echo won the race.
func (t *Timeline) MarkFailed(tempID string) bool {
	for i, e := range t.entries {
		if e.TempID == tempID && (e.DeliveryState == DeliveryPending || e.DeliveryState == DeliverySent) {
			t.entries[i].DeliveryState = DeliveryFailed
			return true
		}
	}
	return false
}

// Messages returns a copy of the timeline in ascending createdAt order.
func (t *Timeline) Messages() []Message {
	out := make([]Message, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len reports the number of entries.
func (t *Timeline) Len() int {
	return len(t.entries)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
