package room

// Separator joins the two participant ids into a room id. It must never
// appear inside a valid user id.
const Separator = "#"

// Resolve derives the canonical room id for a pair of users. The result is
// identical regardless of argument order, so both sides of a conversation
// always address the same room.
func Resolve(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + Separator + b
}

// Participants splits a room id back into the two user ids it was derived
// from. ok is false if the id is not a valid pair key.
func Participants(roomID string) (string, string, bool) {
	for i := 0; i < len(roomID); i++ {
		if string(roomID[i]) == Separator {
			return roomID[:i], roomID[i+1:], i > 0 && i < len(roomID)-1
		}
	}
	return "", "", false
}

// Contains reports whether userID is one of the room's participants.
func Contains(roomID, userID string) bool {
	a, b, ok := Participants(roomID)
	return ok && (a == userID || b == userID)
}

// Peer returns the other participant of the room relative to userID.
func Peer(roomID, userID string) string {
	a, b, ok := Participants(roomID)
	if !ok {
		return ""
	}
	if a == userID {
		return b
	}
	return a
}
