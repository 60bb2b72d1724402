package room

import "testing"

func TestResolveSymmetry(t *testing.T) {
	pairs := [][2]string{
		{"u1", "u2"},
		{"alice", "bob"},
		{"9", "10"},
		{"64f1c3", "64f1c4"},
	}
	for _, p := range pairs {
		if Resolve(p[0], p[1]) != Resolve(p[1], p[0]) {
			t.Fatalf("Resolve(%q,%q) != Resolve(%q,%q)", p[0], p[1], p[1], p[0])
		}
	}
}

func TestResolveDistinctPeers(t *testing.T) {
	if Resolve("u1", "u2") == Resolve("u1", "u3") {
		t.Fatalf("different pairs resolved to the same room")
	}
}

func TestResolveKnownValue(t *testing.T) {
	if got := Resolve("u2", "u1"); got != "u1#u2" {
		t.Fatalf("unexpected room id %q", got)
	}
}

func TestParticipants(t *testing.T) {
	a, b, ok := Participants("u1#u2")
	if !ok || a != "u1" || b != "u2" {
		t.Fatalf("unexpected split %q %q %v", a, b, ok)
	}
	if _, _, ok := Participants("nopair"); ok {
		t.Fatalf("expected malformed id to be rejected")
	}
	if _, _, ok := Participants("#u2"); ok {
		t.Fatalf("expected empty participant to be rejected")
	}
}

func TestContainsAndPeer(t *testing.T) {
	id := Resolve("u1", "u2")
	if !Contains(id, "u1") || !Contains(id, "u2") {
		t.Fatalf("participants not recognised")
	}
	if Contains(id, "u3") {
		t.Fatalf("stranger recognised as participant")
	}
	if Peer(id, "u1") != "u2" || Peer(id, "u2") != "u1" {
		t.Fatalf("peer lookup wrong")
	}
}
