package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestStableCount(t *testing.T) {
	rows := []PeerRow{{State: "stable"}, {State: "local-offer"}, {State: "stable"}}
	if got := StableCount(rows); got != 2 {
		t.Fatalf("StableCount = %d", got)
	}
}

func TestPeerTableView(t *testing.T) {
	if !strings.Contains(PeerTableView(nil), "No peers") {
		t.Fatal("empty table should say so")
	}

	out := PeerTableView([]PeerRow{
		{ID: "0123456789abcdef", Username: "ana", Role: "offerer", State: "stable", Connection: "connected", Hello: true, Tracks: 1},
	})
	for _, want := range []string{"ana", "01234567", "offerer", "stable", "connected"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "0123456789abcdef") {
		t.Error("id not truncated")
	}
}

func TestRoomModelUpdates(t *testing.T) {
	updates := make(chan RoomSnapshot)
	m := NewRoomModel("r1", "bob", updates)

	if view := m.View(); !strings.Contains(view, "r1") || !strings.Contains(view, "Waiting") {
		t.Fatalf("initial view:\n%s", view)
	}

	next, cmd := m.Update(RoomSnapshot{
		Peers:  []PeerRow{{ID: "x", Username: "ana", State: "stable"}, {ID: "y", Username: "cy", State: "idle"}},
		Status: "negotiating",
	})
	if cmd == nil {
		t.Fatal("model stopped listening for snapshots")
	}
	view := next.View()
	for _, want := range []string{"1/2 stable", "ana", "cy", "negotiating"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	_, cmd = next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q did not quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q did not return tea.Quit")
	}
}

func TestRoomModelQuitsWhenUpdatesClose(t *testing.T) {
	updates := make(chan RoomSnapshot)
	close(updates)
	m := NewRoomModel("r1", "bob", updates)

	msg := m.waitForSnapshot()()
	if _, ok := msg.(roomClosedMsg); !ok {
		t.Fatalf("got %T", msg)
	}
	_, cmd := m.Update(msg)
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("closed updates did not quit")
	}
}
