package room_test

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/0tak2/webrtc-study/internal/room"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, capacity int) *room.Registry {
	t.Helper()
	r, err := room.NewRegistry(capacity, newTestLogger())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r
}

func participant(id string) room.Participant {
	return room.Participant{ID: id, Username: "user-" + id}
}

// assertConsistent checks that every member owns a directory entry pointing at
// its room and that the directory holds nothing else.
func assertConsistent(t *testing.T, r *room.Registry) {
	t.Helper()
	total := 0
	for _, snap := range r.Snapshots() {
		if len(snap.Members) > snap.Capacity {
			t.Errorf("room %s has %d members, capacity %d", snap.ID, len(snap.Members), snap.Capacity)
		}
		if len(snap.Members) == 0 {
			t.Errorf("room %s is empty but still registered", snap.ID)
		}
		for _, m := range snap.Members {
			owner, ok := r.Directory().Lookup(m.ID)
			if !ok || owner != snap.ID {
				t.Errorf("member %s of %s has directory entry %q (found=%v)", m.ID, snap.ID, owner, ok)
			}
			total++
		}
	}
	if got := r.Directory().Len(); got != total {
		t.Errorf("directory has %d entries, rooms have %d members", got, total)
	}
}

func TestNewRegistryRejectsZeroCapacity(t *testing.T) {
	if _, err := room.NewRegistry(0, newTestLogger()); err == nil {
		t.Fatal("expected an error for capacity 0")
	}
}

func TestJoinReturnsExistingMembersInOrder(t *testing.T) {
	r := newTestRegistry(t, 4)

	for i, id := range []string{"a", "b", "c"} {
		existing, err := r.Join("r1", participant(id))
		if err != nil {
			t.Fatalf("Join(%s) failed: %v", id, err)
		}
		if len(existing) != i {
			t.Fatalf("Join(%s): expected %d existing members, got %d", id, i, len(existing))
		}
		for _, m := range existing {
			if m.ID == id {
				t.Errorf("Join(%s): joiner included in its own member list", id)
			}
		}
	}

	existing, _ := r.Join("r1", participant("d"))
	want := []string{"a", "b", "c"}
	for i, m := range existing {
		if m.ID != want[i] {
			t.Errorf("existing[%d] = %s, want %s", i, m.ID, want[i])
		}
	}
	assertConsistent(t, r)
}

func TestJoinRejectsWhenFull(t *testing.T) {
	r := newTestRegistry(t, 2)

	if _, err := r.Join("r1", participant("x")); err != nil {
		t.Fatalf("x: %v", err)
	}
	if _, err := r.Join("r1", participant("y")); err != nil {
		t.Fatalf("y: %v", err)
	}
	_, err := r.Join("r1", participant("z"))
	if !errors.Is(err, room.ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}

	members, _ := r.Members("r1")
	if len(members) != 2 {
		t.Errorf("expected 2 members after rejection, got %d", len(members))
	}
	if _, ok := r.Directory().Lookup("z"); ok {
		t.Error("rejected participant has a directory entry")
	}
	assertConsistent(t, r)
}

func TestJoinRejectsSecondRoomForSameConnection(t *testing.T) {
	r := newTestRegistry(t, 4)

	if _, err := r.Join("r1", participant("x")); err != nil {
		t.Fatalf("Join r1: %v", err)
	}
	_, err := r.Join("r2", participant("x"))
	if !errors.Is(err, room.ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}
	if _, ok := r.Members("r2"); ok {
		t.Error("failed join left an empty room behind")
	}
	assertConsistent(t, r)
}

func TestJoinRejectsEmptyRoomID(t *testing.T) {
	r := newTestRegistry(t, 4)
	if _, err := r.Join("", participant("x")); !errors.Is(err, room.ErrInvalidRoom) {
		t.Fatalf("expected ErrInvalidRoom, got %v", err)
	}
}

func TestLeaveIsIdempotentAndDeletesEmptyRoom(t *testing.T) {
	r := newTestRegistry(t, 2)
	r.Join("r1", participant("x"))
	r.Join("r1", participant("y"))

	remaining, removed := r.Leave("r1", "x")
	if !removed {
		t.Fatal("first Leave(x) reported nothing removed")
	}
	if len(remaining) != 1 || remaining[0].ID != "y" {
		t.Fatalf("expected [y] remaining, got %+v", remaining)
	}

	if _, removed := r.Leave("r1", "x"); removed {
		t.Error("second Leave(x) should be a no-op")
	}

	remaining, removed = r.Leave("r1", "y")
	if !removed || len(remaining) != 0 {
		t.Fatalf("Leave(y): removed=%v remaining=%+v", removed, remaining)
	}
	if _, ok := r.Members("r1"); ok {
		t.Error("room r1 still exists after last member left")
	}
	if _, removed := r.Leave("r1", "y"); removed {
		t.Error("Leave on a deleted room should be a no-op")
	}
	assertConsistent(t, r)
}

func TestLeaveConnectionUsesDirectory(t *testing.T) {
	r := newTestRegistry(t, 4)
	r.Join("r1", participant("x"))
	r.Join("r1", participant("y"))

	roomID, remaining, removed := r.LeaveConnection("y")
	if !removed || roomID != "r1" {
		t.Fatalf("LeaveConnection(y) = %q, removed=%v", roomID, removed)
	}
	if len(remaining) != 1 || remaining[0].ID != "x" {
		t.Errorf("expected [x] remaining, got %+v", remaining)
	}

	if _, _, removed := r.LeaveConnection("never-joined"); removed {
		t.Error("LeaveConnection for an unknown connection should be a no-op")
	}
	assertConsistent(t, r)
}

func TestRejoinAfterRoomDeleted(t *testing.T) {
	r := newTestRegistry(t, 1)
	r.Join("r1", participant("x"))
	r.Leave("r1", "x")

	existing, err := r.Join("r1", participant("y"))
	if err != nil {
		t.Fatalf("Join after delete failed: %v", err)
	}
	if len(existing) != 0 {
		t.Errorf("fresh room should have no prior members, got %+v", existing)
	}
	assertConsistent(t, r)
}

func TestConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	const capacity = 4
	const joiners = 100

	r := newTestRegistry(t, capacity)

	var admitted, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Join("busy", participant(fmt.Sprintf("p%d", i)))
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, room.ErrRoomFull):
				rejected.Add(1)
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if admitted.Load() != capacity {
		t.Errorf("expected %d admitted, got %d", capacity, admitted.Load())
	}
	if rejected.Load() != joiners-capacity {
		t.Errorf("expected %d rejected, got %d", joiners-capacity, rejected.Load())
	}
	assertConsistent(t, r)
}

func TestConcurrentJoinAndLeaveStaysConsistent(t *testing.T) {
	r := newTestRegistry(t, 3)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			roomID := fmt.Sprintf("r%d", i%3)
			if _, err := r.Join(roomID, participant(id)); err == nil && i%2 == 0 {
				r.Leave(roomID, id)
			}
		}(i)
	}
	wg.Wait()

	for _, snap := range r.Snapshots() {
		if len(snap.Members) > 3 {
			t.Errorf("room %s over capacity: %d", snap.ID, len(snap.Members))
		}
	}
	assertConsistent(t, r)
}
