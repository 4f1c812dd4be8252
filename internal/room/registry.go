package room

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
)

// DefaultCapacity is the number of participants a room admits when no
// capacity is configured.
const DefaultCapacity = 4

var (
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyJoined = errors.New("connection already joined a room")
	ErrInvalidRoom   = errors.New("room id cannot be empty")
)

// Participant is a joined connection as the registry sees it.
type Participant struct {
	ID       string
	Username string
}

// Room is a single mesh. Its members slice is ordered by admission time and
// only touched while mu is held.
type Room struct {
	ID string

	mu      sync.Mutex
	members []Participant
	deleted bool
}

// Snapshot is a point-in-time copy of one room for reporting.
type Snapshot struct {
	ID       string
	Members  []Participant
	Capacity int
}

// Registry maps room ids to their members and enforces capacity. Each room is
// serialized by its own lock, so joins to different rooms never contend.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	capacity  int
	directory *Directory
	logger    *slog.Logger
}

// NewRegistry creates a Registry admitting up to capacity members per room.
func NewRegistry(capacity int, logger *slog.Logger) (*Registry, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("room capacity must be at least 1, got %d", capacity)
	}
	return &Registry{
		rooms:     make(map[string]*Room),
		capacity:  capacity,
		directory: NewDirectory(),
		logger:    logger.With(slog.String("component", "room_registry")),
	}, nil
}

// Capacity returns the per-room member limit.
func (r *Registry) Capacity() int {
	return r.capacity
}

// Directory exposes the connection -> room reverse index.
func (r *Registry) Directory() *Directory {
	return r.directory
}

// Join admits p into roomID, creating the room on first use. On success it
// returns the members that were already present, in admission order, which is
// exactly the set the newcomer has to offer to. The capacity check and the
// append happen under the room lock, so concurrent joins cannot overshoot.
func (r *Registry) Join(roomID string, p Participant) ([]Participant, error) {
	if roomID == "" {
		return nil, ErrInvalidRoom
	}

	for {
		rm := r.getOrCreate(roomID)

		rm.mu.Lock()
		if rm.deleted {
			// Lost a race with the last member leaving; the map now holds
			// either nothing or a fresh room for this id.
			rm.mu.Unlock()
			continue
		}

		if len(rm.members) >= r.capacity {
			rm.mu.Unlock()
			r.logger.Info("Room join rejected: room is full", slog.String("room", roomID), slog.String("conn_id", p.ID))
			return nil, ErrRoomFull
		}

		if !r.directory.claim(p.ID, roomID) {
			empty := len(rm.members) == 0
			rm.mu.Unlock()
			if empty {
				r.dropIfEmpty(rm)
			}
			return nil, ErrAlreadyJoined
		}

		existing := slices.Clone(rm.members)
		rm.members = append(rm.members, p)
		count := len(rm.members)
		rm.mu.Unlock()

		r.logger.Info("Participant joined room",
			slog.String("room", roomID),
			slog.String("conn_id", p.ID),
			slog.String("username", p.Username),
			slog.Int("members", count),
		)
		return existing, nil
	}
}

// Leave removes participantID from roomID and returns the members that remain.
// removed is false when the participant was not there, which makes Leave
// idempotent. The room record is deleted together with its last member.
func (r *Registry) Leave(roomID, participantID string) (remaining []Participant, removed bool) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	rm.mu.Lock()
	idx := slices.IndexFunc(rm.members, func(m Participant) bool { return m.ID == participantID })
	if idx < 0 || rm.deleted {
		rm.mu.Unlock()
		return nil, false
	}

	rm.members = slices.Delete(rm.members, idx, idx+1)
	r.directory.release(participantID, roomID)
	remaining = slices.Clone(rm.members)
	empty := len(rm.members) == 0
	if empty {
		rm.deleted = true
	}
	rm.mu.Unlock()

	if empty {
		r.mu.Lock()
		if r.rooms[roomID] == rm {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
		r.logger.Info("Room deleted", slog.String("room", roomID))
	} else {
		r.logger.Info("Participant left room", slog.String("room", roomID), slog.String("conn_id", participantID), slog.Int("members", len(remaining)))
	}

	return remaining, true
}

// LeaveConnection removes a connection from whichever room owns it.
func (r *Registry) LeaveConnection(connID string) (roomID string, remaining []Participant, removed bool) {
	roomID, ok := r.directory.Lookup(connID)
	if !ok {
		return "", nil, false
	}
	remaining, removed = r.Leave(roomID, connID)
	return roomID, remaining, removed
}

// Members returns a copy of the current members of roomID.
func (r *Registry) Members(roomID string) ([]Participant, bool) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.deleted {
		return nil, false
	}
	return slices.Clone(rm.members), true
}

// Snapshots returns every live room sorted by id.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(rooms))
	for _, rm := range rooms {
		rm.mu.Lock()
		if !rm.deleted {
			out = append(out, Snapshot{ID: rm.ID, Members: slices.Clone(rm.members), Capacity: r.capacity})
		}
		rm.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) getOrCreate(roomID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &Room{ID: roomID}
		r.rooms[roomID] = rm
		r.logger.Debug("Room created", slog.String("room", roomID))
	}
	return rm
}

// dropIfEmpty removes a room that was created for a join that then failed.
func (r *Registry) dropIfEmpty(rm *Room) {
	rm.mu.Lock()
	if len(rm.members) != 0 || rm.deleted {
		rm.mu.Unlock()
		return
	}
	rm.deleted = true
	rm.mu.Unlock()

	r.mu.Lock()
	if r.rooms[rm.ID] == rm {
		delete(r.rooms, rm.ID)
	}
	r.mu.Unlock()
}
