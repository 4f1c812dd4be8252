package room

import "sync"

// Directory is the reverse index from a connection id to the room that
// connection has joined. The Registry is its only writer.
type Directory struct {
	mu     sync.RWMutex
	owners map[string]string
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{owners: make(map[string]string)}
}

// Lookup returns the room a connection belongs to.
func (d *Directory) Lookup(connID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	roomID, ok := d.owners[connID]
	return roomID, ok
}

// Len returns the number of connections that currently own a room slot.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.owners)
}

// claim records connID as a member of roomID. It fails if the connection
// already owns a slot anywhere.
func (d *Directory) claim(connID, roomID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.owners[connID]; taken {
		return false
	}
	d.owners[connID] = roomID
	return true
}

// release drops connID only if it is still recorded under roomID.
func (d *Directory) release(connID, roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.owners[connID] == roomID {
		delete(d.owners, connID)
	}
}
