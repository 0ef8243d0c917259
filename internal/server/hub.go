package server

import (
	"sort"
	"sync"
)

// Registry maps room names to the live connections subscribed to them.
// A connection's own room set is a back-reference kept in sync under mu.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Conn
	conns map[string]*Conn
}

// NewRegistry initializes an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]*Conn),
		conns: make(map[string]*Conn),
	}
}

// Add tracks a live connection with an empty room set.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.isClosed() {
		return
	}
	r.conns[c.id] = c
}

// Remove purges the connection from every room and forgets it.
func (r *Registry) Remove(c *Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c.id)
	return r.purgeLocked(c)
}

// Join adds c to room. It reports whether membership changed; joining twice
// is a no-op and closed connections are never added.
func (r *Registry) Join(room string, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.isClosed() {
		return false
	}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		r.rooms[room] = members
	}
	if _, ok := members[c.id]; ok {
		return false
	}
	members[c.id] = c
	c.rooms[room] = struct{}{}
	return true
}

// Leave removes c from room. Leaving a room that was never joined is a no-op.
func (r *Registry) Leave(room string, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(room, c)
}

// Purge removes c from every room it joined and returns those rooms.
func (r *Registry) Purge(c *Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purgeLocked(c)
}

// Members returns a snapshot of the room. The slice is safe to iterate while
// the registry keeps changing.
func (r *Registry) Members(room string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]*Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// RoomsOf lists the rooms c currently belongs to, sorted.
func (r *Registry) RoomsOf(c *Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Size returns the number of members in room.
func (r *Registry) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ConnCount returns the number of tracked connections.
func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// All returns a snapshot of every tracked connection.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) leaveLocked(room string, c *Conn) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[c.id]; !ok {
		return false
	}
	delete(members, c.id)
	delete(c.rooms, room)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	return true
}

func (r *Registry) purgeLocked(c *Conn) []string {
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		r.leaveLocked(room, c)
	}
	sort.Strings(rooms)
	return rooms
}
