package broadcast

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/livepoll/internal/domain"
)

// Registry maps room keys to their subscribed connections. A connection is in
// at most one room; empty rooms are removed.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomKey]map[uuid.UUID]*Connection
	index map[uuid.UUID]domain.RoomKey
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[domain.RoomKey]map[uuid.UUID]*Connection),
		index: make(map[uuid.UUID]domain.RoomKey),
	}
}

// Subscribe moves conn into room, leaving any previous room. It returns the
// previous room, if any. Subscribing to the current room changes nothing.
func (r *Registry) Subscribe(conn *Connection, room domain.RoomKey) (domain.RoomKey, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn.isClosing() {
		return "", false, domain.ErrConnectionClosed
	}

	previous, had := r.index[conn.id]
	if had && previous == room {
		return "", false, nil
	}
	if had {
		r.removeLocked(conn.id, previous)
	}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[uuid.UUID]*Connection)
		r.rooms[room] = members
	}
	members[conn.id] = conn
	r.index[conn.id] = room
	conn.markSubscribed()

	return previous, had, nil
}

// Unsubscribe removes conn from its room and reports the room it left.
func (r *Registry) Unsubscribe(conn *Connection) (domain.RoomKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.index[conn.id]
	if !ok {
		return "", false
	}
	r.removeLocked(conn.id, room)
	conn.markOpen()
	return room, true
}

func (r *Registry) removeLocked(id uuid.UUID, room domain.RoomKey) {
	delete(r.index, id)
	members := r.rooms[room]
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Members returns a point-in-time copy of the room's connections.
func (r *Registry) Members(room domain.RoomKey) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]*Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Count returns the room's membership size, 0 for unknown rooms.
func (r *Registry) Count(room domain.RoomKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Rooms returns the number of non-empty rooms.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// RoomOf returns the room conn is subscribed to.
func (r *Registry) RoomOf(conn *Connection) (domain.RoomKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.index[conn.id]
	return room, ok
}

// Lookup finds a subscribed connection by id.
func (r *Registry) Lookup(id uuid.UUID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.index[id]
	if !ok {
		return nil, false
	}
	c, ok := r.rooms[room][id]
	return c, ok
}

// RegistryStats summarizes membership for the stats endpoint.
type RegistryStats struct {
	Rooms       int                    `json:"rooms"`
	Subscribed  int                    `json:"subscribed"`
	Lobby       int                    `json:"lobby"`
	RoomMembers map[domain.RoomKey]int `json:"room_members"`
}

func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		Rooms:       len(r.rooms),
		Subscribed:  len(r.index),
		Lobby:       len(r.rooms[domain.LobbyRoom]),
		RoomMembers: make(map[domain.RoomKey]int, len(r.rooms)),
	}
	for room, members := range r.rooms {
		stats.RoomMembers[room] = len(members)
	}
	return stats
}
