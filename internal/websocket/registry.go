package websocket

import (
	"fmt"
	"sync"

	roomcast_errors "roomcast/pkg/errors"
)

// Conn is a live client connection the registry can push frames to.
type Conn interface {
	ID() string
	UserID() string
	// Send queues payload without blocking and reports whether it was accepted.
	Send(payload []byte) bool
	Close()
}

type connEntry struct {
	conn   Conn
	userID string
	rooms  map[string]struct{}
}

// Registry tracks the live connections of this instance and their room and
// user memberships. All indices share one lock, held only while mutating or
// copying; callers push frames to the returned snapshots after it is released.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connEntry
	rooms map[string]map[string]Conn
	users map[string]map[string]Conn
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*connEntry),
		rooms: make(map[string]map[string]Conn),
		users: make(map[string]map[string]Conn),
	}
}

// Register adds conn under userID. An already registered connection id is
// rejected with ErrDuplicateConnection and leaves the registry unchanged.
func (r *Registry) Register(conn Conn, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, exists := r.conns[id]; exists {
		return fmt.Errorf("connection %s: %w", id, roomcast_errors.ErrDuplicateConnection)
	}
	r.conns[id] = &connEntry{conn: conn, userID: userID, rooms: make(map[string]struct{})}
	addTo(r.users, userID, conn)
	return nil
}

// Unregister drops the connection from every index. Unknown ids are ignored.
func (r *Registry) Unregister(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return false
	}
	for roomID := range entry.rooms {
		removeFrom(r.rooms, roomID, connID)
	}
	removeFrom(r.users, entry.userID, connID)
	delete(r.conns, connID)
	return true
}

// JoinRoom adds a registered connection to roomID
func (r *Registry) JoinRoom(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return fmt.Errorf("connection %s: %w", connID, roomcast_errors.ErrNotFound)
	}
	entry.rooms[roomID] = struct{}{}
	addTo(r.rooms, roomID, entry.conn)
	return nil
}

// LeaveRoom reports whether the connection was in the room.
func (r *Registry) LeaveRoom(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return false
	}
	if _, in := entry.rooms[roomID]; !in {
		return false
	}
	delete(entry.rooms, roomID)
	removeFrom(r.rooms, roomID, connID)
	return true
}

// InRoom reports whether the connection joined roomID
func (r *Registry) InRoom(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][connID]
	return ok
}

// ConnectionsInRoom returns the ids of local connections in roomID
func (r *Registry) ConnectionsInRoom(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ids(r.rooms[roomID])
}

// ConnectionsForUser returns the ids of local connections owned by userID
func (r *Registry) ConnectionsForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ids(r.users[userID])
}

// RoomsOf returns the rooms a connection currently belongs to.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[connID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(entry.rooms))
	for roomID := range entry.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// SendTo pushes payload to one connection. A connection that has already
// gone away is not an error.
func (r *Registry) SendTo(connID string, payload []byte) bool {
	r.mu.RLock()
	entry, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return entry.conn.Send(payload)
}

// Get returns the registered connection with the given id.
func (r *Registry) Get(connID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return entry.conn, true
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]Conn, 0, len(r.conns))
	for _, entry := range r.conns {
		conns = append(conns, entry.conn)
	}
	return conns
}

func (r *Registry) roomSnapshot(roomID, excludeConnID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	conns := make([]Conn, 0, len(members))
	for id, conn := range members {
		if id != excludeConnID {
			conns = append(conns, conn)
		}
	}
	return conns
}

func (r *Registry) userSnapshot(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.users[userID]
	conns := make([]Conn, 0, len(members))
	for _, conn := range members {
		conns = append(conns, conn)
	}
	return conns
}

func addTo(index map[string]map[string]Conn, key string, conn Conn) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]Conn)
		index[key] = set
	}
	set[conn.ID()] = conn
}

// removeFrom deletes connID from the set under key, dropping the set once empty.
func removeFrom(index map[string]map[string]Conn, key, connID string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(index, key)
	}
}

func ids(set map[string]Conn) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
