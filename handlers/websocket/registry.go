package websocket

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Conn is one live authenticated connection as the session registry sees it.
// A Conn belongs to exactly one user for its lifetime and to at most one room
// at a time.
type Conn interface {
	ID() string
	UserID() string
	Emit(event string, args ...any)
	// Detach is invoked when the registry forcibly removes the connection
	// from the named document's room (document deleted, access revoked).
	// The id lets the connection ignore a stale eviction after it has
	// already moved to another room.
	Detach(documentID string)
}

// Registry maps each live document to its room: the set of currently
// connected participants. It is process-local and rebuilt from nothing on
// restart; join, leave and broadcast enumeration are serialized so no caller
// observes a connection mid-removal.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[string]Conn)}
}

// Join adds the connection to the document's room, creating the room if
// absent. The caller must have passed a CanRead check first.
func (r *Registry) Join(documentID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[documentID]
	if !ok {
		room = make(map[string]Conn)
		r.rooms[documentID] = room
	}
	room[conn.ID()] = conn

	logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"conn_id":     conn.ID(),
		"user_id":     conn.UserID(),
		"room_size":   len(room),
	}).Debug("Connection joined room")
}

// Leave removes the connection from the document's room. An empty room is
// deleted immediately; no empty rooms linger.
func (r *Registry) Leave(documentID string, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[documentID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, documentID)
	}

	logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"conn_id":     connID,
		"room_size":   len(room),
	}).Debug("Connection left room")
}

// Drop removes the connection from every room it appears in. Connection
// teardown uses this instead of Leave: an eviction racing a room switch can
// leave the session's own record of its room behind the registry's, and a
// closed connection must not stay registered anywhere.
func (r *Registry) Drop(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for documentID, room := range r.rooms {
		if _, in := room[connID]; !in {
			continue
		}
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, documentID)
		}
		logrus.WithFields(logrus.Fields{
			"document_id": documentID,
			"conn_id":     connID,
			"room_size":   len(room),
		}).Debug("Connection dropped from room")
	}
}

// IsMember reports whether the connection is currently in the document's room.
func (r *Registry) IsMember(documentID string, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[documentID]
	if !ok {
		return false
	}
	_, in := room[connID]
	return in
}

// MemberCount returns the number of connections in the document's room.
func (r *Registry) MemberCount(documentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[documentID])
}

// Rooms returns a snapshot of active room sizes keyed by document id.
func (r *Registry) Rooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make(map[string]int, len(r.rooms))
	for id, room := range r.rooms {
		rooms[id] = len(room)
	}
	return rooms
}

// members snapshots the room under the read lock so emits happen outside it.
func (r *Registry) members(documentID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[documentID]
	conns := make([]Conn, 0, len(room))
	for _, conn := range room {
		conns = append(conns, conn)
	}
	return conns
}

// Broadcast delivers the event to every room member except the originating
// connection. Delivery is best-effort: a dropped member misses the message,
// nobody else is affected.
func (r *Registry) Broadcast(documentID string, excludeConnID string, event string, args ...any) {
	for _, conn := range r.members(documentID) {
		if conn.ID() == excludeConnID {
			continue
		}
		conn.Emit(event, args...)
	}
}

// NotifyAll delivers the event to every room member, with no exclusion.
func (r *Registry) NotifyAll(documentID string, event string, args ...any) {
	for _, conn := range r.members(documentID) {
		conn.Emit(event, args...)
	}
}

// EvictAll notifies every member of the document's room and detaches them,
// deleting the room. Used when the underlying document is deleted. Returns
// the number of evicted connections.
func (r *Registry) EvictAll(documentID string, event string, args ...any) int {
	r.mu.Lock()
	room := r.rooms[documentID]
	delete(r.rooms, documentID)
	r.mu.Unlock()

	for _, conn := range room {
		conn.Emit(event, args...)
		conn.Detach(documentID)
	}

	if len(room) > 0 {
		logrus.WithFields(logrus.Fields{
			"document_id": documentID,
			"evicted":     len(room),
			"reason":      event,
		}).Info("Room evicted")
	}
	return len(room)
}

// EvictUser notifies and detaches only the given user's connections, leaving
// the rest of the room untouched. Used when a collaborator is unshared.
// Returns the number of evicted connections.
func (r *Registry) EvictUser(documentID string, userID string, event string, args ...any) int {
	r.mu.Lock()
	room := r.rooms[documentID]
	evicted := make([]Conn, 0, 1)
	for id, conn := range room {
		if conn.UserID() == userID {
			delete(room, id)
			evicted = append(evicted, conn)
		}
	}
	if len(room) == 0 {
		delete(r.rooms, documentID)
	}
	r.mu.Unlock()

	for _, conn := range evicted {
		conn.Emit(event, args...)
		conn.Detach(documentID)
	}

	if len(evicted) > 0 {
		logrus.WithFields(logrus.Fields{
			"document_id": documentID,
			"user_id":     userID,
			"evicted":     len(evicted),
		}).Info("User evicted from room")
	}
	return len(evicted)
}
