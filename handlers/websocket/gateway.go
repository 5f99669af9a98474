package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"codocs/core"

	"github.com/sirupsen/logrus"
)

// connState tracks where an authenticated connection sits in its lifecycle.
// The handshake rejects unauthenticated connections before a Session exists,
// so the machine starts at Idle.
type connState int

const (
	// StateIdle: authenticated, no document requested yet.
	StateIdle connState = iota
	// StateInRoom: member of exactly one document's room.
	StateInRoom
	// StateClosed: terminal; no further operations are valid.
	StateClosed
)

func (s connState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInRoom:
		return "in-room"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Emitter sends an event to the remote peer of one connection.
type Emitter interface {
	Emit(event string, args ...any)
}

// Session is the connection-scoped state the gateway keeps for one
// authenticated connection. Socket.IO serializes handlers per connection,
// but evictions arrive from HTTP handlers concurrently, so state transitions
// take the session mutex.
type Session struct {
	id      string
	userID  string
	emitter Emitter

	mu    sync.Mutex
	state connState
	docID string
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.userID }

func (s *Session) Emit(event string, args ...any) {
	s.emitter.Emit(event, args...)
}

// Detach forces the session out of the named document's room, back to Idle.
// Called by the registry when the document is deleted or this user's access
// is revoked; the registry has already removed the connection from the room.
// A session that has since joined a different room ignores the stale
// eviction, so its live membership stays intact.
func (s *Session) Detach(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateInRoom && s.docID == documentID {
		s.state = StateIdle
		s.docID = ""
	}
}

// current returns the state and room document id under the session lock.
func (s *Session) current() (connState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.docID
}

// Gateway drives the connection lifecycle: it admits authenticated
// connections, dispatches document requests through access control and the
// session registry, and hands edits and saves to the change relay.
type Gateway struct {
	store    core.DocumentStore
	registry *Registry
	relay    *Relay
}

func NewGateway(store core.DocumentStore, registry *Registry) *Gateway {
	return &Gateway{
		store:    store,
		registry: registry,
		relay:    NewRelay(registry, store),
	}
}

func (g *Gateway) Registry() *Registry { return g.registry }

// Connect admits an authenticated connection in the Idle state.
func (g *Gateway) Connect(connID string, userID string, emitter Emitter) *Session {
	logrus.WithFields(logrus.Fields{
		"conn_id": connID,
		"user_id": userID,
	}).Info("Connection authenticated")
	return &Session{
		id:      connID,
		userID:  userID,
		emitter: emitter,
		state:   StateIdle,
	}
}

// RequestDocument handles a client's request to open a document. On success
// the connection joins the document's room and receives the current snapshot
// exactly once; on failure an error is emitted and the connection stays Idle.
func (g *Gateway) RequestDocument(ctx context.Context, s *Session, documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"conn_id":     s.id,
		"user_id":     s.userID,
		"document_id": documentID,
	})

	// One room per connection: requesting a new document leaves the old
	// room first.
	if s.state == StateInRoom {
		g.registry.Leave(s.docID, s.id)
		s.state = StateIdle
		s.docID = ""
	}

	doc, err := g.store.FindID(ctx, documentID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			log.Warn("Requested document not found")
			s.emitter.Emit("error", "Document not found")
		} else {
			log.WithError(err).Error("Failed to load document")
			s.emitter.Emit("error", "Server error")
		}
		return
	}

	if !core.CanRead(s.userID, doc) {
		log.Warn("Room join denied")
		s.emitter.Emit("error", "Permission denied")
		return
	}

	g.registry.Join(documentID, s)
	s.state = StateInRoom
	s.docID = documentID

	s.emitter.Emit("load-document", snapshotPayload(doc))
	log.Info("Connection joined document room")
}

// snapshotPayload shapes the initial document push. The content blob is
// forwarded as-is; an empty document loads as an empty string.
func snapshotPayload(doc *core.Document) map[string]any {
	var data any = ""
	if len(doc.Content) > 0 {
		data = json.RawMessage(doc.Content)
	}
	return map[string]any{
		"data":  data,
		"title": doc.Title,
	}
}

// SendChanges forwards an edit delta from this connection to the rest of its
// room via the change relay. The delta is never interpreted or persisted
// here.
func (g *Gateway) SendChanges(s *Session, documentID string, delta any) {
	state, docID := s.current()
	if state != StateInRoom || docID != documentID {
		logrus.WithFields(logrus.Fields{
			"conn_id":     s.id,
			"user_id":     s.userID,
			"document_id": documentID,
			"state":       state.String(),
		}).Warn("Dropping edit from connection not in the document's room")
		return
	}
	g.relay.Forward(s, documentID, delta)
}

// SaveDocument persists a full content snapshot for the document this
// connection has open. The returned error is surfaced to the client through
// the save acknowledgement.
func (g *Gateway) SaveDocument(ctx context.Context, s *Session, documentID string, snapshot []byte) error {
	state, docID := s.current()
	if state != StateInRoom || docID != documentID {
		logrus.WithFields(logrus.Fields{
			"conn_id":     s.id,
			"user_id":     s.userID,
			"document_id": documentID,
			"state":       state.String(),
		}).Warn("Rejecting save from connection not in the document's room")
		return core.ErrPermissionDenied
	}
	return g.relay.Persist(ctx, s, documentID, snapshot)
}

// Disconnect runs connection teardown. It is invoked unconditionally however
// the connection ended; a leaked room membership would keep a room alive and
// feed broadcasts to a dead connection. The registry is purged by connection
// id rather than by the session's room record, which can trail the registry
// during an eviction racing a room switch.
func (g *Gateway) Disconnect(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	g.registry.Drop(s.id)
	s.state = StateClosed
	s.docID = ""

	logrus.WithFields(logrus.Fields{
		"conn_id": s.id,
		"user_id": s.userID,
	}).Info("Connection closed")
}
