package websocket

import (
	"context"

	"codocs/core"

	"github.com/sirupsen/logrus"
)

// Relay fans incoming edits out to the rest of the room and persists
// client-driven snapshot saves. Edit propagation and persistence are
// decoupled: forwarding a delta never touches the store, and the data-loss
// window on a crash is one client save interval.
type Relay struct {
	registry *Registry
	store    core.DocumentStore
}

func NewRelay(registry *Registry, store core.DocumentStore) *Relay {
	return &Relay{registry: registry, store: store}
}

// Forward delivers the delta, unmodified, to every room member except the
// sender. A sender that is not currently in the room is dropped with a log
// line; the relay never broadcasts on behalf of an unauthorized connection.
func (r *Relay) Forward(sender *Session, documentID string, delta any) {
	if !r.registry.IsMember(documentID, sender.ID()) {
		logrus.WithFields(logrus.Fields{
			"conn_id":     sender.ID(),
			"document_id": documentID,
		}).Warn("Dropping edit from sender not registered in room")
		return
	}
	r.registry.Broadcast(documentID, sender.ID(), "receive-changes", delta)
}

// Persist overwrites the document content with the full snapshot the client
// sent. Store failures are returned to the caller for the save
// acknowledgement; there is no retry here.
func (r *Relay) Persist(ctx context.Context, sender *Session, documentID string, snapshot []byte) error {
	if !r.registry.IsMember(documentID, sender.ID()) {
		logrus.WithFields(logrus.Fields{
			"conn_id":     sender.ID(),
			"document_id": documentID,
		}).Warn("Rejecting save from sender not registered in room")
		return core.ErrPermissionDenied
	}

	if err := r.store.UpdateContent(ctx, documentID, snapshot); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"conn_id":     sender.ID(),
			"document_id": documentID,
		}).Error("Failed to persist document snapshot")
		return err
	}
	return nil
}
