package core

import (
	"context"
	"errors"
	"time"
)

// DefaultTitle is the title every freshly created document starts with.
const DefaultTitle = "Untitled Document"

var (
	ErrNotFound         = errors.New("document not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrAlreadyShared    = errors.New("document already shared with this user")
	ErrNotCollaborator  = errors.New("user is not a collaborator on this document")
	ErrSelfShare        = errors.New("cannot share a document with yourself")
)

type (
	// Document is a shared text document. Content is the editor's own
	// representation and is carried as an uninterpreted blob; the server
	// never parses or merges it.
	Document struct {
		ID            string    `json:"id"`
		Title         string    `json:"title"`
		Content       []byte    `json:"-"`
		OwnerID       string    `json:"owner"`
		Collaborators []string  `json:"collaborators"`
		CreatedAt     time.Time `json:"createdAt"`
		UpdatedAt     time.Time `json:"updatedAt"`
	}

	// DocumentStore defines the persistence layer for documents. A single
	// document mutation is atomic at the store; concurrent content writes
	// resolve last-write-wins by arrival order.
	DocumentStore interface {
		// Create stores a new empty document owned by ownerID, with the
		// default title.
		Create(ctx context.Context, ownerID string) (*Document, error)

		// FindID returns the document or ErrNotFound.
		FindID(ctx context.Context, id string) (*Document, error)

		// ListForUser returns all documents the user owns or collaborates
		// on, newest first. The Content field is omitted to keep list
		// responses light.
		ListForUser(ctx context.Context, userID string) ([]*Document, error)

		// UpdateContent overwrites the content blob and bumps UpdatedAt.
		UpdateContent(ctx context.Context, id string, content []byte) error

		// UpdateTitle renames the document. Authorization is the caller's
		// responsibility.
		UpdateTitle(ctx context.Context, id string, title string) error

		// AddCollaborator grants userID access. Returns ErrAlreadyShared
		// if already present.
		AddCollaborator(ctx context.Context, id string, userID string) error

		// RemoveCollaborator revokes userID's access. Returns
		// ErrNotCollaborator if absent.
		RemoveCollaborator(ctx context.Context, id string, userID string) error

		// Delete removes the document. Evicting any live room is the
		// caller's responsibility.
		Delete(ctx context.Context, id string) error
	}
)

// IsCollaborator reports whether userID is in the document's collaborator set.
func (d *Document) IsCollaborator(userID string) bool {
	for _, c := range d.Collaborators {
		if c == userID {
			return true
		}
	}
	return false
}
