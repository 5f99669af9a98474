package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"codocs/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type memStore struct {
	mu        sync.RWMutex
	documents map[string]*core.Document
	users     map[string]*core.User
	byEmail   map[string]string
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		documents: make(map[string]*core.Document),
		users:     make(map[string]*core.User),
		byEmail:   make(map[string]string),
	}
}

func cloneDocument(d *core.Document) *core.Document {
	doc := *d
	doc.Content = append([]byte(nil), d.Content...)
	doc.Collaborators = append([]string(nil), d.Collaborators...)
	return &doc
}

// DocumentStore implementation

func (s *memStore) Create(ctx context.Context, ownerID string) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	doc := &core.Document{
		ID:        ulid.Make().String(),
		Title:     core.DefaultTitle,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.documents[doc.ID] = doc

	logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"owner_id":    ownerID,
	}).Info("Document created")
	return cloneDocument(doc), nil
}

func (s *memStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		logrus.WithField("document_id", id).Warn("Document with specified ID not found")
		return nil, core.ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (s *memStore) ListForUser(ctx context.Context, userID string) ([]*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*core.Document, 0)
	for _, doc := range s.documents {
		if doc.OwnerID != userID && !doc.IsCollaborator(userID) {
			continue
		}
		listDoc := cloneDocument(doc)
		listDoc.Content = nil
		docs = append(docs, listDoc)
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})

	logrus.WithField("user_id", userID).Debugf("Listed %d documents", len(docs))
	return docs, nil
}

func (s *memStore) UpdateContent(ctx context.Context, id string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return core.ErrNotFound
	}
	doc.Content = append([]byte(nil), content...)
	doc.UpdatedAt = time.Now()

	logrus.WithFields(logrus.Fields{
		"document_id":    id,
		"content_length": len(content),
	}).Debug("Document content updated")
	return nil
}

func (s *memStore) UpdateTitle(ctx context.Context, id string, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return core.ErrNotFound
	}
	doc.Title = title
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) AddCollaborator(ctx context.Context, id string, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return core.ErrNotFound
	}
	if doc.IsCollaborator(userID) {
		return core.ErrAlreadyShared
	}
	doc.Collaborators = append(doc.Collaborators, userID)
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) RemoveCollaborator(ctx context.Context, id string, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return core.ErrNotFound
	}
	if !doc.IsCollaborator(userID) {
		return core.ErrNotCollaborator
	}
	kept := make([]string, 0, len(doc.Collaborators)-1)
	for _, c := range doc.Collaborators {
		if c != userID {
			kept = append(kept, c)
		}
	}
	doc.Collaborators = kept
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.documents, id)
	logrus.WithField("document_id", id).Info("Document deleted")
	return nil
}

// UserStore implementation

func (s *memStore) CreateUser(ctx context.Context, email string, passwordHash []byte) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[email]; taken {
		return nil, core.ErrEmailTaken
	}

	user := &core.User{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: append([]byte(nil), passwordHash...),
		CreatedAt:    time.Now(),
	}
	s.users[user.ID] = user
	s.byEmail[email] = user.ID

	logrus.WithField("user_id", user.ID).Info("User registered")
	u := *user
	return &u, nil
}

func (s *memStore) FindByEmail(ctx context.Context, email string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	u := *s.users[id]
	return &u, nil
}

func (s *memStore) FindUserID(ctx context.Context, id string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	u := *user
	return &u, nil
}
