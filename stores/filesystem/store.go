package filesystem

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"codocs/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type fsStore struct {
	basePath string
	// Serializes read-modify-write cycles on document files; the
	// filesystem has no transactions.
	mu sync.Mutex
}

// documentRecord is the on-disk form of a document. Content is carried
// explicitly because the API type hides it from JSON responses.
type documentRecord struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Content       []byte    `json:"content"`
	OwnerID       string    `json:"owner"`
	Collaborators []string  `json:"collaborators"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type userRecord struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) *fsStore {
	for _, dir := range []string{basePath, filepath.Join(basePath, "documents"), filepath.Join(basePath, "users")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("failed to create storage directory: %v", err)
		}
	}
	return &fsStore{basePath: basePath}
}

func (s *fsStore) documentPath(id string) string {
	return filepath.Join(s.basePath, "documents", id+".json")
}

func (s *fsStore) userPath(id string) string {
	return filepath.Join(s.basePath, "users", id+".json")
}

func recordToDocument(rec *documentRecord) *core.Document {
	collaborators := rec.Collaborators
	if collaborators == nil {
		collaborators = []string{}
	}
	return &core.Document{
		ID:            rec.ID,
		Title:         rec.Title,
		Content:       rec.Content,
		OwnerID:       rec.OwnerID,
		Collaborators: collaborators,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func (s *fsStore) readDocument(id string) (*documentRecord, error) {
	data, err := os.ReadFile(s.documentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	var rec documentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *fsStore) writeDocument(rec *documentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(s.documentPath(rec.ID), data, 0644)
}

// DocumentStore implementation

func (s *fsStore) Create(ctx context.Context, ownerID string) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rec := &documentRecord{
		ID:        ulid.Make().String(),
		Title:     core.DefaultTitle,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.writeDocument(rec); err != nil {
		logrus.WithError(err).Error("Failed to create document file")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"document_id": rec.ID,
		"owner_id":    ownerID,
	}).Info("Document created")
	return recordToDocument(rec), nil
}

func (s *fsStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readDocument(id)
	if err != nil {
		if err == core.ErrNotFound {
			logrus.WithField("document_id", id).Warn("Document with specified ID not found")
		}
		return nil, err
	}
	return recordToDocument(rec), nil
}

func (s *fsStore) ListForUser(ctx context.Context, userID string) ([]*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.basePath, "documents"))
	if err != nil {
		return nil, err
	}

	docs := make([]*core.Document, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.readDocument(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			logrus.WithError(err).Warnf("Skipping unreadable document file %s", entry.Name())
			continue
		}
		doc := recordToDocument(rec)
		if doc.OwnerID != userID && !doc.IsCollaborator(userID) {
			continue
		}
		doc.Content = nil
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
	return docs, nil
}

func (s *fsStore) mutate(id string, apply func(*documentRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readDocument(id)
	if err != nil {
		return err
	}
	if err := apply(rec); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now()
	return s.writeDocument(rec)
}

func (s *fsStore) UpdateContent(ctx context.Context, id string, content []byte) error {
	return s.mutate(id, func(rec *documentRecord) error {
		rec.Content = content
		return nil
	})
}

func (s *fsStore) UpdateTitle(ctx context.Context, id string, title string) error {
	return s.mutate(id, func(rec *documentRecord) error {
		rec.Title = title
		return nil
	})
}

func (s *fsStore) AddCollaborator(ctx context.Context, id string, userID string) error {
	return s.mutate(id, func(rec *documentRecord) error {
		for _, c := range rec.Collaborators {
			if c == userID {
				return core.ErrAlreadyShared
			}
		}
		rec.Collaborators = append(rec.Collaborators, userID)
		return nil
	})
}

func (s *fsStore) RemoveCollaborator(ctx context.Context, id string, userID string) error {
	return s.mutate(id, func(rec *documentRecord) error {
		kept := make([]string, 0, len(rec.Collaborators))
		for _, c := range rec.Collaborators {
			if c != userID {
				kept = append(kept, c)
			}
		}
		if len(kept) == len(rec.Collaborators) {
			return core.ErrNotCollaborator
		}
		rec.Collaborators = kept
		return nil
	})
}

func (s *fsStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.documentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return core.ErrNotFound
		}
		return err
	}
	logrus.WithField("document_id", id).Info("Document deleted")
	return nil
}

// UserStore implementation

func (s *fsStore) CreateUser(ctx context.Context, email string, passwordHash []byte) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.findUserByEmail(email); err == nil {
		return nil, core.ErrEmailTaken
	} else if err != core.ErrUserNotFound {
		return nil, err
	}

	rec := &userRecord{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.userPath(rec.ID), data, 0600); err != nil {
		logrus.WithError(err).Error("Failed to write user file")
		return nil, err
	}

	logrus.WithField("user_id", rec.ID).Info("User registered")
	return &core.User{ID: rec.ID, Email: rec.Email, PasswordHash: rec.PasswordHash, CreatedAt: rec.CreatedAt}, nil
}

func (s *fsStore) findUserByEmail(email string) (*core.User, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, "users"))
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.basePath, "users", entry.Name()))
		if err != nil {
			continue
		}
		var rec userRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.Email == email {
			return &core.User{ID: rec.ID, Email: rec.Email, PasswordHash: rec.PasswordHash, CreatedAt: rec.CreatedAt}, nil
		}
	}
	return nil, core.ErrUserNotFound
}

func (s *fsStore) FindByEmail(ctx context.Context, email string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findUserByEmail(email)
}

func (s *fsStore) FindUserID(ctx context.Context, id string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.userPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	var rec userRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &core.User{ID: rec.ID, Email: rec.Email, PasswordHash: rec.PasswordHash, CreatedAt: rec.CreatedAt}, nil
}
