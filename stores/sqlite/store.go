package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"codocs/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	docTableStmt := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content BLOB,
		owner_id TEXT NOT NULL,
		collaborators TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME,
		updated_at DATETIME
	);`
	if _, err = db.Exec(docTableStmt); err != nil {
		log.Fatalf("failed to create documents table: %v", err)
	}

	userTableStmt := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash BLOB NOT NULL,
		created_at DATETIME
	);`
	if _, err = db.Exec(userTableStmt); err != nil {
		log.Fatalf("failed to create users table: %v", err)
	}

	return &sqliteStore{db}
}

func scanDocument(row *sql.Row) (*core.Document, error) {
	var doc core.Document
	var collaborators string
	err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.OwnerID, &collaborators, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(collaborators), &doc.Collaborators); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DocumentStore implementation

func (s *sqliteStore) Create(ctx context.Context, ownerID string) (*core.Document, error) {
	now := time.Now()
	doc := &core.Document{
		ID:        ulid.Make().String(),
		Title:     core.DefaultTitle,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (id, title, content, owner_id, collaborators, created_at, updated_at) VALUES (?, ?, ?, ?, '[]', ?, ?)",
		doc.ID, doc.Title, doc.Content, doc.OwnerID, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		logrus.WithError(err).Error("Failed to create document")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"owner_id":    ownerID,
	}).Info("Document created")
	return doc, nil
}

func (s *sqliteStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, title, content, owner_id, collaborators, created_at, updated_at FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if err != nil {
		if err == core.ErrNotFound {
			logrus.WithField("document_id", id).Warn("Document with specified ID not found")
		} else {
			logrus.WithError(err).WithField("document_id", id).Error("Failed to retrieve document")
		}
		return nil, err
	}
	return doc, nil
}

func (s *sqliteStore) ListForUser(ctx context.Context, userID string) ([]*core.Document, error) {
	// Collaborators is a JSON array of user ids; membership is matched on the
	// quoted id to avoid prefix collisions.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, owner_id, collaborators, created_at, updated_at
		 FROM documents
		 WHERE owner_id = ? OR instr(collaborators, ?) > 0
		 ORDER BY updated_at DESC, id ASC`,
		userID, `"`+userID+`"`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]*core.Document, 0)
	for rows.Next() {
		var doc core.Document
		var collaborators string
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.OwnerID, &collaborators, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(collaborators), &doc.Collaborators); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func (s *sqliteStore) UpdateContent(ctx context.Context, id string, content []byte) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET content = ?, updated_at = ? WHERE id = ?", content, time.Now(), id)
	if err != nil {
		logrus.WithError(err).WithField("document_id", id).Error("Failed to update document content")
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) UpdateTitle(ctx context.Context, id string, title string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET title = ?, updated_at = ? WHERE id = ?", title, time.Now(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) AddCollaborator(ctx context.Context, id string, userID string) error {
	return s.mutateCollaborators(ctx, id, func(set []string) ([]string, error) {
		for _, c := range set {
			if c == userID {
				return nil, core.ErrAlreadyShared
			}
		}
		return append(set, userID), nil
	})
}

func (s *sqliteStore) RemoveCollaborator(ctx context.Context, id string, userID string) error {
	return s.mutateCollaborators(ctx, id, func(set []string) ([]string, error) {
		kept := make([]string, 0, len(set))
		for _, c := range set {
			if c != userID {
				kept = append(kept, c)
			}
		}
		if len(kept) == len(set) {
			return nil, core.ErrNotCollaborator
		}
		return kept, nil
	})
}

// mutateCollaborators reads, transforms, and writes the collaborator set in a
// single transaction so concurrent share/unshare calls cannot clobber each
// other.
func (s *sqliteStore) mutateCollaborators(ctx context.Context, id string, transform func([]string) ([]string, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, "SELECT collaborators FROM documents WHERE id = ?", id).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.ErrNotFound
		}
		return err
	}

	var set []string
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return err
	}

	next, err := transform(set)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET collaborators = ?, updated_at = ? WHERE id = ?", string(encoded), time.Now(), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}
	logrus.WithField("document_id", id).Info("Document deleted")
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// UserStore implementation

func (s *sqliteStore) CreateUser(ctx context.Context, email string, passwordHash []byte) (*core.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM users WHERE email = ?", email).Scan(&exists)
	if err == nil {
		return nil, core.ErrEmailTaken
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	user := &core.User{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		user.ID, user.Email, user.PasswordHash, user.CreatedAt); err != nil {
		logrus.WithError(err).Error("Failed to create user")
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	logrus.WithField("user_id", user.ID).Info("User registered")
	return user, nil
}

func (s *sqliteStore) FindByEmail(ctx context.Context, email string) (*core.User, error) {
	var user core.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = ?", email).
		Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *sqliteStore) FindUserID(ctx context.Context, id string) (*core.User, error) {
	var user core.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}
