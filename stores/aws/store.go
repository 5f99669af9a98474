package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"codocs/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
)

const (
	documentPrefix = "documents/"
	userPrefix     = "users/"
)

type s3Store struct {
	s3Client *s3.Client
	bucket   string
}

// documentRecord is the stored object form; the API type hides Content from
// JSON responses so it is carried explicitly here.
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

// NewStore creates a new S3-based store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}
	return &s3Store{s3Client: s3.NewFromConfig(cfg), bucket: bucketName}
}

func (s *s3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %v", key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *s3Store) putObject(ctx context.Context, key string, data []byte) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %v", key, err)
	}
	return nil
}

func (s *s3Store) readDocument(ctx context.Context, id string) (*documentRecord, error) {
	data, err := s.getObject(ctx, documentPrefix+id)
	if err != nil {
		return nil, err
	}
	var rec documentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document %s: %v", id, err)
	}
	return &rec, nil
}

func (s *s3Store) writeDocument(ctx context.Context, rec *documentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %v", err)
	}
	return s.putObject(ctx, documentPrefix+rec.ID, data)
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

// DocumentStore implementation

func (s *s3Store) Create(ctx context.Context, ownerID string) (*core.Document, error) {
	now := time.Now()
	rec := &documentRecord{
		ID:        ulid.Make().String(),
		Title:     core.DefaultTitle,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.writeDocument(ctx, rec); err != nil {
		return nil, err
	}
	return recordToDocument(rec), nil
}

func (s *s3Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	rec, err := s.readDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return recordToDocument(rec), nil
}

func (s *s3Store) ListForUser(ctx context.Context, userID string) ([]*core.Document, error) {
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(documentPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %v", err)
	}

	docs := make([]*core.Document, 0, len(output.Contents))
	for _, object := range output.Contents {
		data, err := s.getObject(ctx, *object.Key)
		if err != nil {
			log.Printf("warn: failed to get object %s: %v", *object.Key, err)
			continue
		}
		var rec documentRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Printf("warn: failed to unmarshal document %s: %v", *object.Key, err)
			continue
		}
		doc := recordToDocument(&rec)
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

func (s *s3Store) mutate(ctx context.Context, id string, apply func(*documentRecord) error) error {
	rec, err := s.readDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := apply(rec); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now()
	return s.writeDocument(ctx, rec)
}

func (s *s3Store) UpdateContent(ctx context.Context, id string, content []byte) error {
	return s.mutate(ctx, id, func(rec *documentRecord) error {
		rec.Content = content
		return nil
	})
}

func (s *s3Store) UpdateTitle(ctx context.Context, id string, title string) error {
	return s.mutate(ctx, id, func(rec *documentRecord) error {
		rec.Title = title
		return nil
	})
}

func (s *s3Store) AddCollaborator(ctx context.Context, id string, userID string) error {
	return s.mutate(ctx, id, func(rec *documentRecord) error {
		for _, c := range rec.Collaborators {
			if c == userID {
				return core.ErrAlreadyShared
			}
		}
		rec.Collaborators = append(rec.Collaborators, userID)
		return nil
	})
}

func (s *s3Store) RemoveCollaborator(ctx context.Context, id string, userID string) error {
	return s.mutate(ctx, id, func(rec *documentRecord) error {
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

func (s *s3Store) Delete(ctx context.Context, id string) error {
	// Confirm existence first so delete reports NotFound like other backends.
	if _, err := s.readDocument(ctx, id); err != nil {
		return err
	}
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(documentPrefix + id),
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %v", id, err)
	}
	return nil
}

// UserStore implementation

func (s *s3Store) CreateUser(ctx context.Context, email string, passwordHash []byte) (*core.User, error) {
	if _, err := s.FindByEmail(ctx, email); err == nil {
		return nil, core.ErrEmailTaken
	} else if !errors.Is(err, core.ErrUserNotFound) {
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
		return nil, fmt.Errorf("failed to marshal user: %v", err)
	}
	if err := s.putObject(ctx, userPrefix+rec.ID, data); err != nil {
		return nil, err
	}
	return &core.User{ID: rec.ID, Email: rec.Email, PasswordHash: rec.PasswordHash, CreatedAt: rec.CreatedAt}, nil
}

func (s *s3Store) FindByEmail(ctx context.Context, email string) (*core.User, error) {
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(userPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %v", err)
	}

	for _, object := range output.Contents {
		data, err := s.getObject(ctx, *object.Key)
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

func (s *s3Store) FindUserID(ctx context.Context, id string) (*core.User, error) {
	data, err := s.getObject(ctx, userPrefix+id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	var rec userRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user %s: %v", id, err)
	}
	return &core.User{ID: rec.ID, Email: rec.Email, PasswordHash: rec.PasswordHash, CreatedAt: rec.CreatedAt}, nil
}
