package core

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

type (
	User struct {
		ID           string    `json:"id"`
		Email        string    `json:"email"`
		PasswordHash []byte    `json:"-"`
		CreatedAt    time.Time `json:"createdAt"`
	}

	// UserStore defines the persistence layer for registered users. Users
	// are created at registration and read at login and permission checks;
	// they are never mutated or deleted.
	UserStore interface {
		// CreateUser stores a new user. Returns ErrEmailTaken if the
		// email is already registered.
		CreateUser(ctx context.Context, email string, passwordHash []byte) (*User, error)

		// FindByEmail returns the user or ErrUserNotFound.
		FindByEmail(ctx context.Context, email string) (*User, error)

		// FindUserID returns the user or ErrUserNotFound.
		FindUserID(ctx context.Context, id string) (*User, error)
	}
)
