// Package storage defines the persistence contracts for user credentials and
// login sessions, along with the record types shared by every backend.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jmcleod/chorus/internal/util"
)

var (
	// ErrNotFound is returned when a user or session does not exist. Expired
	// sessions are reported as ErrNotFound as well.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateUsername is returned by CreateUser when the username is
	// already taken. Backends enforce this atomically.
	ErrDuplicateUsername = errors.New("username already exists")
)

const (
	// SessionTTL is the fixed lifetime of a session measured from creation.
	// It does not slide with activity.
	SessionTTL = 24 * time.Hour
	// SessionTokenBytes is the entropy of a generated session token.
	SessionTokenBytes = 32
)

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session binds an opaque bearer token to a user.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// ExpiredAt reports whether the session is past SessionTTL at t.
func (s *Session) ExpiredAt(t time.Time) bool {
	return !t.Before(s.CreatedAt.Add(SessionTTL))
}

// CredentialStore persists users. Usernames are unique.
type CredentialStore interface {
	// CreateUser stores a new user and returns its ID. It returns
	// ErrDuplicateUsername if the username exists.
	CreateUser(ctx context.Context, username, passwordHash string) (string, error)
	// FindByUsername returns the user with exactly this username or ErrNotFound.
	FindByUsername(ctx context.Context, username string) (*User, error)
}

// SessionStore persists login sessions. Sessions older than SessionTTL are
// never returned by FindByToken, whether or not they have been evicted yet.
type SessionStore interface {
	// CreateSession issues a fresh unguessable token for the user.
	CreateSession(ctx context.Context, userID, username string) (string, error)
	// FindByToken returns the live session for token or ErrNotFound.
	FindByToken(ctx context.Context, token string) (*Session, error)
	// DeleteByToken removes the session and reports how many were removed.
	// Deleting an unknown token is not an error.
	DeleteByToken(ctx context.Context, token string) (int64, error)
	// DeleteAll removes every session and reports how many were removed.
	DeleteAll(ctx context.Context) (int64, error)
}

// NewSessionToken returns a base64url token carrying SessionTokenBytes of
// entropy from crypto/rand.
func NewSessionToken() (string, error) {
	return util.RandomToken(SessionTokenBytes)
}
