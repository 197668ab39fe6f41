// Package memory provides a thread-safe in-memory implementation of the
// storage contracts. Data is lost when the process exits.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jmcleod/chorus/internal/uuid"
	"github.com/jmcleod/chorus/storage"
)

// Store is a thread-safe in-memory CredentialStore and SessionStore.
// Suitable for testing, demos, and single-process use cases.
type Store struct {
	mu       sync.RWMutex
	users    map[string]storage.User
	sessions map[string]storage.Session
	now      func() time.Time
}

var (
	_ storage.CredentialStore = (*Store)(nil)
	_ storage.SessionStore    = (*Store)(nil)
	_ storage.Expirer         = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for session timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a new empty in-memory Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		users:    make(map[string]storage.User),
		sessions: make(map[string]storage.Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CreateUser(_ context.Context, username, passwordHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return "", storage.ErrDuplicateUsername
	}
	u := storage.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}
	s.users[username] = u
	return u.ID, nil
}

func (s *Store) FindByUsername(_ context.Context, username string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func (s *Store) CreateSession(_ context.Context, userID, username string) (string, error) {
	token, err := storage.NewSessionToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = storage.Session{
		Token:     token,
		UserID:    userID,
		Username:  username,
		CreatedAt: s.now().UTC(),
	}
	return token, nil
}

func (s *Store) FindByToken(_ context.Context, token string) (*storage.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	if sess.ExpiredAt(s.now()) {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	return &sess, nil
}

func (s *Store) DeleteByToken(_ context.Context, token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[token]; !ok {
		return 0, nil
	}
	delete(s.sessions, token)
	return 1, nil
}

func (s *Store) DeleteAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.sessions))
	s.sessions = make(map[string]storage.Session)
	return n, nil
}

// DeleteExpired removes every session past its TTL and returns the count.
func (s *Store) DeleteExpired(_ context.Context) (int64, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for token, sess := range s.sessions {
		if sess.ExpiredAt(now) {
			delete(s.sessions, token)
			n++
		}
	}
	return n, nil
}
