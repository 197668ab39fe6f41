// Package bbolt provides a BBolt-backed implementation of the storage
// contracts. Users and sessions live in separate buckets, each value a JSON
// document keyed by username or token respectively.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/chorus/internal/uuid"
	"github.com/jmcleod/chorus/storage"
)

var (
	usersBucket    = []byte("users")
	sessionsBucket = []byte("sessions")
)

// Store implements storage.CredentialStore and storage.SessionStore backed
// by a BBolt database.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
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

// NewStore returns a Store backed by the given BBolt database, creating the
// buckets it needs.
func NewStore(db *bbolt.DB, opts ...Option) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{usersBucket, sessionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewStoreFromFile opens a BBolt database at the given path and returns a new Store.
func NewStoreFromFile(path string, options *bbolt.Options, opts ...Option) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewStore(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateUser(_ context.Context, username, passwordHash string) (string, error) {
	u := storage.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}
	data, err := json.Marshal(u)
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b.Get([]byte(username)) != nil {
			return storage.ErrDuplicateUsername
		}
		return b.Put([]byte(username), data)
	})
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func (s *Store) FindByUsername(_ context.Context, username string) (*storage.User, error) {
	var u storage.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(usersBucket).Get([]byte(username))
		if data == nil {
			return fmt.Errorf("user %q: %w", username, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateSession(_ context.Context, userID, username string) (string, error) {
	token, err := storage.NewSessionToken()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(storage.Session{
		Token:     token,
		UserID:    userID,
		Username:  username,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b.Get([]byte(token)) != nil {
			return fmt.Errorf("session token collision")
		}
		return b.Put([]byte(token), data)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *Store) FindByToken(_ context.Context, token string) (*storage.Session, error) {
	var sess storage.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(sessionsBucket).Get([]byte(token))
		if data == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(data, &sess)
	})
	if err != nil {
		return nil, err
	}
	if sess.ExpiredAt(s.now()) {
		return nil, storage.ErrNotFound
	}
	return &sess, nil
}

func (s *Store) DeleteByToken(_ context.Context, token string) (int64, error) {
	var n int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b.Get([]byte(token)) == nil {
			return nil
		}
		n = 1
		return b.Delete([]byte(token))
	})
	return n, err
}

func (s *Store) DeleteAll(_ context.Context) (int64, error) {
	var n int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		n = int64(tx.Bucket(sessionsBucket).Stats().KeyN)
		if err := tx.DeleteBucket(sessionsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(sessionsBucket)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteExpired removes sessions past their TTL. Entries that fail to decode
// are removed as well.
func (s *Store) DeleteExpired(_ context.Context) (int64, error) {
	now := s.now()
	var n int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var sess storage.Session
			if err := json.Unmarshal(v, &sess); err != nil || sess.ExpiredAt(now) {
				// Keys are only valid for the life of the transaction.
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = int64(len(stale))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
