// Package postgres implements the storage contracts backed by PostgreSQL.
//
// Username uniqueness is enforced by a unique index, so concurrent
// registrations of the same name race safely inside the database. Sessions
// are filtered by created_at on every read and evicted in bulk by
// DeleteExpired.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/chorus/internal/uuid"
	"github.com/jmcleod/chorus/storage"
)

// DB is the subset of *pgxpool.Pool used by Store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements storage.CredentialStore and storage.SessionStore backed
// by PostgreSQL.
type Store struct {
	db    DB
	now   func() time.Time
	close func()
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

// NewStore returns a Store using db. The schema must already exist; see
// EnsureSchema.
func NewStore(db DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now, close: func() {}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewStoreFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a Store that owns the pool.
func NewStoreFromDSN(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	s := NewStore(pool, opts...)
	s.close = pool.Close
	return s, nil
}

// Close releases the connection pool if the Store owns one.
func (s *Store) Close() error {
	s.close()
	return nil
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (string, error) {
	id := uuid.New()
	_, err := s.db.Exec(ctx,
		`INSERT INTO chorus_users (id, username, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		id, username, passwordHash, s.now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return "", storage.ErrDuplicateUsername
		}
		return "", fmt.Errorf("inserting user: %w", err)
	}
	return id, nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*storage.User, error) {
	var u storage.User
	err := s.db.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM chorus_users WHERE username = $1`,
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

func (s *Store) CreateSession(ctx context.Context, userID, username string) (string, error) {
	token, err := storage.NewSessionToken()
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO chorus_sessions (token, user_id, username, created_at) VALUES ($1, $2, $3, $4)`,
		token, userID, username, s.now().UTC())
	if err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}
	return token, nil
}

func (s *Store) FindByToken(ctx context.Context, token string) (*storage.Session, error) {
	var sess storage.Session
	cutoff := s.now().Add(-storage.SessionTTL).UTC()
	err := s.db.QueryRow(ctx,
		`SELECT token, user_id, username, created_at FROM chorus_sessions WHERE token = $1 AND created_at > $2`,
		token, cutoff).Scan(&sess.Token, &sess.UserID, &sess.Username, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return &sess, nil
}

func (s *Store) DeleteByToken(ctx context.Context, token string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM chorus_sessions WHERE token = $1`, token)
	if err != nil {
		return 0, fmt.Errorf("deleting session: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM chorus_sessions`)
	if err != nil {
		return 0, fmt.Errorf("deleting sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-storage.SessionTTL).UTC()
	tag, err := s.db.Exec(ctx, `DELETE FROM chorus_sessions WHERE created_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
