// Package redis implements storage.SessionStore on Redis.
//
// Each session is a JSON value under "<prefix><token>" written with SETNX
// and a key TTL equal to the session lifetime, so Redis evicts stale
// sessions itself. Reads still compare created_at against the clock.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/jmcleod/chorus/storage"
)

// DefaultKeyPrefix namespaces session keys.
const DefaultKeyPrefix = "chorus:session:"

const scanBatch = 256

// Store implements storage.SessionStore backed by Redis.
type Store struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ storage.SessionStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for session timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// NewStore returns a Store using client.
func NewStore(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial opens a client for addr and checks it with PING.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return NewStore(client, opts...), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(token string) string {
	return s.prefix + token
}

func (s *Store) CreateSession(ctx context.Context, userID, username string) (string, error) {
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
		return "", fmt.Errorf("marshaling session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(token), data, storage.SessionTTL).Result()
	if err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}
	if !ok {
		return "", errors.New("session token collision")
	}
	return token, nil
}

func (s *Store) FindByToken(ctx context.Context, token string) (*storage.Session, error) {
	data, err := s.client.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	var sess storage.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if sess.ExpiredAt(s.now()) {
		// Best effort; the key TTL removes it anyway.
		_ = s.client.Del(ctx, s.key(token)).Err()
		return nil, storage.ErrNotFound
	}
	return &sess, nil
}

func (s *Store) DeleteByToken(ctx context.Context, token string) (int64, error) {
	n, err := s.client.Del(ctx, s.key(token)).Result()
	if err != nil {
		return 0, fmt.Errorf("deleting session: %w", err)
	}
	return n, nil
}

// DeleteAll removes every key under the store's prefix. Keys are found
// with SCAN so the server is never blocked by KEYS.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	var (
		cursor uint64
		total  int64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return total, fmt.Errorf("scanning sessions: %w", err)
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return total, fmt.Errorf("deleting sessions: %w", err)
			}
			total += n
		}
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}
