// Package storagetest provides a contract suite that every storage backend
// runs against its own CredentialStore and SessionStore implementations.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/chorus/storage"
)

// Clock is a manually advanced time source injected into stores under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock fixed at a deterministic instant.
func NewClock() *Clock {
	return NewClockAt(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC))
}

// NewClockAt returns a Clock starting at t. Backends that expire data with
// the server's own wall clock need a start close to the real time.
func NewClockAt(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// RunCredentialStoreTests exercises the CredentialStore contract. newStore
// must return an empty store on every call.
func RunCredentialStoreTests(t *testing.T, newStore func(t *testing.T) storage.CredentialStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateAndFind", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreateUser(ctx, "alice", "hash-a")
		require.NoError(t, err)
		require.NotEmpty(t, id)

		u, err := s.FindByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, id, u.ID)
		assert.Equal(t, "alice", u.Username)
		assert.Equal(t, "hash-a", u.PasswordHash)
	})

	t.Run("FindMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FindByUsername(ctx, "ghost")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("CaseSensitive", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateUser(ctx, "Bob", "h")
		require.NoError(t, err)
		_, err = s.FindByUsername(ctx, "bob")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateUser(ctx, "carol", "h1")
		require.NoError(t, err)
		_, err = s.CreateUser(ctx, "carol", "h2")
		assert.ErrorIs(t, err, storage.ErrDuplicateUsername)

		u, err := s.FindByUsername(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, "h1", u.PasswordHash, "first registration must win")
	})

	t.Run("ConcurrentDuplicateUsername", func(t *testing.T) {
		s := newStore(t)
		const n = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.CreateUser(ctx, "dave", "h")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, storage.ErrDuplicateUsername):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, successes)
		assert.Equal(t, n-1, conflicts)
	})

	t.Run("DistinctIDs", func(t *testing.T) {
		s := newStore(t)
		id1, err := s.CreateUser(ctx, "erin", "h")
		require.NoError(t, err)
		id2, err := s.CreateUser(ctx, "frank", "h")
		require.NoError(t, err)
		assert.NotEqual(t, id1, id2)
	})
}

// RunSessionStoreTests exercises the SessionStore contract. newStore must
// return an empty store whose notion of "now" is driven by the returned Clock.
func RunSessionStoreTests(t *testing.T, newStore func(t *testing.T) (storage.SessionStore, *Clock)) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateAndFind", func(t *testing.T) {
		s, clock := newStore(t)
		token, err := s.CreateSession(ctx, "u1", "alice")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(token), 43, "token should carry at least 32 bytes of entropy")

		sess, err := s.FindByToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, token, sess.Token)
		assert.Equal(t, "u1", sess.UserID)
		assert.Equal(t, "alice", sess.Username)
		assert.True(t, sess.CreatedAt.Equal(clock.Now()), "CreatedAt %v, want %v", sess.CreatedAt, clock.Now())
	})

	t.Run("FindMissing", func(t *testing.T) {
		s, _ := newStore(t)
		_, err := s.FindByToken(ctx, "no-such-token")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UniqueTokens", func(t *testing.T) {
		s, _ := newStore(t)
		t1, err := s.CreateSession(ctx, "u1", "alice")
		require.NoError(t, err)
		t2, err := s.CreateSession(ctx, "u1", "alice")
		require.NoError(t, err)
		assert.NotEqual(t, t1, t2)

		// Multiple sessions per user stay valid concurrently.
		_, err = s.FindByToken(ctx, t1)
		assert.NoError(t, err)
		_, err = s.FindByToken(ctx, t2)
		assert.NoError(t, err)
	})

	t.Run("DeleteByToken", func(t *testing.T) {
		s, _ := newStore(t)
		token, err := s.CreateSession(ctx, "u1", "alice")
		require.NoError(t, err)

		n, err := s.DeleteByToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = s.FindByToken(ctx, token)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		n, err = s.DeleteByToken(ctx, token)
		require.NoError(t, err, "deleting twice must not fail")
		assert.Equal(t, int64(0), n)
	})

	t.Run("DeleteAll", func(t *testing.T) {
		s, _ := newStore(t)
		var tokens []string
		for i := 0; i < 3; i++ {
			token, err := s.CreateSession(ctx, "u1", "alice")
			require.NoError(t, err)
			tokens = append(tokens, token)
		}
		n, err := s.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		for _, token := range tokens {
			_, err := s.FindByToken(ctx, token)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		}

		n, err = s.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("ExpiresAfterTTL", func(t *testing.T) {
		s, clock := newStore(t)
		token, err := s.CreateSession(ctx, "u1", "alice")
		require.NoError(t, err)

		clock.Advance(storage.SessionTTL - time.Second)
		_, err = s.FindByToken(ctx, token)
		require.NoError(t, err, "session must be live just before the TTL")

		clock.Advance(2 * time.Second)
		_, err = s.FindByToken(ctx, token)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ExpiryIsNotSliding", func(t *testing.T) {
		s, clock := newStore(t)
		token, err := s.CreateSession(ctx, "u1", "alice")
		require.NoError(t, err)

		for i := 0; i < 4; i++ {
			clock.Advance(6 * time.Hour)
			_, _ = s.FindByToken(ctx, token)
		}
		_, err = s.FindByToken(ctx, token)
		assert.ErrorIs(t, err, storage.ErrNotFound, "reads must not extend the session")
	})
}
