package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/chorus/storage"
	"github.com/jmcleod/chorus/storage/storagetest"
)

func TestCredentialStore(t *testing.T) {
	storagetest.RunCredentialStoreTests(t, func(t *testing.T) storage.CredentialStore {
		return NewStore()
	})
}

func TestSessionStore(t *testing.T) {
	storagetest.RunSessionStoreTests(t, func(t *testing.T) (storage.SessionStore, *storagetest.Clock) {
		clock := storagetest.NewClock()
		return NewStore(WithClock(clock.Now)), clock
	})
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	clock := storagetest.NewClock()
	s := NewStore(WithClock(clock.Now))

	old, err := s.CreateSession(ctx, "u1", "alice")
	require.NoError(t, err)
	clock.Advance(12 * time.Hour)
	fresh, err := s.CreateSession(ctx, "u2", "bob")
	require.NoError(t, err)
	clock.Advance(13 * time.Hour)

	var e storage.Expirer = s
	n, err := e.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.FindByToken(ctx, old)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.FindByToken(ctx, fresh)
	assert.NoError(t, err)
}

func TestFindByUsernameReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, err := s.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)

	u, err := s.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	u.PasswordHash = "mutated"

	again, err := s.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash", again.PasswordHash)
}
