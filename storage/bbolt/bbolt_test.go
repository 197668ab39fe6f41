package bbolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/chorus/storage"
	"github.com/jmcleod/chorus/storage/storagetest"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chorus-test.db")
	s, err := NewStoreFromFile(path, nil, opts...)
	if err != nil {
		t.Fatalf("could not open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCredentialStore(t *testing.T) {
	storagetest.RunCredentialStoreTests(t, func(t *testing.T) storage.CredentialStore {
		return newTestStore(t)
	})
}

func TestSessionStore(t *testing.T) {
	storagetest.RunSessionStoreTests(t, func(t *testing.T) (storage.SessionStore, *storagetest.Clock) {
		clock := storagetest.NewClock()
		return newTestStore(t, WithClock(clock.Now)), clock
	})
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	clock := storagetest.NewClock()
	s := newTestStore(t, WithClock(clock.Now))

	var old []string
	for i := 0; i < 5; i++ {
		token, err := s.CreateSession(ctx, "u1", "alice")
		require.NoError(t, err)
		old = append(old, token)
	}
	clock.Advance(20 * time.Hour)
	fresh, err := s.CreateSession(ctx, "u2", "bob")
	require.NoError(t, err)
	clock.Advance(5 * time.Hour)

	n, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	// Evicted sessions are physically gone, not just filtered.
	err = s.db.View(func(tx *bbolt.Tx) error {
		for _, token := range old {
			assert.Nil(t, tx.Bucket(sessionsBucket).Get([]byte(token)))
		}
		return nil
	})
	require.NoError(t, err)

	_, err = s.FindByToken(ctx, fresh)
	assert.NoError(t, err)
}

func TestDeleteExpiredRemovesCorruptEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte("garbage"), []byte("{not json"))
	})
	require.NoError(t, err)

	n, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := NewStoreFromFile(path, nil)
	require.NoError(t, err)
	id, err := s.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	token, err := s.CreateSession(ctx, id, "alice")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewStoreFromFile(path, nil)
	require.NoError(t, err)
	defer s.Close()

	u, err := s.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)

	sess, err := s.FindByToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.Username)
}
