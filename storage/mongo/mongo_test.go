package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/jmcleod/chorus/storage"
	"github.com/jmcleod/chorus/storage/storagetest"
)

var fixedNow = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func TestMockStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("CreateUser returns object id", func(mt *mtest.T) {
		s := NewStore(mt.DB, WithClock(fixedClock))
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		id, err := s.CreateUser(ctx, "alice", "hash")
		require.NoError(mt, err)
		_, err = primitive.ObjectIDFromHex(id)
		assert.NoError(mt, err)
	})

	mt.Run("CreateUser duplicate key", func(mt *mtest.T) {
		s := NewStore(mt.DB, WithClock(fixedClock))
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error collection: users index: username_1",
		}))

		_, err := s.CreateUser(ctx, "alice", "hash")
		assert.ErrorIs(mt, err, storage.ErrDuplicateUsername)
	})

	mt.Run("FindByUsername decodes document", func(mt *mtest.T) {
		s := NewStore(mt.DB, WithClock(fixedClock))
		oid := primitive.NewObjectID()
		ns := mt.DB.Name() + "." + usersCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: oid},
			{Key: "username", Value: "alice"},
			{Key: "password", Value: "pbkdf2:sha256:600000$salt$abc"},
			{Key: "created_at", Value: fixedNow},
		}))

		u, err := s.FindByUsername(ctx, "alice")
		require.NoError(mt, err)
		assert.Equal(mt, oid.Hex(), u.ID)
		assert.Equal(mt, "alice", u.Username)
		assert.Equal(mt, "pbkdf2:sha256:600000$salt$abc", u.PasswordHash)
		assert.True(mt, u.CreatedAt.Equal(fixedNow))
	})

	mt.Run("FindByUsername missing", func(mt *mtest.T) {
		s := NewStore(mt.DB)
		ns := mt.DB.Name() + "." + usersCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := s.FindByUsername(ctx, "ghost")
		assert.ErrorIs(mt, err, storage.ErrNotFound)
	})

	mt.Run("CreateSession", func(mt *mtest.T) {
		s := NewStore(mt.DB, WithClock(fixedClock))
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		token, err := s.CreateSession(ctx, "u-1", "alice")
		require.NoError(mt, err)
		assert.Len(mt, token, 43)
	})

	mt.Run("FindByToken", func(mt *mtest.T) {
		s := NewStore(mt.DB, WithClock(fixedClock))
		ns := mt.DB.Name() + "." + sessionsCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "token", Value: "tok"},
			{Key: "user_id", Value: "u-1"},
			{Key: "username", Value: "alice"},
			{Key: "created_at", Value: fixedNow},
		}))

		sess, err := s.FindByToken(ctx, "tok")
		require.NoError(mt, err)
		assert.Equal(mt, "u-1", sess.UserID)
		assert.Equal(mt, "alice", sess.Username)
	})

	mt.Run("FindByToken missing or expired", func(mt *mtest.T) {
		s := NewStore(mt.DB, WithClock(fixedClock))
		ns := mt.DB.Name() + "." + sessionsCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := s.FindByToken(ctx, "tok")
		assert.ErrorIs(mt, err, storage.ErrNotFound)
	})

	mt.Run("DeleteByToken reports count", func(mt *mtest.T) {
		s := NewStore(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		n, err := s.DeleteByToken(ctx, "tok")
		require.NoError(mt, err)
		assert.Equal(mt, int64(1), n)
	})

	mt.Run("DeleteAll reports count", func(mt *mtest.T) {
		s := NewStore(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 4}))

		n, err := s.DeleteAll(ctx)
		require.NoError(mt, err)
		assert.Equal(mt, int64(4), n)
	})

	mt.Run("EnsureIndexes", func(mt *mtest.T) {
		s := NewStore(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(), mtest.CreateSuccessResponse())

		require.NoError(mt, s.EnsureIndexes(ctx))
	})
}

// The contract suites run against a real server when CHORUS_TEST_MONGO_URI
// is set.
func newLiveStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	uri := os.Getenv("CHORUS_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CHORUS_TEST_MONGO_URI not set; skipping MongoDB tests")
	}
	ctx := context.Background()
	s, err := Connect(ctx, uri, "chorus_test", opts...)
	require.NoError(t, err)

	clean := func() {
		_, _ = s.users.DeleteMany(ctx, bson.M{})
		_, _ = s.sessions.DeleteMany(ctx, bson.M{})
	}
	clean()
	t.Cleanup(func() {
		clean()
		_ = s.Close(ctx)
	})
	return s
}

func TestMongoContract(t *testing.T) {
	storagetest.RunCredentialStoreTests(t, func(t *testing.T) storage.CredentialStore {
		return newLiveStore(t)
	})
	storagetest.RunSessionStoreTests(t, func(t *testing.T) (storage.SessionStore, *storagetest.Clock) {
		// The server's TTL monitor uses real time, so start the clock at now.
		clock := storagetest.NewClockAt(time.Now().UTC().Truncate(time.Millisecond))
		return newLiveStore(t, WithClock(clock.Now)), clock
	})
}
