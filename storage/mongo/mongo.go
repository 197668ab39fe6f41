// Package mongo implements the storage contracts on MongoDB.
//
// The collection layout matches the one the service has always used:
// "users" holds {username, password, created_at} with a unique index on
// username, and "sessions" holds {token, user_id, username, created_at}
// with a TTL index that lets the server evict sessions a day after creation.
// Reads still filter on created_at because TTL eviction runs only
// periodically on the server.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jmcleod/chorus/storage"
)

const (
	usersCollection    = "users"
	sessionsCollection = "sessions"
)

type userDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	Username  string             `bson:"username"`
	Password  string             `bson:"password"`
	CreatedAt time.Time          `bson:"created_at"`
}

type sessionDoc struct {
	Token     string    `bson:"token"`
	UserID    string    `bson:"user_id"`
	Username  string    `bson:"username"`
	CreatedAt time.Time `bson:"created_at"`
}

// Store implements storage.CredentialStore and storage.SessionStore on a
// MongoDB database.
type Store struct {
	client   *mongo.Client
	users    *mongo.Collection
	sessions *mongo.Collection
	now      func() time.Time
}

var (
	_ storage.CredentialStore = (*Store)(nil)
	_ storage.SessionStore    = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for session timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns a Store over db. Indexes are not created; call
// EnsureIndexes once at startup.
func NewStore(db *mongo.Database, opts ...Option) *Store {
	s := &Store{
		users:    db.Collection(usersCollection),
		sessions: db.Collection(sessionsCollection),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials uri, verifies the connection, ensures indexes exist on
// database and returns a Store that owns the client.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	s := NewStore(client.Database(database), opts...)
	s.client = client
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the unique username index, the unique token index
// and the created_at TTL index. Existing identical indexes are left alone.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("creating users index: %w", err)
	}
	_, err = s.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(storage.SessionTTL / time.Second)),
		},
	})
	if err != nil {
		return fmt.Errorf("creating sessions indexes: %w", err)
	}
	return nil
}

// Close disconnects the client if the Store owns one.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// timestamp returns the current time at the millisecond precision BSON
// dates carry.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (string, error) {
	doc := userDoc{
		ID:        primitive.NewObjectID(),
		Username:  username,
		Password:  passwordHash,
		CreatedAt: s.timestamp(),
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", storage.ErrDuplicateUsername
		}
		return "", fmt.Errorf("inserting user: %w", err)
	}
	return doc.ID.Hex(), nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*storage.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return &storage.User{
		ID:           doc.ID.Hex(),
		Username:     doc.Username,
		PasswordHash: doc.Password,
		CreatedAt:    doc.CreatedAt,
	}, nil
}

func (s *Store) CreateSession(ctx context.Context, userID, username string) (string, error) {
	token, err := storage.NewSessionToken()
	if err != nil {
		return "", err
	}
	doc := sessionDoc{
		Token:     token,
		UserID:    userID,
		Username:  username,
		CreatedAt: s.timestamp(),
	}
	if _, err := s.sessions.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}
	return token, nil
}

func (s *Store) FindByToken(ctx context.Context, token string) (*storage.Session, error) {
	cutoff := s.now().Add(-storage.SessionTTL).UTC()
	filter := bson.M{
		"token":      token,
		"created_at": bson.M{"$gt": cutoff},
	}
	var doc sessionDoc
	if err := s.sessions.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("finding session: %w", err)
	}
	return &storage.Session{
		Token:     doc.Token,
		UserID:    doc.UserID,
		Username:  doc.Username,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (s *Store) DeleteByToken(ctx context.Context, token string) (int64, error) {
	res, err := s.sessions.DeleteOne(ctx, bson.M{"token": token})
	if err != nil {
		return 0, fmt.Errorf("deleting session: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.sessions.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("deleting sessions: %w", err)
	}
	return res.DeletedCount, nil
}
