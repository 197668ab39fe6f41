// Package auth implements registration, login, logout and authentication
// checks over a credential store and a session store.
//
// A login issues a session token persisted in the session store. The HTTP
// layer additionally hands the client a sealed cookie carrying the same
// identity, so a request can authenticate with either a bearer token or the
// cookie. CheckAuth resolves them in a fixed order: bearer token first,
// then cookie.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmcleod/chorus/internal/errutil"
	"github.com/jmcleod/chorus/internal/util"
	"github.com/jmcleod/chorus/storage"
)

// Minimum lengths, counted in characters.
const (
	MinUsernameLength = 3
	MinPasswordLength = 6
)

// dummyPasswordHash is verified when the user does not exist so that a
// failed lookup costs as much as a wrong password. It matches no password.
//
//nolint:gosec // G101: not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// LoginResult is returned by a successful Login.
type LoginResult struct {
	UserID   string
	Username string
	Token    string
}

// Service provides the authentication operations.
type Service struct {
	users    storage.CredentialStore
	sessions storage.SessionStore
	hasher   PasswordHasher
	logger   *slog.Logger
	now      func() time.Time
	chain    []resolver
}

// resolver tries to authenticate from the presented sources. ok is false
// when this resolver has nothing to say and the next one should run.
type resolver func(ctx context.Context, sources []AuthSource) (Identity, bool)

// Option configures a Service.
type Option func(*Service)

// WithHasher replaces the default argon2id hasher.
func WithHasher(h PasswordHasher) Option {
	return func(s *Service) { s.hasher = h }
}

// WithLogger sets the logger used for store failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source used to age cookie sessions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service backed by users and sessions.
func NewService(users storage.CredentialStore, sessions storage.SessionStore, opts ...Option) *Service {
	s := &Service{
		users:    users,
		sessions: sessions,
		hasher:   NewArgon2idHasher(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.chain = []resolver{s.resolveBearer, s.resolveCookie}
	return s
}

// Register creates a user and returns its ID. The username is trimmed and
// NFC-normalised before validation and storage. No session is created.
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	username = util.NormalizeName(username)
	if username == "" || password == "" {
		return "", invalidInput(msgFieldsRequired)
	}
	if util.CharCount(username) < MinUsernameLength {
		return "", invalidInput(msgUsernameTooShort)
	}
	if util.CharCount(password) < MinPasswordLength {
		return "", invalidInput(msgPasswordTooShort)
	}

	_, err := s.users.FindByUsername(ctx, username)
	switch {
	case err == nil:
		return "", usernameTaken(username)
	case !errors.Is(err, storage.ErrNotFound):
		return "", s.fail(ctx, msgRegisterFailed, "find user", err, "username", username)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", s.fail(ctx, msgRegisterFailed, "hash password", err)
	}

	id, err := s.users.CreateUser(ctx, username, hash)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateUsername) {
			return "", usernameTaken(username)
		}
		return "", s.fail(ctx, msgRegisterFailed, "create user", err, "username", username)
	}
	s.logger.InfoContext(ctx, "user registered", "user_id", id, "username", username)
	return id, nil
}

// Login verifies the credentials and issues a new session token. Unknown
// usernames and wrong passwords fail with the same error.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = util.NormalizeName(username)
	if username == "" || password == "" {
		return nil, invalidInput(msgFieldsRequired)
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, s.fail(ctx, msgLoginFailed, "find user", err, "username", username)
		}
		_, _ = s.hasher.Verify(password, dummyPasswordHash)
		return nil, invalidCredentials()
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		// An unreadable hash must look like a wrong password to the caller.
		errutil.LogError(ctx, s.logger, "auth: verify password failed", err, "user_id", user.ID)
		return nil, invalidCredentials()
	}
	if !ok {
		return nil, invalidCredentials()
	}

	token, err := s.sessions.CreateSession(ctx, user.ID, user.Username)
	if err != nil {
		return nil, s.fail(ctx, msgLoginFailed, "create session", err, "user_id", user.ID)
	}
	return &LoginResult{UserID: user.ID, Username: user.Username, Token: token}, nil
}

// Logout deletes the session behind every bearer token presented. Missing
// sessions and store failures are not reported; logout always succeeds.
// Clearing the cookie is the transport's job.
func (s *Service) Logout(ctx context.Context, sources ...AuthSource) {
	for _, src := range sources {
		bearer, ok := src.(BearerToken)
		if !ok || bearer.Token == "" {
			continue
		}
		if _, err := s.sessions.DeleteByToken(ctx, bearer.Token); err != nil {
			errutil.LogError(ctx, s.logger, "logout: deleting session failed", err)
		}
	}
}

// CheckAuth resolves the presented sources to an identity. The bearer
// token is consulted first; a cookie session is used only when no bearer
// token resolves. It never mutates either store.
func (s *Service) CheckAuth(ctx context.Context, sources ...AuthSource) Identity {
	for _, resolve := range s.chain {
		if id, ok := resolve(ctx, sources); ok {
			return id
		}
	}
	return Identity{}
}

func (s *Service) resolveBearer(ctx context.Context, sources []AuthSource) (Identity, bool) {
	for _, src := range sources {
		bearer, ok := src.(BearerToken)
		if !ok || bearer.Token == "" {
			continue
		}
		sess, err := s.sessions.FindByToken(ctx, bearer.Token)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				errutil.LogError(ctx, s.logger, "check-auth: session lookup failed", err)
			}
			continue
		}
		return Identity{
			Authenticated: true,
			UserID:        sess.UserID,
			Username:      sess.Username,
			Source:        "bearer",
		}, true
	}
	return Identity{}, false
}

func (s *Service) resolveCookie(_ context.Context, sources []AuthSource) (Identity, bool) {
	for _, src := range sources {
		cookie, ok := src.(CookieSession)
		if !ok || cookie.UserID == "" || cookie.ExpiredAt(s.now()) {
			continue
		}
		return Identity{
			Authenticated: true,
			UserID:        cookie.UserID,
			Username:      cookie.Username,
			Source:        "cookie",
		}, true
	}
	return Identity{}, false
}

func (s *Service) fail(ctx context.Context, public, operation string, err error, attrs ...any) error {
	wrapped := internal(public, operation, err)
	errutil.LogError(ctx, s.logger, "auth: "+operation+" failed", wrapped, attrs...)
	return wrapped
}
