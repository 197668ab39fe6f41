package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/jmcleod/chorus/internal/util"
)

// Default argon2id parameters (OWASP baseline).
const (
	DefaultArgon2Time    = 1
	DefaultArgon2Memory  = 64 * 1024 // KiB
	DefaultArgon2Threads = 4

	argon2SaltLen = 16
	argon2KeyLen  = 32

	// Upper bounds for parameters read from stored hashes.
	maxArgon2Memory = 1024 * 1024 // KiB
	maxArgon2Time   = 64
)

var (
	// ErrEmptyPassword is returned when hashing an empty password.
	ErrEmptyPassword = errors.New("password cannot be empty")
	// ErrInvalidHash is returned when a stored hash cannot be parsed.
	ErrInvalidHash = errors.New("invalid password hash")
)

// PasswordHasher hashes new passwords and verifies candidates against
// stored hashes.
type PasswordHasher interface {
	// Hash returns an encoded hash of password.
	Hash(password string) (string, error)
	// Verify reports whether password matches encoded. A mismatch is
	// (false, nil); an unparseable hash is an error.
	Verify(password, encoded string) (bool, error)
}

// Argon2idHasher produces PHC-formatted argon2id hashes. Verify also
// accepts the legacy formats described in legacy.go so accounts created
// before the switch to argon2id keep working.
type Argon2idHasher struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

var _ PasswordHasher = (*Argon2idHasher)(nil)

// NewArgon2idHasher returns a hasher using the default parameters.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{
		Time:    DefaultArgon2Time,
		Memory:  DefaultArgon2Memory,
		Threads: DefaultArgon2Threads,
	}
}

// Hash returns $argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt>$<key>.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	salt, err := util.RandomBytes(argon2SaltLen)
	if err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.Time, h.Memory, h.Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.Memory, h.Time, h.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Argon2idHasher) Verify(password, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return verifyArgon2id(password, encoded)
	case isBcrypt(encoded):
		return verifyBcrypt(password, encoded)
	case strings.HasPrefix(encoded, "pbkdf2:"), strings.HasPrefix(encoded, "scrypt:"):
		return verifyWerkzeug(password, encoded)
	default:
		return false, fmt.Errorf("%w: unrecognised format", ErrInvalidHash)
	}
}

func verifyArgon2id(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("%w: expected 6 fields, got %d", ErrInvalidHash, len(parts))
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("%w: version: %v", ErrInvalidHash, err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("%w: unsupported argon2 version %d", ErrInvalidHash, version)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, fmt.Errorf("%w: parameters: %v", ErrInvalidHash, err)
	}
	if threads == 0 || threads > 255 || iterations == 0 || iterations > maxArgon2Time ||
		memory == 0 || memory > maxArgon2Memory {
		return false, fmt.Errorf("%w: parameters out of range", ErrInvalidHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("%w: salt: %v", ErrInvalidHash, err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("%w: key: %v", ErrInvalidHash, err)
	}
	if len(want) == 0 || len(want) > 1024 {
		return false, fmt.Errorf("%w: key length %d", ErrInvalidHash, len(want))
	}

	got := argon2.IDKey([]byte(password), salt, iterations, memory, uint8(threads), uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
