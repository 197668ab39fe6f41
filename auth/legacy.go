package auth

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

// Hashes written before argon2id became the default:
//
//	pbkdf2:<digest>[:<iterations>]$<salt>$<hex>   Werkzeug generate_password_hash
//	scrypt[:<n>:<r>:<p>]$<salt>$<hex>             Werkzeug >= 3.0 default
//	$2a$ / $2b$ / $2y$                            bcrypt
//
// Werkzeug salts are used as their literal ASCII bytes.

const (
	werkzeugPBKDF2Iterations = 600000
	werkzeugScryptN          = 1 << 15
	werkzeugScryptR          = 8
	werkzeugScryptP          = 1
	werkzeugScryptKeyLen     = 64

	// scrypt uses 128*n*r bytes; n*r is capped at 1 GiB worth.
	maxScryptBlocks = 1 << 23
)

var pbkdf2Digests = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

func verifyBcrypt(password, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
}

func verifyWerkzeug(password, encoded string) (bool, error) {
	method, salt, digest, ok := splitWerkzeug(encoded)
	if !ok {
		return false, fmt.Errorf("%w: expected method$salt$hash", ErrInvalidHash)
	}
	want, err := hex.DecodeString(digest)
	if err != nil || len(want) == 0 {
		return false, fmt.Errorf("%w: hash is not hex", ErrInvalidHash)
	}

	params := strings.Split(method, ":")
	var got []byte
	switch params[0] {
	case "pbkdf2":
		got, err = werkzeugPBKDF2(password, salt, params[1:], len(want))
	case "scrypt":
		got, err = werkzeugScrypt(password, salt, params[1:])
	default:
		err = fmt.Errorf("%w: unsupported method %q", ErrInvalidHash, params[0])
	}
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func splitWerkzeug(encoded string) (method, salt, digest string, ok bool) {
	method, rest, ok := strings.Cut(encoded, "$")
	if !ok {
		return "", "", "", false
	}
	salt, digest, ok = strings.Cut(rest, "$")
	if !ok || strings.Contains(digest, "$") {
		return "", "", "", false
	}
	return method, salt, digest, true
}

func werkzeugPBKDF2(password, salt string, params []string, keyLen int) ([]byte, error) {
	digest := "sha256"
	iterations := werkzeugPBKDF2Iterations
	if len(params) > 0 {
		digest = params[0]
	}
	if len(params) > 1 {
		n, err := strconv.Atoi(params[1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: bad iteration count", ErrInvalidHash)
		}
		iterations = n
	}
	if len(params) > 2 {
		return nil, fmt.Errorf("%w: too many pbkdf2 parameters", ErrInvalidHash)
	}
	newHash, ok := pbkdf2Digests[digest]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported digest %q", ErrInvalidHash, digest)
	}
	return pbkdf2.Key([]byte(password), []byte(salt), iterations, keyLen, newHash), nil
}

func werkzeugScrypt(password, salt string, params []string) ([]byte, error) {
	n, r, p := werkzeugScryptN, werkzeugScryptR, werkzeugScryptP
	switch len(params) {
	case 0:
	case 3:
		var err error
		if n, err = strconv.Atoi(params[0]); err != nil {
			return nil, fmt.Errorf("%w: scrypt n", ErrInvalidHash)
		}
		if r, err = strconv.Atoi(params[1]); err != nil {
			return nil, fmt.Errorf("%w: scrypt r", ErrInvalidHash)
		}
		if p, err = strconv.Atoi(params[2]); err != nil {
			return nil, fmt.Errorf("%w: scrypt p", ErrInvalidHash)
		}
	default:
		return nil, fmt.Errorf("%w: scrypt expects n:r:p", ErrInvalidHash)
	}
	if r <= 0 || n > maxScryptBlocks/r {
		return nil, fmt.Errorf("%w: scrypt cost out of range", ErrInvalidHash)
	}
	key, err := scrypt.Key([]byte(password), []byte(salt), n, r, p, werkzeugScryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return key, nil
}
