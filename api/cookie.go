package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/chorus/auth"
	"github.com/jmcleod/chorus/internal/util"
)

// SessionCookieName is the name of the sealed cookie written at login.
const SessionCookieName = "chorus_session"

var (
	cookieKeySalt = []byte("chorus cookie key")
	cookieKeyInfo = []byte("session cookie v1")
)

// errBadCookie covers every reason a cookie value cannot be opened.
var errBadCookie = errors.New("invalid session cookie")

// CookieCodec seals cookie sessions with AES-256-GCM. The key is derived
// from a configured secret with HKDF and kept in a memguard enclave.
type CookieCodec struct {
	key *memguard.Enclave
}

// NewCookieCodec derives the sealing key from secret. The same secret must
// be used by every instance that should accept each other's cookies.
func NewCookieCodec(secret []byte) (*CookieCodec, error) {
	key, err := util.DeriveKey(secret, cookieKeySalt, cookieKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving cookie key: %w", err)
	}
	return &CookieCodec{key: memguard.NewEnclave(key)}, nil
}

// NewRandomCookieCodec returns a codec with a fresh random key. Cookies it
// issues do not survive a restart.
func NewRandomCookieCodec() (*CookieCodec, error) {
	secret, err := util.RandomBytes(util.AESKeySize)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(secret)
	return NewCookieCodec(secret)
}

// Encode seals cs into a cookie-safe string.
func (c *CookieCodec) Encode(cs auth.CookieSession) (string, error) {
	plaintext, err := json.Marshal(cs)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(plaintext)

	buf, err := c.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening cookie key: %w", err)
	}
	defer buf.Destroy()

	sealed, err := util.Seal(buf.Bytes(), plaintext, []byte(SessionCookieName))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode opens a value produced by Encode. Tampered, truncated or foreign
// values all return errBadCookie.
func (c *CookieCodec) Decode(value string) (auth.CookieSession, error) {
	var cs auth.CookieSession
	sealed, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return cs, errBadCookie
	}

	buf, err := c.key.Open()
	if err != nil {
		return cs, fmt.Errorf("opening cookie key: %w", err)
	}
	defer buf.Destroy()

	plaintext, err := util.Open(buf.Bytes(), sealed, []byte(SessionCookieName))
	if err != nil {
		return cs, errBadCookie
	}
	defer util.WipeBytes(plaintext)
	if err := json.Unmarshal(plaintext, &cs); err != nil {
		return cs, errBadCookie
	}
	return cs, nil
}

func writeSessionCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(auth.CookieMaxAge / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}
