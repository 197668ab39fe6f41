package api

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/chorus/auth"
)

func testCookieSession() auth.CookieSession {
	return auth.CookieSession{
		UserID:   "u-1",
		Username: "alice",
		Token:    "tok",
		IssuedAt: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCookieCodecRoundTrip(t *testing.T) {
	codec, err := NewCookieCodec([]byte("cookie secret"))
	require.NoError(t, err)

	value, err := codec.Encode(testCookieSession())
	require.NoError(t, err)
	assert.NotContains(t, value, "alice", "cookie contents must be encrypted")

	got, err := codec.Decode(value)
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "tok", got.Token)
	assert.True(t, got.IssuedAt.Equal(testCookieSession().IssuedAt))

	again, err := codec.Encode(testCookieSession())
	require.NoError(t, err)
	assert.NotEqual(t, value, again, "each seal uses a fresh nonce")
}

func TestCookieCodecSharedSecret(t *testing.T) {
	a, err := NewCookieCodec([]byte("shared"))
	require.NoError(t, err)
	b, err := NewCookieCodec([]byte("shared"))
	require.NoError(t, err)

	value, err := a.Encode(testCookieSession())
	require.NoError(t, err)
	_, err = b.Decode(value)
	assert.NoError(t, err, "instances with the same secret accept each other's cookies")
}

func TestCookieCodecRejects(t *testing.T) {
	codec, err := NewCookieCodec([]byte("cookie secret"))
	require.NoError(t, err)
	value, err := codec.Encode(testCookieSession())
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(value)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.RawURLEncoding.EncodeToString(raw)

	foreign, err := NewRandomCookieCodec()
	require.NoError(t, err)
	foreignValue, err := foreign.Encode(testCookieSession())
	require.NoError(t, err)

	for name, v := range map[string]string{
		"tampered":    tampered,
		"foreign key": foreignValue,
		"not base64":  "%%%",
		"truncated":   value[:10],
		"empty":       "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode(v)
			assert.ErrorIs(t, err, errBadCookie)
		})
	}
}

func TestNewCookieCodecEmptySecret(t *testing.T) {
	_, err := NewCookieCodec(nil)
	assert.Error(t, err)
}

func TestSessionCookieAttributes(t *testing.T) {
	rec := httptest.NewRecorder()
	writeSessionCookie(rec, "sealed")
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, SessionCookieName, c.Name)
	assert.Equal(t, "sealed", c.Value)
	assert.Equal(t, 7*24*60*60, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteNoneMode, c.SameSite)
	assert.Equal(t, "/", c.Path)

	rec = httptest.NewRecorder()
	clearSessionCookie(rec)
	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}
