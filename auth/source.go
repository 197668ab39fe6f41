package auth

import "time"

// CookieMaxAge is how long a cookie session is honoured after issue.
const CookieMaxAge = 7 * 24 * time.Hour

// AuthSource is a credential presented with a request. It is either a
// BearerToken or a CookieSession; a request with neither presents no
// sources at all.
type AuthSource interface {
	authSource()
}

// BearerToken is an opaque token from the Authorization header. It is
// resolved against the session store.
type BearerToken struct {
	Token string
}

// CookieSession is the identity sealed into the client's session cookie at
// login. It is trusted without a store lookup.
type CookieSession struct {
	UserID   string    `json:"uid"`
	Username string    `json:"usr"`
	Token    string    `json:"tok"`
	IssuedAt time.Time `json:"iat"`
}

func (BearerToken) authSource()   {}
func (CookieSession) authSource() {}

// ExpiredAt reports whether the cookie session is past CookieMaxAge at t.
func (c CookieSession) ExpiredAt(t time.Time) bool {
	return !t.Before(c.IssuedAt.Add(CookieMaxAge))
}

// Identity is the outcome of CheckAuth.
type Identity struct {
	Authenticated bool
	UserID        string
	Username      string
	// Source is "bearer" or "cookie" for authenticated identities.
	Source string
}
