package credentials

import (
	"errors"
	"time"

	"github.com/MrEthical07/authfetch/jwt"
)

// Session is an access credential plus the refresh credential that renews it.
// Both are opaque to the client.
type Session struct {
	AccessToken  string
	RefreshToken string

	// Expiry hints read from JWT exp claims. Zero when the credential is not
	// a JWT.
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// ErrEmptySession is returned for a session without an access credential.
var ErrEmptySession = errors.New("session has no access credential")

// NewSession builds a Session and fills the expiry hints when the
// credentials are JWTs.
func NewSession(access, refresh string) (*Session, error) {
	if access == "" {
		return nil, ErrEmptySession
	}
	s := &Session{AccessToken: access, RefreshToken: refresh}
	if exp, err := jwt.Expiry(access); err == nil {
		s.AccessExpiresAt = exp
	}
	if refresh != "" {
		if exp, err := jwt.Expiry(refresh); err == nil {
			s.RefreshExpiresAt = exp
		}
	}
	return s, nil
}

// Clone returns a copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// TTL is how long a store should keep s: until the refresh credential
// expires, or fallback when that is unknown. Never negative.
func (s *Session) TTL(now time.Time, fallback time.Duration) time.Duration {
	if s == nil || s.RefreshExpiresAt.IsZero() {
		return fallback
	}
	d := s.RefreshExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
