package probe

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// AuthTokenHeader carries the token in the secondary auth scheme.
const AuthTokenHeader = "X-Auth-Token"

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "execution-probe/2.0"

// Session holds the request headers shared by every request of a run. It is
// used from a single goroutine. UpgradeAuth is its only mutation after
// construction, and the change is visible to all later requests.
type Session struct {
	header   http.Header
	token    string
	upgraded bool
}

// NewSession builds the shared headers from a token source.
func NewSession(ts oauth2.TokenSource, orgID Identifier, userAgent string) (*Session, error) {
	if ts == nil {
		return nil, errors.New("token source is required")
	}
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("access token is empty")
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	h := http.Header{}
	h.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	if orgID != "" {
		h.Set("X-Organization-Id", orgID.String())
	}
	h.Set("User-Agent", userAgent)
	return &Session{header: h, token: tok.AccessToken}, nil
}

// NewStaticSession is NewSession for a plain bearer token.
func NewStaticSession(token string, orgID Identifier, userAgent string) (*Session, error) {
	return NewSession(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}), orgID, userAgent)
}

// Header returns a copy of the current headers.
func (s *Session) Header() http.Header {
	return s.header.Clone()
}

// UpgradeAuth adds the secondary auth header. It reports whether the header
// was newly added.
func (s *Session) UpgradeAuth() bool {
	s.header.Set(AuthTokenHeader, s.token)
	if s.upgraded {
		return false
	}
	s.upgraded = true
	return true
}

// AuthUpgraded reports whether UpgradeAuth has run.
func (s *Session) AuthUpgraded() bool {
	return s.upgraded
}
