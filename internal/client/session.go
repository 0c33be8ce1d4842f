package client

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
)

// TokenStore holds the access token between calls. Implementations must be
// safe for concurrent use.
type TokenStore interface {
	Load() (string, bool)
	Save(token string)
	Clear()
}

// MemoryTokenStore keeps the access token in process memory.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

func (m *MemoryTokenStore) Load() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.token != ""
}

func (m *MemoryTokenStore) Save(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

func (m *MemoryTokenStore) Clear() { m.Save("") }

// Session is one signed-in identity: the access token in its TokenStore and
// the refresh cookie in its jar. Sessions are independent of each other, so a
// single Client can serve many users.
type Session struct {
	tokens TokenStore
	jar    http.CookieJar

	// refreshMu serializes refreshes so concurrent 401s rotate once.
	refreshMu sync.Mutex
}

// NewSession creates a session backed by store. A nil store gets a
// MemoryTokenStore.
func NewSession(store TokenStore) (*Session, error) {
	if store == nil {
		store = &MemoryTokenStore{}
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Session{tokens: store, jar: jar}, nil
}

// AccessToken returns the current access token, if any.
func (s *Session) AccessToken() (string, bool) { return s.tokens.Load() }

// SignedIn reports whether the session holds an access token.
func (s *Session) SignedIn() bool {
	_, ok := s.tokens.Load()
	return ok
}

func (s *Session) cookies(u *url.URL) []*http.Cookie { return s.jar.Cookies(u) }

func (s *Session) storeCookies(u *url.URL, resp *http.Response) {
	if cs := resp.Cookies(); len(cs) > 0 {
		s.jar.SetCookies(u, cs)
	}
}

func (s *Session) hasRefreshCookie(u *url.URL) bool {
	for _, c := range s.jar.Cookies(u) {
		if c.Name == refreshCookieName && c.Value != "" {
			return true
		}
	}
	return false
}

type sessionKey struct{}

// WithSession attaches s to ctx for the Client methods.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session set by WithSession.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}
