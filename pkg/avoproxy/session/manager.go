package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mikepea/avoproxy/pkg/avoproxy/config"
	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
)

// ContextKeySession caches the loaded session on the gin context.
const ContextKeySession = "session"

// Manager binds a Store to the session cookie of a request.
type Manager struct {
	store      Store
	cookieName string
	secure     bool
	ttl        time.Duration
	now        func() time.Time
}

// NewManager creates a manager with the cookie settings of cfg.
func NewManager(store Store, cfg config.SessionConfig) *Manager {
	return &Manager{
		store:      store,
		cookieName: cfg.CookieName,
		secure:     cfg.CookieSecure,
		ttl:        cfg.TTL,
		now:        time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Now is the manager's notion of the current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// TTL is the lifetime given to a session on login.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Load returns the request's session, or a fresh unsaved one when the cookie
// is missing or points at nothing. The result is cached for the request.
func (m *Manager) Load(c *gin.Context) (*Session, error) {
	if cached, ok := c.Get(ContextKeySession); ok {
		return cached.(*Session), nil
	}

	s, err := m.lookup(c)
	if err != nil {
		return nil, err
	}
	c.Set(ContextKeySession, s)
	return s, nil
}

func (m *Manager) lookup(c *gin.Context) (*Session, error) {
	id, err := c.Cookie(m.cookieName)
	if err == nil && id != "" {
		s, err := m.store.Get(c.Request.Context(), id)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("load session: %w", err)
		}
	}
	return m.newSession(), nil
}

func (m *Manager) newSession() *Session {
	return &Session{
		ID:        uuid.NewString(),
		IdpClaims: map[idp.Type]*idp.Claim{},
		ExpiresAt: m.now().Add(m.ttl),
	}
}

// Save writes the session and (re)sets the cookie.
func (m *Manager) Save(c *gin.Context, s *Session) error {
	if err := m.store.Save(c.Request.Context(), s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	maxAge := int(s.ExpiresAt.Sub(m.now()).Seconds())
	if maxAge <= 0 {
		maxAge = int(m.ttl.Seconds())
	}
	c.SetSameSite(m.sameSite())
	c.SetCookie(m.cookieName, s.ID, maxAge, "/", "", m.secure, true)
	c.Set(ContextKeySession, s)
	return nil
}

// Rotate moves the session to a new id, used when a login completes so a
// pre-login id cannot be reused.
func (m *Manager) Rotate(c *gin.Context, s *Session) error {
	if err := m.store.Delete(c.Request.Context(), s.ID); err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	s.ID = uuid.NewString()
	return m.Save(c, s)
}

// Destroy removes the session and expires the cookie.
func (m *Manager) Destroy(c *gin.Context, s *Session) error {
	if err := m.store.Delete(c.Request.Context(), s.ID); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	c.SetSameSite(m.sameSite())
	c.SetCookie(m.cookieName, "", -1, "/", "", m.secure, true)
	c.Set(ContextKeySession, m.newSession())
	return nil
}

// sameSite lets the cookie ride along on the SAML IdP's cross-site POST back
// to the callback. Browsers only accept SameSite=None on Secure cookies, so
// plain http deployments fall back to Lax.
func (m *Manager) sameSite() http.SameSite {
	if m.secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

// ExpiryFromNow is the expiry a session gets when a login completes.
func (m *Manager) ExpiryFromNow() time.Time {
	return m.now().Add(m.ttl)
}
