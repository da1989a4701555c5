// Package tokencache keeps a service access token for upstream calls and
// refreshes it lazily shortly before it expires.
package tokencache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultMargin is how long before expiry a token is replaced.
const DefaultMargin = time.Minute

// Source fetches a new token. clientcredentials.Config satisfies it.
type Source interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Cache hands out the current token. Readers never block each other;
// concurrent refreshes may both hit the source and the last one is kept.
type Cache struct {
	source  Source
	margin  time.Duration
	now     func() time.Time
	current atomic.Pointer[oauth2.Token]
}

func New(source Source, margin time.Duration) *Cache {
	return &Cache{source: source, margin: margin, now: time.Now}
}

// NewClientCredentials caches tokens of the OAuth2 client credentials grant.
func NewClientCredentials(tokenURL, clientID, clientSecret string, scopes ...string) *Cache {
	return New(&clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}, DefaultMargin)
}

// SetClock replaces the time source, for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Token returns a usable access token. When the refresh fails while the
// cached token has not expired yet, the cached token is returned.
func (c *Cache) Token(ctx context.Context) (string, error) {
	now := c.now()
	cached := c.current.Load()
	if cached != nil && fresh(cached, now.Add(c.margin)) {
		return cached.AccessToken, nil
	}

	token, err := c.source.Token(ctx)
	if err != nil {
		if cached != nil && fresh(cached, now) {
			log.Warn().Err(err).Time("expiry", cached.Expiry).Msg("token refresh failed, using cached token")
			return cached.AccessToken, nil
		}
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("fetch access token: empty access token")
	}

	c.current.Store(token)
	log.Debug().Time("expiry", token.Expiry).Msg("access token refreshed")
	return token.AccessToken, nil
}

// Invalidate drops the cached token, used after the upstream rejected it.
func (c *Cache) Invalidate() {
	c.current.Store(nil)
}

func fresh(token *oauth2.Token, at time.Time) bool {
	return token.Expiry.IsZero() || at.Before(token.Expiry)
}
