// Package guards holds the route preconditions. A guard either lets the
// request through or returns the error that ends it; MultiGuard runs them
// in order before the handler.
package guards

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mikepea/avoproxy/pkg/avoproxy/apperrors"
	"github.com/mikepea/avoproxy/pkg/avoproxy/gate"
	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
	"github.com/mikepea/avoproxy/pkg/avoproxy/session"
	"github.com/mikepea/avoproxy/pkg/avoproxy/users"
)

const (
	// ContextKeyUser is the authenticated local user
	ContextKeyUser = "user"
	// ContextKeyAPIKey marks a request authenticated with the proxy api key
	ContextKeyAPIKey = "api_key"
)

// Guard checks one precondition of a route.
type Guard func(c *gin.Context) error

// MultiGuard runs guards in order and stops at the first failure.
func MultiGuard(guards ...Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, guard := range guards {
			if err := guard(c); err != nil {
				apperrors.Respond(c, err)
				return
			}
		}
		c.Next()
	}
}

// UserLoader reads the current state of a local user. users.Resolver is one.
type UserLoader interface {
	LoadUser(ctx context.Context, id uint) (*models.User, error)
}

// IsAuthenticated requires a live login whose active claim the IdP still
// accepts, by a user that is not blocked. The user is read fresh on every
// request, so a block or a group change made by an admin applies at once.
func IsAuthenticated(sessions *session.Manager, registry *idp.Registry, loader UserLoader) Guard {
	return func(c *gin.Context) error {
		s, err := sessions.Load(c)
		if err != nil {
			return apperrors.Internal("failed to load session", err, nil)
		}
		now := sessions.Now()

		user := s.User(now)
		if user == nil {
			return apperrors.Unauthorized("not logged in")
		}
		if !registry.IsClaimValid(s.ActiveClaim(now), now) {
			return apperrors.Unauthorized("login is no longer valid")
		}

		fresh, err := loader.LoadUser(c.Request.Context(), user.ID)
		if errors.Is(err, users.ErrNotFound) {
			return apperrors.Unauthorized("user no longer exists")
		}
		if err != nil {
			return apperrors.Internal("failed to load user", err, map[string]any{"user_id": user.ID})
		}
		if fresh.IsBlocked {
			return apperrors.Forbidden("account is blocked", map[string]any{"user_id": fresh.ID})
		}

		s.LocalUser = fresh
		c.Set(ContextKeyUser, fresh)
		return nil
	}
}

// OptionalUser sets the user like IsAuthenticated when there is one, and
// lets anonymous callers through otherwise.
func OptionalUser(sessions *session.Manager, registry *idp.Registry, loader UserLoader) Guard {
	authenticated := IsAuthenticated(sessions, registry, loader)
	return func(c *gin.Context) error {
		err := authenticated(c)
		var appErr *apperrors.Error
		if errors.As(err, &appErr) && appErr.Kind.IsServerSide() {
			return err
		}
		return nil
	}
}

// HasPermission requires the ROUTE:<name> operation of the client table to
// allow the authenticated user. It runs after IsAuthenticated.
func HasPermission(g *gate.Gate, name string) Guard {
	operation := gate.RouteOperation(name)
	return func(c *gin.Context) error {
		user := CurrentUser(c)
		if user == nil {
			return apperrors.Unauthorized("not logged in")
		}
		if !g.IsAllowed(gate.Client, operation, user, nil) {
			return apperrors.Forbidden("missing permission", map[string]any{
				"user_id":    user.ID,
				"permission": name,
			})
		}
		return nil
	}
}

// HasAPIKey requires "Authorization: Bearer <secret>".
func HasAPIKey(secret string) Guard {
	expected := []byte(secret)
	return func(c *gin.Context) error {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return apperrors.Unauthorized("api key required")
		}
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(parts[1]), expected) != 1 {
			log.Warn().Str("path", c.FullPath()).Str("client_ip", c.ClientIP()).Msg("rejected api key")
			return apperrors.Unauthorized("invalid api key")
		}
		c.Set(ContextKeyAPIKey, true)
		return nil
	}
}

// CurrentUser returns the user set by IsAuthenticated.
func CurrentUser(c *gin.Context) *models.User {
	v, exists := c.Get(ContextKeyUser)
	if !exists {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}
