// Package server assembles the gin engine: middleware, guards and every
// route group of the proxy.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	_ "github.com/mikepea/avoproxy/api/swagger"
	"github.com/mikepea/avoproxy/pkg/avoproxy/admin"
	"github.com/mikepea/avoproxy/pkg/avoproxy/auth"
	"github.com/mikepea/avoproxy/pkg/avoproxy/config"
	"github.com/mikepea/avoproxy/pkg/avoproxy/data"
	"github.com/mikepea/avoproxy/pkg/avoproxy/gate"
	"github.com/mikepea/avoproxy/pkg/avoproxy/groups"
	"github.com/mikepea/avoproxy/pkg/avoproxy/guards"
	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
	"github.com/mikepea/avoproxy/pkg/avoproxy/linking"
	"github.com/mikepea/avoproxy/pkg/avoproxy/logging"
	"github.com/mikepea/avoproxy/pkg/avoproxy/permissions"
	"github.com/mikepea/avoproxy/pkg/avoproxy/profile"
	"github.com/mikepea/avoproxy/pkg/avoproxy/search"
	"github.com/mikepea/avoproxy/pkg/avoproxy/session"
	"github.com/mikepea/avoproxy/pkg/avoproxy/stampcrypt"
	"github.com/mikepea/avoproxy/pkg/avoproxy/users"
	"github.com/mikepea/avoproxy/pkg/avoproxy/whitelist"
)

// Dependencies are built once at startup and shared by every request.
type Dependencies struct {
	Config    *config.Config
	DB        *gorm.DB
	Sessions  *session.Manager
	Registry  *idp.Registry
	Whitelist *whitelist.Whitelist
	Gate      *gate.Gate
	Stamps    *stampcrypt.Cipher
	// SearchTokens may be nil when the search backend is open.
	SearchTokens search.TokenSource
	Mailer       profile.Mailer
	// HTTPClient is used for the GraphQL and search upstreams; nil means defaults.
	HTTPClient *http.Client
}

// NewRouter creates the engine with all routes registered.
func NewRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config

	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestLogger())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "avoproxy",
		})
	})

	// Swagger documentation
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	resolver := users.NewResolver(deps.DB, cfg.SAML.RequiredEntitlement)

	authenticated := guards.IsAuthenticated(deps.Sessions, deps.Registry, resolver)
	requireLogin := guards.MultiGuard(authenticated)
	requirePermission := func(name string) gin.HandlerFunc {
		return guards.MultiGuard(authenticated, guards.HasPermission(deps.Gate, name))
	}
	requireAPIKey := guards.MultiGuard(guards.HasAPIKey(cfg.ProxyAPIKey))

	// Auth routes (login round trips, check-login, account links)
	authHandler := auth.NewHandler(auth.Dependencies{
		ClientURL: cfg.ClientURL,
		Sessions:  deps.Sessions,
		Registry:  deps.Registry,
		Users:     resolver,
		Linking:   linking.NewWorkflow(deps.DB, resolver),
		States:    auth.NewStateSigner(cfg.StateSecret),
	})
	authHandler.RegisterRoutes(r.Group("/auth"), requireLogin)

	// Data routes (whitelisted GraphQL, anonymous callers reach the gate)
	dataHandler := data.NewHandler(cfg.GraphQLURL, cfg.GraphQLSecret, deps.Whitelist, deps.Gate, deps.HTTPClient)
	dataHandler.RegisterRoutes(r.Group("/data"),
		guards.MultiGuard(guards.OptionalUser(deps.Sessions, deps.Registry, resolver)),
		requireAPIKey)

	// Search routes
	searchHandler := search.NewHandler(cfg.Search.URL, cfg.Search.Index, deps.SearchTokens, deps.HTTPClient)
	searchHandler.RegisterRoutes(r.Group("/search"), requirePermission(permissions.Search))

	// Profile routes
	profileHandler := profile.NewHandler(profile.Dependencies{
		DB:        deps.DB,
		Users:     resolver,
		Sessions:  deps.Sessions,
		Stamps:    deps.Stamps,
		Mailer:    deps.Mailer,
		ProxyURL:  cfg.ProxyURL,
		ClientURL: cfg.ClientURL,
	})
	profileHandler.RegisterRoutes(r.Group("/profile"), requireLogin)

	// Permission group routes
	groupsHandler := groups.NewHandler(deps.DB)
	groupsHandler.RegisterRoutes(r.Group("/user-groups", requirePermission(permissions.EditUserGroups)))

	// Admin routes
	adminHandler := admin.NewHandler(deps.DB)
	adminHandler.RegisterRoutes(r.Group("/admin"), admin.Guards{
		ViewUsers: requirePermission(permissions.ViewUsers),
		EditUsers: requirePermission(permissions.EditAnyUser),
		APIKey:    requireAPIKey,
	})

	return r
}
