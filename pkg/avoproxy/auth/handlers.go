// Package auth serves the /auth routes: the login round trip through each
// identity provider, logout, the login status of the browser and the account
// link flow.
package auth

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mikepea/avoproxy/pkg/avoproxy/apperrors"
	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
	"github.com/mikepea/avoproxy/pkg/avoproxy/linking"
	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
	"github.com/mikepea/avoproxy/pkg/avoproxy/session"
	"github.com/mikepea/avoproxy/pkg/avoproxy/users"
)

// Message keys understood by the client error page.
const (
	MessageLoginFailed          = "LOGIN_FAILED"
	MessageNoAccess             = "NO_ACCESS"
	MessageAccountBlocked       = "ACCOUNT_BLOCKED"
	MessageLinkConflict         = "ACCOUNT_ALREADY_LINKED"
	MessageIdpTypeAlreadyLinked = "IDP_TYPE_ALREADY_LINKED"
)

// Login status reported by check-login.
const (
	StatusLoggedIn  = "LOGGED_IN"
	StatusLoggedOut = "LOGGED_OUT"
)

// Dependencies are the services the handler drives.
type Dependencies struct {
	ClientURL string
	Sessions  *session.Manager
	Registry  *idp.Registry
	Users     *users.Resolver
	Linking   *linking.Workflow
	States    *StateSigner
}

// Handler handles the /auth routes
type Handler struct {
	Dependencies
	basePath string
}

// NewHandler creates a new auth handler
func NewHandler(deps Dependencies) *Handler {
	return &Handler{Dependencies: deps}
}

// CheckLoginResponse is the body of GET /auth/check-login
type CheckLoginResponse struct {
	Message            string     `json:"message"`
	UserInfo           *UserInfo  `json:"userInfo,omitempty"`
	AcceptedConditions bool       `json:"acceptedConditions"`
	SessionExpiresAt   *time.Time `json:"sessionExpiresAt,omitempty"`
}

// UserInfo is the client side view of the logged in user
type UserInfo struct {
	ID          uint            `json:"id"`
	FirstName   string          `json:"firstName"`
	LastName    string          `json:"lastName"`
	FullName    string          `json:"fullName"`
	Email       string          `json:"email"`
	ActiveIdp   idp.Type        `json:"activeIdp"`
	LinkedIdps  []idp.Type      `json:"linkedIdps"`
	Groups      []string        `json:"groups"`
	Permissions []string        `json:"permissions"`
	Profile     *models.Profile `json:"profile"`
}

func newUserInfo(user *models.User, active idp.Type) *UserInfo {
	linked := make([]idp.Type, 0, len(user.IdpLinks))
	for _, link := range user.IdpLinks {
		linked = append(linked, link.IdpType)
	}
	permissions := user.PermissionNames()
	if permissions == nil {
		permissions = []string{}
	}
	return &UserInfo{
		ID:          user.ID,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		FullName:    user.FullName(),
		Email:       user.Email,
		ActiveIdp:   active,
		LinkedIdps:  linked,
		Groups:      user.GroupKeys(),
		Permissions: permissions,
		Profile:     &user.Profile,
	}
}

// RegisterRoutes registers the auth routes; authenticated guards the link routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, authenticated gin.HandlerFunc) {
	h.basePath = strings.TrimSuffix(r.BasePath(), "/")

	r.GET("/check-login", h.CheckLogin)
	r.GET("/global-logout", h.GlobalLogout)
	r.GET("/link-account", authenticated, h.LinkAccount)
	r.GET("/link-account-callback", authenticated, h.LinkAccountCallback)
	r.GET("/unlink-account", authenticated, h.UnlinkAccount)

	r.GET("/:idp/login", h.Login)
	r.GET("/:idp/login-callback", h.LoginCallback)
	r.POST("/:idp/login-callback", h.LoginCallback)
	r.GET("/:idp/logout", h.Logout)
	r.GET("/:idp/logout-callback", h.LogoutCallback)
	r.POST("/:idp/logout-callback", h.LogoutCallback)
	r.GET("/:idp/metadata", h.Metadata)
}

func (h *Handler) adapter(c *gin.Context) (idp.Adapter, error) {
	t, err := idp.ParseType(c.Param("idp"))
	if err != nil {
		return nil, apperrors.NotFound("unknown identity provider", map[string]any{"idp": c.Param("idp")})
	}
	adapter, ok := h.Registry.Get(t)
	if !ok {
		return nil, apperrors.NotFound("identity provider is not configured", map[string]any{"idp": t})
	}
	return adapter, nil
}

func (h *Handler) loadSession(c *gin.Context) (*session.Session, bool) {
	s, err := h.Sessions.Load(c)
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to load session", err, nil))
		return nil, false
	}
	return s, true
}

func (h *Handler) saveSession(c *gin.Context, s *session.Session) bool {
	if err := h.Sessions.Save(c, s); err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to save session", err, nil))
		return false
	}
	return true
}

// beginRoundTrip sends the browser to the IdP with a signed state token.
func (h *Handler) beginRoundTrip(c *gin.Context, s *session.Session, adapter idp.Adapter, flow Flow, returnTo string) {
	now := h.Sessions.Now()
	if s.IsExpired(now) {
		s.Clear()
		s.ExpiresAt = h.Sessions.ExpiryFromNow()
	}

	requestID := NewRequestID()
	state, err := h.States.Sign(flow, adapter.Type(), returnTo, requestID)
	if err != nil {
		apperrors.RedirectToErrorPage(c, h.ClientURL, MessageLoginFailed, apperrors.Internal("failed to sign login state", err, nil))
		return
	}
	redirect, err := adapter.BeginLogin(c.Request.Context(), state, requestID)
	if err != nil {
		apperrors.RedirectToErrorPage(c, h.ClientURL, MessageLoginFailed,
			apperrors.External("failed to start login", err, map[string]any{"idp": adapter.Type()}))
		return
	}

	if !h.saveSession(c, s) {
		return
	}
	c.Redirect(http.StatusFound, redirect.URL)
}

// Login handles GET /auth/:idp/login
func (h *Handler) Login(c *gin.Context) {
	adapter, err := h.adapter(c)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	s, ok := h.loadSession(c)
	if !ok {
		return
	}
	returnTo := SafeReturnTo(h.ClientURL, c.Query("returnToUrl"))

	now := h.Sessions.Now()
	if s.ActiveIdpType == adapter.Type() && h.Registry.IsClaimValid(s.ActiveClaim(now), now) {
		c.Redirect(http.StatusFound, returnTo)
		return
	}

	h.beginRoundTrip(c, s, adapter, FlowLogin, returnTo)
}

// LoginCallback handles GET|POST /auth/:idp/login-callback
func (h *Handler) LoginCallback(c *gin.Context) {
	adapter, err := h.adapter(c)
	if err != nil {
		apperrors.RedirectToErrorPage(c, h.ClientURL, MessageLoginFailed, err)
		return
	}

	state, err := h.States.Verify(StateFromRequest(c))
	if err != nil || state.IdpType != adapter.Type() {
		apperrors.RedirectToErrorPage(c, h.ClientURL, MessageLoginFailed,
			apperrors.BadRequest("invalid login state", map[string]any{"idp": adapter.Type(), "cause": errString(err)}))
		return
	}

	s, ok := h.loadSession(c)
	if !ok {
		return
	}

	claim, err := adapter.CompleteLogin(c.Request.Context(), c.Request, state.RequestID)
	if err != nil {
		apperrors.RedirectToErrorPage(c, h.ClientURL, MessageLoginFailed,
			apperrors.External("identity provider login failed", err, map[string]any{"idp": adapter.Type()}))
		return
	}

	if state.Flow == FlowLink {
		h.stageLink(c, s, claim, state)
		return
	}

	user, err := h.Users.ResolveOrCreate(c.Request.Context(), claim)
	switch {
	case errors.Is(err, users.ErrNoAccess):
		apperrors.RedirectToErrorPage(c, h.ClientURL, MessageNoAccess,
			apperrors.Forbidden("identity has no access", map[string]any{"idp": claim.Type, "external_id": claim.ExternalID()}))
		return
	case err != nil:
		apperrors.RedirectToErrorPage(c, h.ClientURL, MessageLoginFailed,
			apperrors.Internal("failed to resolve local user", err, map[string]any{"idp": claim.Type}))
		return
	}
	if user.IsBlocked {
		apperrors.RedirectToErrorPage(c, h.ClientURL, MessageAccountBlocked,
			apperrors.Forbidden("account is blocked", map[string]any{"user_id": user.ID}))
		return
	}

	s.Login(claim, user, h.Sessions.ExpiryFromNow(), h.Sessions.Now())
	if err := h.Sessions.Rotate(c, s); err != nil {
		apperrors.RedirectToErrorPage(c, h.ClientURL, MessageLoginFailed, apperrors.Internal("failed to save session", err, nil))
		return
	}

	log.Info().Uint("user_id", user.ID).Str("idp", string(claim.Type)).Msg("user logged in")
	c.Redirect(http.StatusFound, SafeReturnTo(h.ClientURL, state.ReturnTo))
}

func (h *Handler) stageLink(c *gin.Context, s *session.Session, claim *idp.Claim, state *State) {
	if err := h.Linking.Stage(s, claim, state.ReturnTo, h.Sessions.Now()); err != nil {
		apperrors.RedirectToErrorPage(c, h.ClientURL, MessageLoginFailed, apperrors.Unauthorized("link requires a login"))
		return
	}
	if !h.saveSession(c, s) {
		return
	}

	q := url.Values{}
	q.Set("returnToUrl", state.ReturnTo)
	c.Redirect(http.StatusFound, h.basePath+"/link-account-callback?"+q.Encode())
}

// Logout handles GET /auth/:idp/logout
func (h *Handler) Logout(c *gin.Context) {
	adapter, err := h.adapter(c)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	s, ok := h.loadSession(c)
	if !ok {
		return
	}
	returnTo := SafeReturnTo(h.ClientURL, c.Query("returnToUrl"))

	claim := s.Claim(adapter.Type(), h.Sessions.Now())
	s.Logout(adapter.Type())
	if !h.saveSession(c, s) {
		return
	}

	c.Redirect(http.StatusFound, h.providerLogoutURL(adapter, claim, returnTo))
}

// LogoutCallback handles the IdP returning from its single logout.
func (h *Handler) LogoutCallback(c *gin.Context) {
	c.Redirect(http.StatusFound, SafeReturnTo(h.ClientURL, StateFromRequest(c)))
}

// GlobalLogout handles GET /auth/global-logout: every login of the browser ends.
func (h *Handler) GlobalLogout(c *gin.Context) {
	s, ok := h.loadSession(c)
	if !ok {
		return
	}
	returnTo := SafeReturnTo(h.ClientURL, c.Query("returnToUrl"))

	target := returnTo
	if claim := s.ActiveClaim(h.Sessions.Now()); claim != nil {
		if adapter, ok := h.Registry.Get(claim.Type); ok {
			target = h.providerLogoutURL(adapter, claim, returnTo)
		}
	}

	if err := h.Sessions.Destroy(c, s); err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to destroy session", err, nil))
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (h *Handler) providerLogoutURL(adapter idp.Adapter, claim *idp.Claim, returnTo string) string {
	if claim == nil {
		return returnTo
	}
	target, err := adapter.LogoutURL(claim, returnTo)
	if err != nil {
		log.Warn().Err(err).Str("idp", string(adapter.Type())).Msg("identity provider logout unavailable")
		return returnTo
	}
	return target
}

// CheckLogin handles GET /auth/check-login. The user is reloaded so group
// and block changes made since the login are visible.
func (h *Handler) CheckLogin(c *gin.Context) {
	s, ok := h.loadSession(c)
	if !ok {
		return
	}
	now := h.Sessions.Now()

	user := s.User(now)
	if user == nil || !h.Registry.IsClaimValid(s.ActiveClaim(now), now) {
		c.JSON(http.StatusOK, CheckLoginResponse{Message: StatusLoggedOut})
		return
	}

	fresh, err := h.Users.LoadUser(c.Request.Context(), user.ID)
	if errors.Is(err, users.ErrNotFound) {
		c.JSON(http.StatusOK, CheckLoginResponse{Message: StatusLoggedOut})
		return
	}
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to load user", err, map[string]any{"user_id": user.ID}))
		return
	}
	if fresh.IsBlocked {
		c.JSON(http.StatusOK, CheckLoginResponse{Message: StatusLoggedOut})
		return
	}

	s.LocalUser = fresh
	if !h.saveSession(c, s) {
		return
	}

	expiresAt := s.ExpiresAt
	c.JSON(http.StatusOK, CheckLoginResponse{
		Message:            StatusLoggedIn,
		UserInfo:           newUserInfo(fresh, s.ActiveIdpType),
		AcceptedConditions: fresh.Profile.AcceptedConditions,
		SessionExpiresAt:   &expiresAt,
	})
}

func (h *Handler) queryIdpType(c *gin.Context) (idp.Adapter, error) {
	t, err := idp.ParseType(c.Query("idpType"))
	if err != nil {
		return nil, apperrors.BadRequest("idpType is missing or unknown", map[string]any{"idpType": c.Query("idpType")})
	}
	adapter, ok := h.Registry.Get(t)
	if !ok {
		return nil, apperrors.NotFound("identity provider is not configured", map[string]any{"idp": t})
	}
	return adapter, nil
}

// LinkAccount handles GET /auth/link-account: a login round trip with the
// second IdP whose claim ends up as the pending link.
func (h *Handler) LinkAccount(c *gin.Context) {
	adapter, err := h.queryIdpType(c)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	s, ok := h.loadSession(c)
	if !ok {
		return
	}
	returnTo := SafeReturnTo(h.ClientURL, c.Query("returnToUrl"))

	if adapter.Type() == s.ActiveIdpType {
		c.Redirect(http.StatusFound, returnTo)
		return
	}
	h.beginRoundTrip(c, s, adapter, FlowLink, returnTo)
}

// LinkAccountCallback handles GET /auth/link-account-callback
func (h *Handler) LinkAccountCallback(c *gin.Context) {
	s, ok := h.loadSession(c)
	if !ok {
		return
	}
	returnTo := SafeReturnTo(h.ClientURL, c.Query("returnToUrl"))

	result, err := h.Linking.Complete(c.Request.Context(), s, h.Sessions.Now())
	switch {
	case errors.Is(err, linking.ErrNoPendingLink):
		apperrors.Respond(c, apperrors.BadRequest("no account link in progress", nil))
		return
	case errors.Is(err, linking.ErrNotLoggedIn):
		apperrors.Respond(c, apperrors.Unauthorized("not logged in"))
		return
	case err != nil:
		apperrors.RedirectToErrorPage(c, h.ClientURL, MessageLoginFailed, apperrors.Internal("failed to link account", err, nil))
		return
	}
	if !h.saveSession(c, s) {
		return
	}

	if result.Outcome == linking.OutcomeRejected {
		key := MessageLinkConflict
		if result.Reason == linking.ReasonIdpTypeAlreadyLinked {
			key = MessageIdpTypeAlreadyLinked
		}
		apperrors.RedirectToErrorPage(c, h.ClientURL, key, apperrors.Conflict("account link rejected", map[string]any{
			"idp":    result.IdpType,
			"reason": result.Reason,
		}))
		return
	}
	c.Redirect(http.StatusFound, returnTo)
}

// UnlinkAccount handles GET /auth/unlink-account
func (h *Handler) UnlinkAccount(c *gin.Context) {
	t, err := idp.ParseType(c.Query("idpType"))
	if err != nil {
		apperrors.Respond(c, apperrors.BadRequest("idpType is missing or unknown", map[string]any{"idpType": c.Query("idpType")}))
		return
	}
	s, ok := h.loadSession(c)
	if !ok {
		return
	}

	err = h.Linking.Unlink(c.Request.Context(), s, t, h.Sessions.Now())
	switch {
	case errors.Is(err, linking.ErrActiveIdp):
		apperrors.Respond(c, apperrors.BadRequest("cannot unlink the identity provider you are logged in with", nil))
		return
	case errors.Is(err, linking.ErrNotLinked):
		apperrors.Respond(c, apperrors.NotFound("identity provider is not linked", map[string]any{"idp": t}))
		return
	case errors.Is(err, linking.ErrNotLoggedIn):
		apperrors.Respond(c, apperrors.Unauthorized("not logged in"))
		return
	case err != nil:
		apperrors.Respond(c, apperrors.Internal("failed to unlink account", err, map[string]any{"idp": t}))
		return
	}
	if !h.saveSession(c, s) {
		return
	}
	c.Redirect(http.StatusFound, SafeReturnTo(h.ClientURL, c.Query("returnToUrl")))
}

type metadataProvider interface {
	Metadata() ([]byte, error)
}

// Metadata serves the SAML service provider metadata.
func (h *Handler) Metadata(c *gin.Context) {
	adapter, err := h.adapter(c)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	provider, ok := adapter.(metadataProvider)
	if !ok {
		apperrors.Respond(c, apperrors.NotFound("identity provider has no metadata", map[string]any{"idp": adapter.Type()}))
		return
	}
	data, err := provider.Metadata()
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to render metadata", err, nil))
		return
	}
	c.Data(http.StatusOK, "application/samlmetadata+xml", data)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
