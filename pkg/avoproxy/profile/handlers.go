// Package profile serves the profile routes of the logged in user.
package profile

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mikepea/avoproxy/pkg/avoproxy/apperrors"
	"github.com/mikepea/avoproxy/pkg/avoproxy/guards"
	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
	"github.com/mikepea/avoproxy/pkg/avoproxy/session"
	"github.com/mikepea/avoproxy/pkg/avoproxy/stampcrypt"
	"github.com/mikepea/avoproxy/pkg/avoproxy/users"
)

// MessageInvalidStampCode is the error page key for a bad verification link.
const MessageInvalidStampCode = "INVALID_STAMP_CODE"

// VerifiedPath is where the browser lands after a verified stamp number.
const VerifiedPath = "/settings/profile?stampVerified=true"

var stampNumberPattern = regexp.MustCompile(`^[0-9]{11}$`)

// Mailer delivers the stamp verification link to the user.
type Mailer interface {
	SendStampVerification(ctx context.Context, user *models.User, link string) error
}

// LogMailer writes the link to the log instead of sending it.
type LogMailer struct{}

func (LogMailer) SendStampVerification(_ context.Context, user *models.User, link string) error {
	log.Info().Uint("user_id", user.ID).Str("email", user.Email).Msg("stamp verification link issued")
	log.Debug().Uint("user_id", user.ID).Str("link", link).Msg("stamp verification link")
	return nil
}

// Dependencies are the services the handler drives.
type Dependencies struct {
	DB        *gorm.DB
	Users     *users.Resolver
	Sessions  *session.Manager
	Stamps    *stampcrypt.Cipher
	Mailer    Mailer
	ProxyURL  string
	ClientURL string
}

// Handler handles the /profile routes
type Handler struct {
	Dependencies
}

// NewHandler creates a new profile handler
func NewHandler(deps Dependencies) *Handler {
	if deps.Mailer == nil {
		deps.Mailer = LogMailer{}
	}
	return &Handler{Dependencies: deps}
}

// EducationLevelsRequest is the body of PATCH /profile/education-levels
type EducationLevelsRequest struct {
	EducationLevels []string `json:"educationLevels"`
}

// StampRequest is the body of POST /profile/stamp
type StampRequest struct {
	StampNumber string `json:"stampNumber" binding:"required"`
}

// RegisterRoutes registers the profile routes; authenticated guards all of
// them except the verification link.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, authenticated gin.HandlerFunc) {
	r.PATCH("/education-levels", authenticated, h.UpdateEducationLevels)
	r.POST("/stamp", authenticated, h.SetStampNumber)
	r.POST("/accept-conditions", authenticated, h.AcceptConditions)
	r.GET("/verify-stamp", h.VerifyStamp)
}

// refreshSession reloads the user into the session so the gate sees the change.
func (h *Handler) refreshSession(c *gin.Context, user *models.User) error {
	s, err := h.Sessions.Load(c)
	if err != nil {
		return err
	}
	s.LocalUser = user
	return h.Sessions.Save(c, s)
}

// UpdateEducationLevels handles PATCH /profile/education-levels
func (h *Handler) UpdateEducationLevels(c *gin.Context) {
	user := guards.CurrentUser(c)

	var req EducationLevelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, apperrors.BadRequest("educationLevels must be a list of strings", nil))
		return
	}
	levels := make([]string, 0, len(req.EducationLevels))
	for _, level := range req.EducationLevels {
		if level = strings.TrimSpace(level); level != "" {
			levels = append(levels, level)
		}
	}

	updated, err := h.Users.UpdateEducationLevels(c.Request.Context(), user.ID, levels)
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to update education levels", err, map[string]any{"user_id": user.ID}))
		return
	}
	if err := h.refreshSession(c, updated); err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to save session", err, nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"educationLevels": updated.Profile.EducationLevels,
		"groups":          updated.GroupKeys(),
	})
}

// SetStampNumber handles POST /profile/stamp: the number is stored
// unverified and a verification link is sent.
func (h *Handler) SetStampNumber(c *gin.Context) {
	user := guards.CurrentUser(c)

	var req StampRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, apperrors.BadRequest("stampNumber is required", nil))
		return
	}
	stamp := strings.TrimSpace(req.StampNumber)
	if !stampNumberPattern.MatchString(stamp) {
		apperrors.Respond(c, apperrors.BadRequest("stampNumber must be 11 digits", nil))
		return
	}

	err := h.DB.WithContext(c.Request.Context()).
		Model(&models.Profile{}).
		Where("user_id = ?", user.ID).
		Select("StampNumber", "StampVerifiedAt").
		Updates(&models.Profile{StampNumber: stamp}).Error
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to store stamp number", err, map[string]any{"user_id": user.ID}))
		return
	}

	link := h.ProxyURL + "/profile/verify-stamp?" + url.Values{"code": {h.Stamps.Encrypt(stampPayload(user.ID, stamp))}}.Encode()
	if err := h.Mailer.SendStampVerification(c.Request.Context(), user, link); err != nil {
		apperrors.Respond(c, apperrors.External("failed to send verification mail", err, map[string]any{"user_id": user.ID}))
		return
	}

	if updated, err := h.Users.LoadUser(c.Request.Context(), user.ID); err == nil {
		if err := h.refreshSession(c, updated); err != nil {
			log.Warn().Err(err).Uint("user_id", user.ID).Msg("failed to refresh session after stamp update")
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "verification link sent"})
}

// VerifyStamp handles GET /profile/verify-stamp. The code is the credential.
func (h *Handler) VerifyStamp(c *gin.Context) {
	payload, err := h.Stamps.Decrypt(c.Query("code"))
	if err != nil {
		apperrors.RedirectToErrorPage(c, h.ClientURL, MessageInvalidStampCode, apperrors.BadRequest("invalid stamp verification code", nil))
		return
	}
	userID, stamp, ok := parseStampPayload(payload)
	if !ok {
		apperrors.RedirectToErrorPage(c, h.ClientURL, MessageInvalidStampCode, apperrors.BadRequest("malformed stamp verification code", nil))
		return
	}

	now := time.Now()
	res := h.DB.WithContext(c.Request.Context()).
		Model(&models.Profile{}).
		Where("user_id = ? AND stamp_number = ?", userID, stamp).
		Update("stamp_verified_at", &now)
	if res.Error != nil {
		apperrors.RedirectToErrorPage(c, h.ClientURL, MessageInvalidStampCode,
			apperrors.Internal("failed to verify stamp number", res.Error, map[string]any{"user_id": userID}))
		return
	}
	if res.RowsAffected == 0 {
		apperrors.RedirectToErrorPage(c, h.ClientURL, MessageInvalidStampCode,
			apperrors.NotFound("stamp number changed since the link was sent", map[string]any{"user_id": userID}))
		return
	}

	log.Info().Uint("user_id", userID).Msg("stamp number verified")
	c.Redirect(http.StatusFound, h.ClientURL+VerifiedPath)
}

// AcceptConditions handles POST /profile/accept-conditions
func (h *Handler) AcceptConditions(c *gin.Context) {
	user := guards.CurrentUser(c)

	err := h.DB.WithContext(c.Request.Context()).
		Model(&models.Profile{}).
		Where("user_id = ?", user.ID).
		Update("accepted_conditions", true).Error
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to accept conditions", err, map[string]any{"user_id": user.ID}))
		return
	}

	updated, err := h.Users.LoadUser(c.Request.Context(), user.ID)
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to load user", err, map[string]any{"user_id": user.ID}))
		return
	}
	if err := h.refreshSession(c, updated); err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to save session", err, nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{"acceptedConditions": true})
}

func stampPayload(userID uint, stamp string) string {
	return fmt.Sprintf("%d:%s", userID, stamp)
}

func parseStampPayload(payload string) (uint, string, bool) {
	id, stamp, found := strings.Cut(payload, ":")
	if !found || stamp == "" {
		return 0, "", false
	}
	userID, err := strconv.ParseUint(id, 10, 64)
	if err != nil || userID == 0 {
		return 0, "", false
	}
	return uint(userID), stamp, true
}
