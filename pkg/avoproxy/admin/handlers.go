// Package admin serves the user administration routes and the on demand
// permission group seed.
package admin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mikepea/avoproxy/pkg/avoproxy/apperrors"
	"github.com/mikepea/avoproxy/pkg/avoproxy/guards"
	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
	"github.com/mikepea/avoproxy/pkg/avoproxy/permissions"
)

// Handler handles admin requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new admin handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// Guards protect the admin routes. ViewUsers and EditUsers run after the
// session guard, APIKey stands on its own.
type Guards struct {
	ViewUsers gin.HandlerFunc
	EditUsers gin.HandlerFunc
	APIKey    gin.HandlerFunc
}

// UserResponse represents user data in admin responses
type UserResponse struct {
	ID         uint       `json:"id"`
	Email      string     `json:"email"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	IsBlocked  bool       `json:"is_blocked"`
	CreatedAt  string     `json:"created_at"`
	LinkedIdps []idp.Type `json:"linked_idps"`
	Groups     []string   `json:"groups"`
}

// BlockRequest represents the request to block or unblock a user
type BlockRequest struct {
	Blocked *bool `json:"blocked" binding:"required"`
}

// StatsResponse represents user statistics
type StatsResponse struct {
	TotalUsers   int64              `json:"total_users"`
	BlockedUsers int64              `json:"blocked_users"`
	LinksPerIdp  map[idp.Type]int64 `json:"links_per_idp"`
}

func toUserResponse(u *models.User) UserResponse {
	linked := make([]idp.Type, 0, len(u.IdpLinks))
	for _, l := range u.IdpLinks {
		linked = append(linked, l.IdpType)
	}
	return UserResponse{
		ID:         u.ID,
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		IsBlocked:  u.IsBlocked,
		CreatedAt:  u.CreatedAt.UTC().Format(time.RFC3339),
		LinkedIdps: linked,
		Groups:     u.GroupKeys(),
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		apperrors.Respond(c, apperrors.BadRequest("invalid user id", nil))
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) findUser(c *gin.Context, id uint) (*models.User, bool) {
	var user models.User
	err := h.db.Preload("IdpLinks").Preload("Groups").First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		apperrors.Respond(c, apperrors.NotFound("user not found", map[string]any{"user_id": id}))
		return nil, false
	}
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to fetch user", err, map[string]any{"user_id": id}))
		return nil, false
	}
	return &user, true
}

// ListUsers returns all users
// @Summary List users
// @Description Get all users, optionally filtered by name or email and by blocked state
// @Tags admin
// @Produce json
// @Param q query string false "Search in email and names"
// @Param blocked query bool false "Only blocked or only unblocked users"
// @Success 200 {array} UserResponse
// @Failure 403 {object} map[string]string "Missing permission"
// @Router /admin/users [get]
func (h *Handler) ListUsers(c *gin.Context) {
	var users []models.User

	query := h.db.Preload("IdpLinks").Preload("Groups").Order("created_at DESC")

	if search := strings.TrimSpace(c.Query("q")); search != "" {
		like := "%" + search + "%"
		query = query.Where("email LIKE ? OR first_name LIKE ? OR last_name LIKE ?", like, like, like)
	}

	if blocked := c.Query("blocked"); blocked != "" {
		value, err := strconv.ParseBool(blocked)
		if err != nil {
			apperrors.Respond(c, apperrors.BadRequest("blocked must be true or false", nil))
			return
		}
		query = query.Where("is_blocked = ?", value)
	}

	if err := query.Find(&users).Error; err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to fetch users", err, nil))
		return
	}

	responses := make([]UserResponse, len(users))
	for i := range users {
		responses[i] = toUserResponse(&users[i])
	}
	c.JSON(http.StatusOK, responses)
}

// GetUser returns a single user by ID
func (h *Handler) GetUser(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	user, ok := h.findUser(c, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

// SetBlocked blocks or unblocks a user
// @Summary Block or unblock a user
// @Description A blocked user is refused at login and by every authenticated route
// @Tags admin
// @Accept json
// @Produce json
// @Param id path int true "User ID"
// @Param request body BlockRequest true "Blocked state"
// @Success 200 {object} UserResponse
// @Failure 400 {object} map[string]string "Cannot block yourself"
// @Failure 404 {object} map[string]string "User not found"
// @Router /admin/users/{id}/block [patch]
func (h *Handler) SetBlocked(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, apperrors.BadRequest("blocked is required", nil))
		return
	}

	actor := guards.CurrentUser(c)
	if actor != nil && actor.ID == id && *req.Blocked {
		apperrors.Respond(c, apperrors.BadRequest("cannot block yourself", nil))
		return
	}

	user, ok := h.findUser(c, id)
	if !ok {
		return
	}
	if err := h.db.Model(user).Update("is_blocked", *req.Blocked).Error; err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to update user", err, map[string]any{"user_id": id}))
		return
	}
	user.IsBlocked = *req.Blocked

	event := log.Info().Uint("user_id", id).Bool("blocked", *req.Blocked)
	if actor != nil {
		event = event.Uint("actor_id", actor.ID)
	}
	event.Msg("user block state changed")

	c.JSON(http.StatusOK, toUserResponse(user))
}

// GetStats returns user statistics
func (h *Handler) GetStats(c *gin.Context) {
	stats := StatsResponse{LinksPerIdp: map[idp.Type]int64{}}

	h.db.Model(&models.User{}).Count(&stats.TotalUsers)
	h.db.Model(&models.User{}).Where("is_blocked = ?", true).Count(&stats.BlockedUsers)

	for _, t := range idp.AllTypes {
		var count int64
		h.db.Model(&models.IdpLink{}).Where("idp_type = ?", t).Count(&count)
		stats.LinksPerIdp[t] = count
	}

	c.JSON(http.StatusOK, stats)
}

// SeedPermissionGroups re-applies the embedded permission group seed
// @Summary Seed permission groups
// @Description Upsert the permission groups and their permissions; memberships are kept
// @Tags admin
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 401 {object} map[string]string "Invalid api key"
// @Security ApiKeyAuth
// @Router /admin/permission-groups/seed [post]
func (h *Handler) SeedPermissionGroups(c *gin.Context) {
	seed, err := permissions.DefaultSeed()
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("invalid permission group seed", err, nil))
		return
	}
	if err := permissions.Seed(h.db, seed); err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to seed permission groups", err, nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Permission groups seeded", "groups": len(seed.Groups)})
}

// RegisterRoutes registers admin routes on the given router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, g Guards) {
	rg.GET("/stats", g.ViewUsers, h.GetStats)
	rg.GET("/users", g.ViewUsers, h.ListUsers)
	rg.GET("/users/:id", g.ViewUsers, h.GetUser)
	rg.PATCH("/users/:id/block", g.EditUsers, h.SetBlocked)
	rg.POST("/permission-groups/seed", g.APIKey, h.SeedPermissionGroups)
}
