// Package groups serves the permission group administration routes.
package groups

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mikepea/avoproxy/pkg/avoproxy/apperrors"
	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
)

// membershipTable is the join table between users and permission groups.
const membershipTable = "user_permission_groups"

// Handler handles permission group requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new groups handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// GroupResponse represents a permission group in API responses
type GroupResponse struct {
	ID          uint     `json:"id"`
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	IdpRole     string   `json:"idp_role,omitempty"`
	IdpManaged  bool     `json:"idp_managed"`
	Permissions []string `json:"permissions"`
	MemberCount int      `json:"member_count"`
}

func toGroupResponse(g models.PermissionGroup, members int64) GroupResponse {
	perms := make([]string, len(g.Permissions))
	for i, p := range g.Permissions {
		perms[i] = p.Name
	}
	resp := GroupResponse{
		ID:          g.ID,
		Key:         g.Key,
		Label:       g.Label,
		IdpManaged:  g.IsIdpManaged(),
		Permissions: perms,
		MemberCount: int(members),
	}
	if g.IdpRole != nil {
		resp.IdpRole = *g.IdpRole
	}
	return resp
}

// List returns every permission group with its permissions
// @Summary List permission groups
// @Description Get all permission groups with their permissions and member counts
// @Tags user-groups
// @Produce json
// @Success 200 {array} GroupResponse
// @Failure 403 {object} map[string]string "Missing permission"
// @Router /user-groups [get]
func (h *Handler) List(c *gin.Context) {
	var groups []models.PermissionGroup
	if err := h.db.Preload("Permissions").Order("id").Find(&groups).Error; err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to fetch permission groups", err, nil))
		return
	}

	counts, err := h.memberCounts()
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to count group members", err, nil))
		return
	}

	resp := make([]GroupResponse, len(groups))
	for i, g := range groups {
		resp[i] = toGroupResponse(g, counts[g.ID])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) memberCounts() (map[uint]int64, error) {
	var rows []struct {
		PermissionGroupID uint
		Members           int64
	}
	err := h.db.Table(membershipTable).
		Select("permission_group_id, count(*) as members").
		Group("permission_group_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[uint]int64, len(rows))
	for _, r := range rows {
		counts[r.PermissionGroupID] = r.Members
	}
	return counts, nil
}

// findGroup loads the group named by the :id parameter, responding on failure.
func (h *Handler) findGroup(c *gin.Context) (*models.PermissionGroup, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		apperrors.Respond(c, apperrors.BadRequest("invalid group id", nil))
		return nil, false
	}

	var group models.PermissionGroup
	err = h.db.First(&group, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		apperrors.Respond(c, apperrors.NotFound("group not found", map[string]any{"group_id": id}))
		return nil, false
	}
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to fetch group", err, map[string]any{"group_id": id}))
		return nil, false
	}
	return &group, true
}

// RegisterRoutes registers the permission group routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.GET("/:id/members", h.ListMembers)
	rg.POST("/:id/members", h.AddMember)
	rg.DELETE("/:id/members/:userId", h.RemoveMember)
}
