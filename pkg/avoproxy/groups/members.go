package groups

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mikepea/avoproxy/pkg/avoproxy/apperrors"
	"github.com/mikepea/avoproxy/pkg/avoproxy/guards"
	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
)

// MemberResponse represents a group member in API responses
type MemberResponse struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// AddMemberRequest represents a request to add a member
type AddMemberRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

func toMemberResponse(u *models.User) MemberResponse {
	return MemberResponse{ID: u.ID, Email: u.Email, Name: u.FullName()}
}

// rejectIdpManaged refuses manual edits of groups owned by the login sync.
func rejectIdpManaged(c *gin.Context, group *models.PermissionGroup) bool {
	if !group.IsIdpManaged() {
		return false
	}
	apperrors.Respond(c, apperrors.Conflict("membership of this group follows the identity provider", map[string]any{
		"group": group.Key,
	}))
	return true
}

func (h *Handler) isMember(groupID, userID uint) (bool, error) {
	var count int64
	err := h.db.Table(membershipTable).
		Where("permission_group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	return count > 0, err
}

// ListMembers returns all members of a group
func (h *Handler) ListMembers(c *gin.Context) {
	group, ok := h.findGroup(c)
	if !ok {
		return
	}

	var members []models.User
	err := h.db.Joins("JOIN "+membershipTable+" ON "+membershipTable+".user_id = users.id").
		Where(membershipTable+".permission_group_id = ?", group.ID).
		Order("users.id").
		Find(&members).Error
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to fetch members", err, map[string]any{"group": group.Key}))
		return
	}

	resp := make([]MemberResponse, len(members))
	for i := range members {
		resp[i] = toMemberResponse(&members[i])
	}
	c.JSON(http.StatusOK, resp)
}

// AddMember adds a user to a locally managed group
// @Summary Add a group member
// @Description Add a user to a permission group that is not managed by an identity provider
// @Tags user-groups
// @Accept json
// @Produce json
// @Param id path int true "Group ID"
// @Param request body AddMemberRequest true "Member"
// @Success 201 {object} MemberResponse
// @Failure 404 {object} map[string]string "Group or user not found"
// @Failure 409 {object} map[string]string "Group is IdP managed or user is already a member"
// @Router /user-groups/{id}/members [post]
func (h *Handler) AddMember(c *gin.Context) {
	group, ok := h.findGroup(c)
	if !ok || rejectIdpManaged(c, group) {
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, apperrors.BadRequest("user_id is required", nil))
		return
	}

	var target models.User
	err := h.db.First(&target, req.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		apperrors.Respond(c, apperrors.NotFound("user not found", map[string]any{"user_id": req.UserID}))
		return
	}
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to fetch user", err, map[string]any{"user_id": req.UserID}))
		return
	}

	member, err := h.isMember(group.ID, target.ID)
	if err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to check membership", err, nil))
		return
	}
	if member {
		apperrors.Respond(c, apperrors.Conflict("user is already a member", nil))
		return
	}

	if err := h.db.Model(&target).Association("Groups").Append(group); err != nil {
		apperrors.Respond(c, apperrors.Internal("failed to add member", err, map[string]any{"group": group.Key, "user_id": target.ID}))
		return
	}

	log.Info().
		Uint("actor_id", actorID(c)).
		Uint("user_id", target.ID).
		Str("group", group.Key).
		Msg("group member added")
	c.JSON(http.StatusCreated, toMemberResponse(&target))
}

// RemoveMember removes a user from a locally managed group
// @Summary Remove a group member
// @Tags user-groups
// @Param id path int true "Group ID"
// @Param userId path int true "User ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string "Member not found"
// @Failure 409 {object} map[string]string "Group is IdP managed"
// @Router /user-groups/{id}/members/{userId} [delete]
func (h *Handler) RemoveMember(c *gin.Context) {
	group, ok := h.findGroup(c)
	if !ok || rejectIdpManaged(c, group) {
		return
	}
	memberID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		apperrors.Respond(c, apperrors.BadRequest("invalid user id", nil))
		return
	}

	result := h.db.Exec("DELETE FROM "+membershipTable+" WHERE permission_group_id = ? AND user_id = ?", group.ID, memberID)
	if result.Error != nil {
		apperrors.Respond(c, apperrors.Internal("failed to remove member", result.Error, map[string]any{"group": group.Key}))
		return
	}
	if result.RowsAffected == 0 {
		apperrors.Respond(c, apperrors.NotFound("member not found", map[string]any{"group": group.Key, "user_id": memberID}))
		return
	}

	log.Info().
		Uint("actor_id", actorID(c)).
		Uint64("user_id", memberID).
		Str("group", group.Key).
		Msg("group member removed")
	c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
}

func actorID(c *gin.Context) uint {
	if u := guards.CurrentUser(c); u != nil {
		return u.ID
	}
	return 0
}
