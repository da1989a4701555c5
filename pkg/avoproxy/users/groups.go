package users

import (
	"slices"

	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
)

// DesiredGroups computes the groups a user should hold after a login with
// roles: every locally managed group the user has is kept, and the
// IdP-managed groups are exactly the ones whose role is claimed.
func DesiredGroups(current, all []models.PermissionGroup, roles []string) []models.PermissionGroup {
	var desired []models.PermissionGroup
	for _, g := range current {
		if !g.IsIdpManaged() {
			desired = append(desired, g)
		}
	}
	for _, g := range all {
		if g.IdpRole != nil && slices.Contains(roles, *g.IdpRole) {
			desired = append(desired, g)
		}
	}
	return uniqueGroups(desired)
}

// ReconcileSecondary swaps each group for its secondary-education variant
// when teachesSecondary holds, and each variant back to its parent when it
// does not. Running it on its own output changes nothing.
func ReconcileSecondary(groups, all []models.PermissionGroup, teachesSecondary bool) []models.PermissionGroup {
	byID := make(map[uint]models.PermissionGroup, len(all))
	variantOf := make(map[uint]models.PermissionGroup)
	for _, g := range all {
		byID[g.ID] = g
		if g.SecondaryOfID != nil {
			variantOf[*g.SecondaryOfID] = g
		}
	}

	out := make([]models.PermissionGroup, 0, len(groups))
	for _, g := range groups {
		switch {
		case teachesSecondary:
			if variant, ok := variantOf[g.ID]; ok {
				g = variant
			}
		case g.SecondaryOfID != nil:
			if parent, ok := byID[*g.SecondaryOfID]; ok {
				g = parent
			}
		}
		out = append(out, g)
	}
	return uniqueGroups(out)
}

// SameGroups reports whether a and b hold the same group ids.
func SameGroups(a, b []models.PermissionGroup) bool {
	return slices.Equal(groupIDs(a), groupIDs(b))
}

func groupIDs(groups []models.PermissionGroup) []uint {
	ids := make([]uint, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func uniqueGroups(groups []models.PermissionGroup) []models.PermissionGroup {
	seen := make(map[uint]bool, len(groups))
	out := make([]models.PermissionGroup, 0, len(groups))
	for _, g := range groups {
		if seen[g.ID] {
			continue
		}
		seen[g.ID] = true
		out = append(out, g)
	}
	return out
}

// groupRefs strips loaded associations so replacing a membership does not
// re-save the groups' permissions.
func groupRefs(groups []models.PermissionGroup) []models.PermissionGroup {
	refs := make([]models.PermissionGroup, len(groups))
	for i, g := range groups {
		g.Permissions = nil
		g.SecondaryOf = nil
		refs[i] = g
	}
	return refs
}
