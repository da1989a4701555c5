// Package permissions lists the named permissions of the platform and seeds
// the permission groups that bundle them.
package permissions

import "slices"

const (
	EditAnyUser             = "EDIT_ANY_USER"
	ViewUsers               = "VIEW_USERS"
	EditUserGroups          = "EDIT_USER_GROUPS"
	Search                  = "SEARCH"
	ViewAnyPublishedItems   = "VIEW_ANY_PUBLISHED_ITEMS"
	ViewAnyUnpublishedItems = "VIEW_ANY_UNPUBLISHED_ITEMS"
	PublishItems            = "PUBLISH_ITEMS"
	CreateCollections       = "CREATE_COLLECTIONS"
	EditOwnCollections      = "EDIT_OWN_COLLECTIONS"
	EditAnyCollections      = "EDIT_ANY_COLLECTIONS"
	DeleteOwnCollections    = "DELETE_OWN_COLLECTIONS"
	DeleteAnyCollections    = "DELETE_ANY_COLLECTIONS"
	CreateAssignments       = "CREATE_ASSIGNMENTS"
	EditAssignments         = "EDIT_ASSIGNMENTS"
	CreateBookmarks         = "CREATE_BOOKMARKS"
	ViewAdminDashboard      = "VIEW_ADMIN_DASHBOARD"
	EditNavigationBars      = "EDIT_NAVIGATION_BARS"
	EditContentPages        = "EDIT_CONTENT_PAGES"
	EditInteractiveTours    = "EDIT_INTERACTIVE_TOURS"
	EditOwnProfile          = "EDIT_OWN_PROFILE"
)

// All lists every permission known to the proxy in a stable order
var All = []string{
	EditAnyUser,
	ViewUsers,
	EditUserGroups,
	Search,
	ViewAnyPublishedItems,
	ViewAnyUnpublishedItems,
	PublishItems,
	CreateCollections,
	EditOwnCollections,
	EditAnyCollections,
	DeleteOwnCollections,
	DeleteAnyCollections,
	CreateAssignments,
	EditAssignments,
	CreateBookmarks,
	ViewAdminDashboard,
	EditNavigationBars,
	EditContentPages,
	EditInteractiveTours,
	EditOwnProfile,
}

// IsKnown reports whether name is a declared permission
func IsKnown(name string) bool {
	return slices.Contains(All, name)
}
