package gate

import p "github.com/mikepea/avoproxy/pkg/avoproxy/permissions"

// ClientTable returns the entries for operations sent by the browser.
func ClientTable() Table {
	return Table{
		// users
		"GET_USERS":                AnyOf(Perm(p.EditAnyUser)),
		"GET_USER_BY_ID":           AnyOf(Perm(p.ViewUsers), Perm(p.EditAnyUser)),
		"UPDATE_USER_BLOCK_STATUS": Perm(p.EditAnyUser),
		"GET_PERMISSION_GROUPS":    AnyOf(Perm(p.EditUserGroups), Perm(p.ViewUsers)),
		"GET_PROFILE":              AnyOf(Owner("profileId"), Perm(p.ViewUsers)),
		"UPDATE_PROFILE":           AnyOf(AllOf(Perm(p.EditOwnProfile), Owner("profileId")), Perm(p.EditAnyUser)),

		// items
		"GET_ITEM_BY_EXTERNAL_ID": AnyOf(Perm(p.ViewAnyPublishedItems), Perm(p.ViewAnyUnpublishedItems)),
		"GET_UNPUBLISHED_ITEMS":   Perm(p.ViewAnyUnpublishedItems),
		"PUBLISH_ITEM":            Perm(p.PublishItems),

		// collections
		"GET_COLLECTION_BY_ID":     LoggedIn(),
		"GET_COLLECTIONS_BY_OWNER": AnyOf(Owner("ownerProfileId"), Perm(p.EditAnyCollections)),
		"INSERT_COLLECTION":        AllOf(Perm(p.CreateCollections), Owner("collection.owner_profile_id")),
		"UPDATE_COLLECTION":        AnyOf(AllOf(Perm(p.EditOwnCollections), Owner("ownerProfileId")), Perm(p.EditAnyCollections)),
		"DELETE_COLLECTION":        AnyOf(AllOf(Perm(p.DeleteOwnCollections), Owner("ownerProfileId")), Perm(p.DeleteAnyCollections)),

		// assignments
		"GET_ASSIGNMENTS_BY_OWNER": AllOf(Perm(p.CreateAssignments), Owner("ownerProfileId")),
		"INSERT_ASSIGNMENT":        AllOf(Perm(p.CreateAssignments), Owner("assignment.owner_profile_id")),
		"UPDATE_ASSIGNMENT":        AllOf(Perm(p.EditAssignments), Owner("ownerProfileId")),

		// bookmarks
		"GET_BOOKMARKS":   AllOf(Perm(p.CreateBookmarks), Owner("profileId")),
		"INSERT_BOOKMARK": AllOf(Perm(p.CreateBookmarks), Owner("bookmark.profile_id")),
		"DELETE_BOOKMARK": AllOf(Perm(p.CreateBookmarks), Owner("profileId")),

		// content
		"GET_NAVIGATION_ITEMS":     Public(),
		"UPDATE_NAVIGATION_ITEM":   Perm(p.EditNavigationBars),
		"GET_CONTENT_PAGE_BY_PATH": Public(),
		"UPDATE_CONTENT_PAGE":      Perm(p.EditContentPages),
		"GET_INTERACTIVE_TOURS":    LoggedIn(),
		"UPDATE_INTERACTIVE_TOUR":  Perm(p.EditInteractiveTours),
		"GET_ADMIN_DASHBOARD":      Perm(p.ViewAdminDashboard),
	}
}

// ServerTable returns the entries for operations sent by trusted backends
// through the API key route. Those callers carry no user.
func ServerTable() Table {
	return Table{
		"GET_PUBLIC_CONTENT_PAGE_PATHS": Public(),
		"GET_PUBLIC_COLLECTION_IDS":     Public(),
		"GET_PUBLIC_ITEM_IDS":           Public(),
		"GET_USER_BY_ID":                Public(),
		"GET_NOTIFICATIONS_TO_SEND":     Public(),
	}
}
