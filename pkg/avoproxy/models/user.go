package models

import (
	"slices"
	"time"

	"gorm.io/gorm"
)

// User is the local account a person reaches through one or more IdP logins
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	Email     string         `gorm:"index;not null" json:"email"` // Not unique: two IdPs may assert the same address
	IsBlocked bool           `gorm:"default:false" json:"is_blocked"`

	// Relationships
	Profile  Profile           `gorm:"foreignKey:UserID" json:"profile"`
	IdpLinks []IdpLink         `gorm:"foreignKey:UserID" json:"idp_links,omitempty"`
	Groups   []PermissionGroup `gorm:"many2many:user_permission_groups;" json:"groups,omitempty"`
}

// FullName joins first and last name
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// PermissionNames returns the sorted, de-duplicated permissions granted by the user's groups.
// Groups must be loaded with their permissions.
func (u *User) PermissionNames() []string {
	var names []string
	for _, g := range u.Groups {
		for _, p := range g.Permissions {
			names = append(names, p.Name)
		}
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// HasPermission reports whether any of the user's groups grants name
func (u *User) HasPermission(name string) bool {
	for _, g := range u.Groups {
		for _, p := range g.Permissions {
			if p.Name == name {
				return true
			}
		}
	}
	return false
}

// GroupKeys returns the sorted keys of the user's groups
func (u *User) GroupKeys() []string {
	keys := make([]string, 0, len(u.Groups))
	for _, g := range u.Groups {
		keys = append(keys, g.Key)
	}
	slices.Sort(keys)
	return keys
}

// HasGroup reports whether the user is a member of the group with key
func (u *User) HasGroup(key string) bool {
	return slices.ContainsFunc(u.Groups, func(g PermissionGroup) bool { return g.Key == key })
}
