package models

import "time"

// PermissionGroup is a named bundle of permissions assigned to users
type PermissionGroup struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Key       string    `gorm:"uniqueIndex;not null" json:"key"`
	Label     string    `gorm:"not null" json:"label"`

	// IdpRole is the IdP role claim this group follows; nil means locally managed
	IdpRole *string `json:"idp_role,omitempty"`

	// SecondaryOfID points at the group this one replaces for secondary education teachers
	SecondaryOfID *uint `gorm:"index" json:"secondary_of_id,omitempty"`

	// Relationships
	SecondaryOf *PermissionGroup `gorm:"foreignKey:SecondaryOfID" json:"-"`
	Permissions []Permission     `gorm:"many2many:permission_group_permissions;" json:"permissions,omitempty"`
}

// IsIdpManaged reports whether membership is owned by the login sync.
// Secondary variants are swapped in by the reconciliation step and count as managed too.
func (g *PermissionGroup) IsIdpManaged() bool {
	return g.IdpRole != nil || g.SecondaryOfID != nil
}

// Permission is a single named capability
type Permission struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	Description string    `json:"description,omitempty"`
}
