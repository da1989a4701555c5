package models

import (
	"time"

	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
)

// IdpLink links a user to one identity at an external IdP.
// A (idp_type, external_id) pair reaches at most one user. Links are hard deleted on unlink.
type IdpLink struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	IdpType    idp.Type  `gorm:"type:varchar(20);not null;uniqueIndex:idx_idp_external" json:"idp_type"`
	ExternalID string    `gorm:"not null;uniqueIndex:idx_idp_external" json:"external_id"` // Subject at the IdP

	// Relationships
	User User `gorm:"foreignKey:UserID" json:"-"`
}
