package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EducationLevelSecondary drives the secondary-education group variants
const EducationLevelSecondary = "Secundair onderwijs"

// Profile holds the personalization and authorization context of a user
type Profile struct {
	ID                 uint                  `gorm:"primarykey" json:"id"`
	UID                string                `gorm:"uniqueIndex;size:36;not null" json:"uid"` // Profile id the data service knows (uuid)
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
	UserID             uint                  `gorm:"uniqueIndex;not null" json:"user_id"`
	Alias              string                `json:"alias,omitempty"`
	AvatarURL          string                `json:"avatar_url,omitempty"`
	StampNumber        string                `json:"stamp_number,omitempty"`
	StampVerifiedAt    *time.Time            `json:"stamp_verified_at,omitempty"`
	Organizations      []ProfileOrganization `gorm:"serializer:json" json:"organizations"`
	EducationLevels    []string              `gorm:"serializer:json" json:"education_levels"`
	Subjects           []string              `gorm:"serializer:json" json:"subjects"`
	IsException        bool                  `gorm:"default:false" json:"is_exception"` // Skips profile completeness checks
	BusinessCategory   string                `json:"business_category,omitempty"`
	AcceptedConditions bool                  `gorm:"default:false" json:"accepted_conditions"`
}

// BeforeCreate assigns the uuid the data service's owner columns refer to
func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if p.UID == "" {
		p.UID = uuid.NewString()
	}
	return nil
}

// ProfileOrganization is an affiliation of the profile with a school or one of its units
type ProfileOrganization struct {
	OrganizationID string `json:"organization_id"`
	UnitID         string `json:"unit_id,omitempty"`
}

// TeachesSecondary reports whether secondary education is among the education levels
func (p *Profile) TeachesSecondary() bool {
	return slices.Contains(p.EducationLevels, EducationLevelSecondary)
}
