package permissions

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
)

const (
	GroupAdmin                   = "admin"
	GroupEditor                  = "editor"
	GroupTeacher                 = "teacher"
	GroupTeacherSecondary        = "teacher_secondary"
	GroupStudentTeacher          = "student_teacher"
	GroupStudentTeacherSecondary = "student_teacher_secondary"
	GroupPupil                   = "pupil"
)

//go:embed groups.yaml
var defaultGroups []byte

// GroupSpec is one entry of the group seed file
type GroupSpec struct {
	Key         string   `yaml:"key"`
	Label       string   `yaml:"label"`
	IdpRole     string   `yaml:"idp_role,omitempty"`
	SecondaryOf string   `yaml:"secondary_of,omitempty"`
	Permissions []string `yaml:"permissions"`
}

// SeedFile is the document layout of groups.yaml
type SeedFile struct {
	Groups []GroupSpec `yaml:"groups"`
}

// DefaultSeed parses the embedded group seed
func DefaultSeed() (*SeedFile, error) {
	return ParseSeed(defaultGroups)
}

// ParseSeed decodes and validates a group seed document
func ParseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse group seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate rejects unknown permissions, duplicate keys and dangling secondary_of references
func (s *SeedFile) Validate() error {
	var errs []error
	keys := make(map[string]bool, len(s.Groups))
	for _, g := range s.Groups {
		if g.Key == "" {
			errs = append(errs, errors.New("group without key"))
			continue
		}
		if keys[g.Key] {
			errs = append(errs, fmt.Errorf("duplicate group %q", g.Key))
		}
		keys[g.Key] = true
		for _, p := range g.Permissions {
			if !IsKnown(p) {
				errs = append(errs, fmt.Errorf("group %q references unknown permission %q", g.Key, p))
			}
		}
		if g.IdpRole != "" && g.SecondaryOf != "" {
			errs = append(errs, fmt.Errorf("group %q cannot have both idp_role and secondary_of", g.Key))
		}
	}
	for _, g := range s.Groups {
		if g.SecondaryOf != "" && !keys[g.SecondaryOf] {
			errs = append(errs, fmt.Errorf("group %q is secondary of unknown group %q", g.Key, g.SecondaryOf))
		}
	}
	return errors.Join(errs...)
}

// Seed creates or updates every permission and group of the seed. Running it
// again converges on the same rows; it never touches user memberships.
func Seed(db *gorm.DB, seed *SeedFile) error {
	return db.Transaction(func(tx *gorm.DB) error {
		perms := make(map[string]models.Permission, len(All))
		for _, name := range All {
			p := models.Permission{Name: name}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
				return fmt.Errorf("seed permission %s: %w", name, err)
			}
			if err := tx.Where(&models.Permission{Name: name}).First(&p).Error; err != nil {
				return fmt.Errorf("seed permission %s: %w", name, err)
			}
			perms[name] = p
		}

		groups := make(map[string]*models.PermissionGroup, len(seed.Groups))
		// Parents first so secondary_of can be resolved in one pass.
		ordered := make([]GroupSpec, 0, len(seed.Groups))
		for _, g := range seed.Groups {
			if g.SecondaryOf == "" {
				ordered = append(ordered, g)
			}
		}
		for _, g := range seed.Groups {
			if g.SecondaryOf != "" {
				ordered = append(ordered, g)
			}
		}

		for _, spec := range ordered {
			var group models.PermissionGroup
			err := tx.Where(&models.PermissionGroup{Key: spec.Key}).First(&group).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("seed group %s: %w", spec.Key, err)
			}

			group.Key = spec.Key
			group.Label = spec.Label
			group.IdpRole = nil
			if spec.IdpRole != "" {
				role := spec.IdpRole
				group.IdpRole = &role
			}
			group.SecondaryOfID = nil
			if spec.SecondaryOf != "" {
				parent := groups[spec.SecondaryOf]
				group.SecondaryOfID = &parent.ID
			}
			if err := tx.Save(&group).Error; err != nil {
				return fmt.Errorf("seed group %s: %w", spec.Key, err)
			}

			bundle := make([]models.Permission, 0, len(spec.Permissions))
			for _, name := range spec.Permissions {
				bundle = append(bundle, perms[name])
			}
			if err := tx.Model(&group).Association("Permissions").Replace(bundle); err != nil {
				return fmt.Errorf("seed group %s permissions: %w", spec.Key, err)
			}
			groups[spec.Key] = &group
		}

		log.Info().Int("groups", len(groups)).Int("permissions", len(perms)).Msg("permission groups seeded")
		return nil
	})
}
