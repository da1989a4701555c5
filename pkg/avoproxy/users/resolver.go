// Package users maps IdP claims onto local users: registration on first
// login, and keeping names, affiliation and IdP-managed group membership in
// sync with the claim on every later login.
package users

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
)

var (
	// ErrNoAccess is returned for an unknown identity without the platform entitlement.
	ErrNoAccess = errors.New("identity has no access to the platform")
	// ErrNotFound is returned when a user id does not exist.
	ErrNotFound = errors.New("user not found")
)

// Resolver turns claims into local users.
type Resolver struct {
	db          *gorm.DB
	entitlement string
}

// NewResolver creates a resolver. entitlement is the app the institutional
// IdP must list for a user to get in.
func NewResolver(db *gorm.DB, entitlement string) *Resolver {
	return &Resolver{db: db, entitlement: entitlement}
}

// ResolveOrCreate returns the user linked to the claim's identity, synced
// with the claim. Unknown identities are registered when entitled.
func (r *Resolver) ResolveOrCreate(ctx context.Context, claim *idp.Claim) (*models.User, error) {
	if err := claim.Validate(); err != nil {
		return nil, err
	}

	user, err := r.findLinked(ctx, claim)
	if err == nil {
		synced, _, err := r.SyncFromClaim(ctx, user, claim)
		return synced, err
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if !claim.HasEntitlement(r.entitlement) {
		return nil, ErrNoAccess
	}

	user, err = r.register(ctx, claim)
	if err != nil {
		// A concurrent first login may have registered the identity in the meantime.
		if linked, findErr := r.findLinked(ctx, claim); findErr == nil {
			return linked, nil
		}
		return nil, err
	}
	return user, nil
}

func (r *Resolver) findLinked(ctx context.Context, claim *idp.Claim) (*models.User, error) {
	var link models.IdpLink
	err := r.db.WithContext(ctx).
		Where(&models.IdpLink{IdpType: claim.Type, ExternalID: claim.ExternalID()}).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return r.LoadUser(ctx, link.UserID)
}

func (r *Resolver) register(ctx context.Context, claim *idp.Claim) (*models.User, error) {
	all, err := r.allGroups(ctx)
	if err != nil {
		return nil, err
	}

	user := models.User{
		FirstName: claim.FirstName(),
		LastName:  claim.LastName(),
		Email:     claim.Email(),
		Profile:   profileFromClaim(claim),
	}
	initial := DesiredGroups(nil, all, claim.Roles())

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Groups").Create(&user).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		link := models.IdpLink{UserID: user.ID, IdpType: claim.Type, ExternalID: claim.ExternalID()}
		if err := tx.Create(&link).Error; err != nil {
			return fmt.Errorf("create idp link: %w", err)
		}
		if len(initial) > 0 {
			if err := tx.Model(&user).Association("Groups").Append(groupRefs(initial)); err != nil {
				return fmt.Errorf("assign initial groups: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Uint("user_id", user.ID).
		Str("idp", string(claim.Type)).
		Strs("groups", groupKeys(initial)).
		Msg("registered user on first login")
	return r.LoadUser(ctx, user.ID)
}

func profileFromClaim(claim *idp.Claim) models.Profile {
	profile := models.Profile{}
	if claim.HetArchief != nil {
		attrs := claim.HetArchief.Attributes
		profile.Alias = attrs.DisplayName
		profile.StampNumber = attrs.StampNumber
		if attrs.OrganizationID != "" {
			profile.Organizations = []models.ProfileOrganization{{OrganizationID: attrs.OrganizationID, UnitID: attrs.UnitID}}
		}
	}
	return profile
}

// SyncFromClaim brings user in line with a fresh institutional IdP claim.
// Claims of other IdPs carry nothing authoritative and leave the user as is.
// Locally managed groups are never touched. A lost entitlement blocks the
// user; a regained one does not unblock. changed reports a net difference.
func (r *Resolver) SyncFromClaim(ctx context.Context, user *models.User, claim *idp.Claim) (*models.User, bool, error) {
	if claim.HetArchief == nil {
		return user, false, nil
	}

	all, err := r.allGroups(ctx)
	if err != nil {
		return nil, false, err
	}

	fields := userFieldsFromClaim(user, claim, r.entitlement)
	orgs, stamp := profileFieldsFromClaim(&user.Profile, claim)
	desired := ReconcileSecondary(DesiredGroups(user.Groups, all, claim.Roles()), all, user.Profile.TeachesSecondary())

	userChanged := fields != userFields{user.FirstName, user.LastName, user.Email, user.IsBlocked}
	profileChanged := !slices.Equal(orgs, user.Profile.Organizations) || stamp != user.Profile.StampNumber
	groupsChanged := !SameGroups(desired, user.Groups)

	if !userChanged && !profileChanged && !groupsChanged {
		return user, false, nil
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if userChanged {
			update := models.User{FirstName: fields.firstName, LastName: fields.lastName, Email: fields.email, IsBlocked: fields.blocked}
			if err := tx.Model(&models.User{ID: user.ID}).
				Select("FirstName", "LastName", "Email", "IsBlocked").
				Updates(&update).Error; err != nil {
				return fmt.Errorf("update user: %w", err)
			}
		}
		if profileChanged {
			update := models.Profile{Organizations: orgs, StampNumber: stamp}
			if err := tx.Model(&models.Profile{ID: user.Profile.ID}).
				Select("Organizations", "StampNumber").
				Updates(&update).Error; err != nil {
				return fmt.Errorf("update profile: %w", err)
			}
		}
		if groupsChanged {
			if err := tx.Model(&models.User{ID: user.ID}).Association("Groups").Replace(groupRefs(desired)); err != nil {
				return fmt.Errorf("replace groups: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if fields.blocked && !user.IsBlocked {
		log.Warn().Uint("user_id", user.ID).Msg("user blocked: entitlement no longer present in claim")
	}
	if groupsChanged {
		log.Info().
			Uint("user_id", user.ID).
			Strs("from", user.GroupKeys()).
			Strs("to", groupKeys(desired)).
			Msg("permission groups synced from claim")
	}

	synced, err := r.LoadUser(ctx, user.ID)
	if err != nil {
		return nil, false, err
	}
	return synced, true, nil
}

type userFields struct {
	firstName, lastName, email string
	blocked                    bool
}

func userFieldsFromClaim(user *models.User, claim *idp.Claim, entitlement string) userFields {
	f := userFields{user.FirstName, user.LastName, user.Email, user.IsBlocked}
	if v := claim.FirstName(); v != "" {
		f.firstName = v
	}
	if v := claim.LastName(); v != "" {
		f.lastName = v
	}
	if v := claim.Email(); v != "" {
		f.email = v
	}
	if !claim.HasEntitlement(entitlement) {
		f.blocked = true
	}
	return f
}

func profileFieldsFromClaim(profile *models.Profile, claim *idp.Claim) ([]models.ProfileOrganization, string) {
	attrs := claim.HetArchief.Attributes
	orgs := profile.Organizations
	if attrs.OrganizationID != "" {
		orgs = []models.ProfileOrganization{{OrganizationID: attrs.OrganizationID, UnitID: attrs.UnitID}}
	}
	stamp := profile.StampNumber
	if attrs.StampNumber != "" {
		stamp = attrs.StampNumber
	}
	return orgs, stamp
}

// ReconcileSecondaryGroups applies the secondary-education swap to the
// stored membership of user and refreshes user.Groups when it changed.
func (r *Resolver) ReconcileSecondaryGroups(ctx context.Context, user *models.User) (bool, error) {
	all, err := r.allGroups(ctx)
	if err != nil {
		return false, err
	}
	reconciled := ReconcileSecondary(user.Groups, all, user.Profile.TeachesSecondary())
	if SameGroups(reconciled, user.Groups) {
		return false, nil
	}

	if err := r.db.WithContext(ctx).Model(&models.User{ID: user.ID}).Association("Groups").Replace(groupRefs(reconciled)); err != nil {
		return false, fmt.Errorf("replace groups: %w", err)
	}
	log.Info().
		Uint("user_id", user.ID).
		Strs("from", user.GroupKeys()).
		Strs("to", groupKeys(reconciled)).
		Msg("secondary education groups reconciled")

	reloaded, err := r.LoadUser(ctx, user.ID)
	if err != nil {
		return false, err
	}
	user.Groups = reloaded.Groups
	return true, nil
}

// UpdateEducationLevels stores the education levels and reconciles the
// secondary-education groups that depend on them.
func (r *Resolver) UpdateEducationLevels(ctx context.Context, userID uint, levels []string) (*models.User, error) {
	user, err := r.LoadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if levels == nil {
		levels = []string{}
	}

	update := models.Profile{EducationLevels: levels}
	if err := r.db.WithContext(ctx).Model(&models.Profile{ID: user.Profile.ID}).
		Select("EducationLevels").
		Updates(&update).Error; err != nil {
		return nil, fmt.Errorf("update education levels: %w", err)
	}
	user.Profile.EducationLevels = levels

	if _, err := r.ReconcileSecondaryGroups(ctx, user); err != nil {
		return nil, err
	}
	return r.LoadUser(ctx, userID)
}

// LoadUser loads a user with everything the session and the gate need.
func (r *Resolver) LoadUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Preload("Profile").
		Preload("IdpLinks").
		Preload("Groups.Permissions").
		First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	return &user, nil
}

func (r *Resolver) allGroups(ctx context.Context) ([]models.PermissionGroup, error) {
	var groups []models.PermissionGroup
	if err := r.db.WithContext(ctx).Preload("Permissions").Order("id").Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("load permission groups: %w", err)
	}
	return groups, nil
}

func groupKeys(groups []models.PermissionGroup) []string {
	keys := make([]string, 0, len(groups))
	for _, g := range groups {
		keys = append(keys, g.Key)
	}
	slices.Sort(keys)
	return keys
}
