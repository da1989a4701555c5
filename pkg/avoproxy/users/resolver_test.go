package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mikepea/avoproxy/pkg/avoproxy/database"
	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
	"github.com/mikepea/avoproxy/pkg/avoproxy/permissions"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.OpenAndMigrate(":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	seed, err := permissions.DefaultSeed()
	if err != nil {
		t.Fatalf("Failed to parse group seed: %v", err)
	}
	if err := permissions.Seed(db, seed); err != nil {
		t.Fatalf("Failed to seed groups: %v", err)
	}
	return db
}

func hetArchiefClaim(nameID string, roles []string, apps ...string) *idp.Claim {
	return idp.NewHetArchiefClaim(idp.HetArchiefClaim{
		NameID:              nameID,
		SessionNotOnOrAfter: time.Now().Add(time.Hour),
		Attributes: idp.HetArchiefAttributes{
			Mail:           nameID + "@school.be",
			GivenName:      "Lies",
			Surname:        "Wouters",
			OrganizationID: "OR-1",
			UnitID:         "OR-1-A",
			Roles:          roles,
			Apps:           apps,
		},
	})
}

func group(t *testing.T, db *gorm.DB, key string) models.PermissionGroup {
	t.Helper()
	var g models.PermissionGroup
	require.NoError(t, db.Where(&models.PermissionGroup{Key: key}).First(&g).Error)
	return g
}

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestResolveOrCreateRegistersEntitledTeacher(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "avo")

	user, err := r.ResolveOrCreate(context.Background(), hetArchiefClaim("lies", []string{"leerkracht"}, "avo"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), count(t, db, &models.User{}))
	assert.Equal(t, int64(1), count(t, db, &models.Profile{}))
	assert.Equal(t, int64(1), count(t, db, &models.IdpLink{}))

	assert.Equal(t, []string{permissions.GroupTeacher}, user.GroupKeys())
	assert.Equal(t, "Lies", user.FirstName)
	assert.Equal(t, "lies@school.be", user.Email)
	require.Len(t, user.IdpLinks, 1)
	assert.Equal(t, idp.HetArchief, user.IdpLinks[0].IdpType)
	assert.Equal(t, "lies", user.IdpLinks[0].ExternalID)
	assert.Equal(t, []models.ProfileOrganization{{OrganizationID: "OR-1", UnitID: "OR-1-A"}}, user.Profile.Organizations)
	assert.True(t, user.HasPermission(permissions.Search))
}

func TestResolveOrCreateWithoutEntitlement(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "avo")

	_, err := r.ResolveOrCreate(context.Background(), hetArchiefClaim("lies", []string{"leerkracht"}, "hetarchief"))
	assert.ErrorIs(t, err, ErrNoAccess)

	assert.Equal(t, int64(0), count(t, db, &models.User{}))
	assert.Equal(t, int64(0), count(t, db, &models.Profile{}))
	assert.Equal(t, int64(0), count(t, db, &models.IdpLink{}))
}

func TestResolveOrCreateSmartschoolPupilHasNoAccess(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "avo")

	claim := idp.NewSmartschoolClaim(idp.SmartschoolClaim{UserID: "ss-1", BaseRole: "leerling"})
	_, err := r.ResolveOrCreate(context.Background(), claim)
	assert.ErrorIs(t, err, ErrNoAccess)
}

func TestResolveOrCreateReturnsLinkedUser(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "avo")
	ctx := context.Background()

	first, err := r.ResolveOrCreate(ctx, hetArchiefClaim("lies", []string{"leerkracht"}, "avo"))
	require.NoError(t, err)
	second, err := r.ResolveOrCreate(ctx, hetArchiefClaim("lies", []string{"leerkracht"}, "avo"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), count(t, db, &models.User{}))
}

func TestSyncFromClaimIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "avo")
	ctx := context.Background()

	user, err := r.ResolveOrCreate(ctx, hetArchiefClaim("lies", []string{"leerkracht"}, "avo"))
	require.NoError(t, err)

	changedClaim := hetArchiefClaim("lies", []string{"studentleerkracht"}, "avo")
	changedClaim.HetArchief.Attributes.Surname = "Wouters-Peeters"

	user, changed, err := r.SyncFromClaim(ctx, user, changedClaim)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{permissions.GroupStudentTeacher}, user.GroupKeys())
	assert.Equal(t, "Wouters-Peeters", user.LastName)

	again, changed, err := r.SyncFromClaim(ctx, user, changedClaim)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, user.GroupKeys(), again.GroupKeys())
}

func TestSyncFromClaimKeepsLocalGroups(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "avo")
	ctx := context.Background()

	user, err := r.ResolveOrCreate(ctx, hetArchiefClaim("lies", []string{"leerkracht"}, "avo"))
	require.NoError(t, err)
	admin := group(t, db, permissions.GroupAdmin)
	require.NoError(t, db.Model(&models.User{ID: user.ID}).Association("Groups").Append(&admin))
	user, err = r.LoadUser(ctx, user.ID)
	require.NoError(t, err)

	user, changed, err := r.SyncFromClaim(ctx, user, hetArchiefClaim("lies", nil, "avo"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{permissions.GroupAdmin}, user.GroupKeys())
}

func TestSyncFromClaimBlocksWithoutEntitlement(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "avo")
	ctx := context.Background()

	user, err := r.ResolveOrCreate(ctx, hetArchiefClaim("lies", []string{"leerkracht"}, "avo"))
	require.NoError(t, err)

	user, changed, err := r.SyncFromClaim(ctx, user, hetArchiefClaim("lies", []string{"leerkracht"}))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, user.IsBlocked)

	// Existing links still resolve, but the user stays blocked.
	user, err = r.ResolveOrCreate(ctx, hetArchiefClaim("lies", []string{"leerkracht"}, "avo"))
	require.NoError(t, err)
	assert.True(t, user.IsBlocked)
}

func TestSyncFromClaimIgnoresOtherIdps(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "avo")
	ctx := context.Background()

	user, err := r.ResolveOrCreate(ctx, idp.NewKlasCementClaim(idp.KlasCementClaim{Subject: "kc-1", Email: "kc@school.be"}))
	require.NoError(t, err)
	assert.Equal(t, []string{permissions.GroupTeacher}, user.GroupKeys())

	_, changed, err := r.SyncFromClaim(ctx, user, idp.NewKlasCementClaim(idp.KlasCementClaim{Subject: "kc-1", Email: "new@school.be"}))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSecondaryEducationSwap(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "avo")
	ctx := context.Background()

	user, err := r.ResolveOrCreate(ctx, hetArchiefClaim("lies", []string{"leerkracht"}, "avo"))
	require.NoError(t, err)
	require.Equal(t, []string{permissions.GroupTeacher}, user.GroupKeys())

	user, err = r.UpdateEducationLevels(ctx, user.ID, []string{"Lager onderwijs", models.EducationLevelSecondary})
	require.NoError(t, err)
	assert.Equal(t, []string{permissions.GroupTeacherSecondary}, user.GroupKeys())
	assert.True(t, user.HasPermission(permissions.Search))

	changed, err := r.ReconcileSecondaryGroups(ctx, user)
	require.NoError(t, err)
	assert.False(t, changed)

	// A later login with the same role keeps the secondary variant.
	user, changed, err = r.SyncFromClaim(ctx, user, hetArchiefClaim("lies", []string{"leerkracht"}, "avo"))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, []string{permissions.GroupTeacherSecondary}, user.GroupKeys())

	user, err = r.UpdateEducationLevels(ctx, user.ID, []string{"Lager onderwijs"})
	require.NoError(t, err)
	assert.Equal(t, []string{permissions.GroupTeacher}, user.GroupKeys())
}

func TestLoadUserNotFound(t *testing.T) {
	r := NewResolver(setupTestDB(t), "avo")
	_, err := r.LoadUser(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}
