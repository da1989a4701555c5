package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mikepea/avoproxy/pkg/avoproxy/database"
	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.OpenAndMigrate(":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	return db
}

func TestDefaultSeedIsValid(t *testing.T) {
	seed, err := DefaultSeed()
	require.NoError(t, err)

	keys := map[string]GroupSpec{}
	for _, g := range seed.Groups {
		keys[g.Key] = g
	}
	assert.Equal(t, "leerkracht", keys[GroupTeacher].IdpRole)
	assert.Equal(t, GroupTeacher, keys[GroupTeacherSecondary].SecondaryOf)
	assert.Equal(t, keys[GroupTeacher].Permissions, keys[GroupTeacherSecondary].Permissions)
	assert.Empty(t, keys[GroupAdmin].IdpRole)
}

func TestParseSeedRejectsUnknownPermission(t *testing.T) {
	_, err := ParseSeed([]byte(`
groups:
  - key: broken
    label: Broken
    permissions: [SEARCH, ""]
  - key: dangling
    label: Dangling
    secondary_of: nowhere
    permissions: [MADE_UP]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown permission ""`)
	assert.Contains(t, err.Error(), "MADE_UP")
	assert.Contains(t, err.Error(), "nowhere")
}

func TestSeedIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	seed, err := DefaultSeed()
	require.NoError(t, err)

	require.NoError(t, Seed(db, seed))
	require.NoError(t, Seed(db, seed))

	var groupCount, permCount int64
	db.Model(&models.PermissionGroup{}).Count(&groupCount)
	db.Model(&models.Permission{}).Count(&permCount)
	assert.Equal(t, int64(len(seed.Groups)), groupCount)
	assert.Equal(t, int64(len(All)), permCount)

	var secondary models.PermissionGroup
	require.NoError(t, db.Preload("SecondaryOf").Preload("Permissions").
		Where(&models.PermissionGroup{Key: GroupTeacherSecondary}).First(&secondary).Error)
	require.NotNil(t, secondary.SecondaryOf)
	assert.Equal(t, GroupTeacher, secondary.SecondaryOf.Key)
	assert.True(t, secondary.IsIdpManaged())
	assert.Len(t, secondary.Permissions, len(seedGroup(t, seed, GroupTeacher).Permissions))
}

func TestSeedKeepsMemberships(t *testing.T) {
	db := setupTestDB(t)
	seed, err := DefaultSeed()
	require.NoError(t, err)
	require.NoError(t, Seed(db, seed))

	var admin models.PermissionGroup
	require.NoError(t, db.Where(&models.PermissionGroup{Key: GroupAdmin}).First(&admin).Error)
	user := models.User{Email: "root@avo.be", Groups: []models.PermissionGroup{admin}}
	require.NoError(t, db.Create(&user).Error)

	require.NoError(t, Seed(db, seed))

	var loaded models.User
	require.NoError(t, db.Preload("Groups.Permissions").First(&loaded, user.ID).Error)
	assert.True(t, loaded.HasGroup(GroupAdmin))
	assert.True(t, loaded.HasPermission(EditAnyUser))
}

func seedGroup(t *testing.T, seed *SeedFile, key string) GroupSpec {
	t.Helper()
	for _, g := range seed.Groups {
		if g.Key == key {
			return g
		}
	}
	t.Fatalf("group %s not in seed", key)
	return GroupSpec{}
}
