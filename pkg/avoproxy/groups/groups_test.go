package groups

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mikepea/avoproxy/pkg/avoproxy/database"
	"github.com/mikepea/avoproxy/pkg/avoproxy/gate"
	"github.com/mikepea/avoproxy/pkg/avoproxy/guards"
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

func findGroup(t *testing.T, db *gorm.DB, key string) models.PermissionGroup {
	var group models.PermissionGroup
	if err := db.Where(&models.PermissionGroup{Key: key}).First(&group).Error; err != nil {
		t.Fatalf("Failed to find group %s: %v", key, err)
	}
	return group
}

func createTestUser(t *testing.T, db *gorm.DB, email string, groupKeys ...string) *models.User {
	user := models.User{FirstName: "Test", LastName: "User", Email: email}
	for _, key := range groupKeys {
		user.Groups = append(user.Groups, findGroup(t, db, key))
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	var loaded models.User
	if err := db.Preload("Groups.Permissions").First(&loaded, user.ID).Error; err != nil {
		t.Fatalf("Failed to load test user: %v", err)
	}
	return &loaded
}

// setupTestRouter mounts the routes behind the permission guard with actor
// as the logged in user.
func setupTestRouter(db *gorm.DB, actor *models.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHandler(db)

	rg := r.Group("/user-groups", func(c *gin.Context) {
		c.Set(guards.ContextKeyUser, actor)
		c.Next()
	}, guards.MultiGuard(guards.HasPermission(gate.Default(), permissions.EditUserGroups)))
	handler.RegisterRoutes(rg)
	return r
}

func doRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func membersPath(group models.PermissionGroup) string {
	return "/user-groups/" + strconv.FormatUint(uint64(group.ID), 10) + "/members"
}

func TestListGroups(t *testing.T) {
	db := setupTestDB(t)
	admin := createTestUser(t, db, "admin@avo.be", permissions.GroupAdmin)
	createTestUser(t, db, "teacher@school.be", permissions.GroupTeacher)
	router := setupTestRouter(db, admin)

	resp := doRequest(router, "GET", "/user-groups", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var groups []GroupResponse
	json.Unmarshal(resp.Body.Bytes(), &groups)
	byKey := map[string]GroupResponse{}
	for _, g := range groups {
		byKey[g.Key] = g
	}
	if len(byKey) != 7 {
		t.Errorf("Expected 7 seeded groups, got %d", len(byKey))
	}
	teacher := byKey[permissions.GroupTeacher]
	if !teacher.IdpManaged || teacher.IdpRole != "leerkracht" || teacher.MemberCount != 1 {
		t.Errorf("Unexpected teacher group %+v", teacher)
	}
	if !byKey[permissions.GroupTeacherSecondary].IdpManaged {
		t.Error("Expected the secondary variant to count as IdP managed")
	}
	if byKey[permissions.GroupAdmin].IdpManaged || byKey[permissions.GroupAdmin].MemberCount != 1 {
		t.Errorf("Unexpected admin group %+v", byKey[permissions.GroupAdmin])
	}
}

func TestGroupsRequirePermission(t *testing.T) {
	db := setupTestDB(t)
	editor := createTestUser(t, db, "editor@avo.be", permissions.GroupEditor)
	router := setupTestRouter(db, editor)

	resp := doRequest(router, "GET", "/user-groups", nil)
	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", resp.Code)
	}
}

func TestAddAndRemoveMember(t *testing.T) {
	db := setupTestDB(t)
	admin := createTestUser(t, db, "admin@avo.be", permissions.GroupAdmin)
	target := createTestUser(t, db, "redacteur@avo.be")
	editor := findGroup(t, db, permissions.GroupEditor)
	router := setupTestRouter(db, admin)

	resp := doRequest(router, "POST", membersPath(editor), AddMemberRequest{UserID: target.ID})
	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doRequest(router, "POST", membersPath(editor), AddMemberRequest{UserID: target.ID})
	if resp.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for a duplicate member, got %d", resp.Code)
	}

	resp = doRequest(router, "GET", membersPath(editor), nil)
	var members []MemberResponse
	json.Unmarshal(resp.Body.Bytes(), &members)
	if len(members) != 1 || members[0].ID != target.ID || members[0].Name != "Test User" {
		t.Errorf("Expected the new member to be listed, got %+v", members)
	}

	path := membersPath(editor) + "/" + strconv.FormatUint(uint64(target.ID), 10)
	resp = doRequest(router, "DELETE", path, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	resp = doRequest(router, "DELETE", path, nil)
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for a removed member, got %d", resp.Code)
	}
}

func TestIdpManagedGroupsAreReadOnly(t *testing.T) {
	db := setupTestDB(t)
	admin := createTestUser(t, db, "admin@avo.be", permissions.GroupAdmin)
	teacherUser := createTestUser(t, db, "teacher@school.be", permissions.GroupTeacher)
	router := setupTestRouter(db, admin)

	for _, key := range []string{permissions.GroupTeacher, permissions.GroupTeacherSecondary} {
		group := findGroup(t, db, key)
		resp := doRequest(router, "POST", membersPath(group), AddMemberRequest{UserID: admin.ID})
		if resp.Code != http.StatusConflict {
			t.Errorf("Expected status 409 adding to %s, got %d", key, resp.Code)
		}
	}

	teacher := findGroup(t, db, permissions.GroupTeacher)
	resp := doRequest(router, "DELETE", membersPath(teacher)+"/"+strconv.FormatUint(uint64(teacherUser.ID), 10), nil)
	if resp.Code != http.StatusConflict {
		t.Errorf("Expected status 409 removing from an IdP managed group, got %d", resp.Code)
	}
}

func TestAddMemberNotFound(t *testing.T) {
	db := setupTestDB(t)
	admin := createTestUser(t, db, "admin@avo.be", permissions.GroupAdmin)
	editor := findGroup(t, db, permissions.GroupEditor)
	router := setupTestRouter(db, admin)

	resp := doRequest(router, "POST", membersPath(editor), AddMemberRequest{UserID: 999})
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for an unknown user, got %d", resp.Code)
	}

	resp = doRequest(router, "POST", "/user-groups/999/members", AddMemberRequest{UserID: admin.ID})
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for an unknown group, got %d", resp.Code)
	}

	resp = doRequest(router, "POST", "/user-groups/abc/members", AddMemberRequest{UserID: admin.ID})
	if resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a bad group id, got %d", resp.Code)
	}
}
