package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mikepea/avoproxy/pkg/avoproxy/config"
	"github.com/mikepea/avoproxy/pkg/avoproxy/database"
	"github.com/mikepea/avoproxy/pkg/avoproxy/guards"
	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
	"github.com/mikepea/avoproxy/pkg/avoproxy/permissions"
	"github.com/mikepea/avoproxy/pkg/avoproxy/session"
	"github.com/mikepea/avoproxy/pkg/avoproxy/stampcrypt"
	"github.com/mikepea/avoproxy/pkg/avoproxy/users"
)

const clientURL = "https://avo.example.be"

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

type captureMailer struct {
	links []string
}

func (m *captureMailer) SendStampVerification(_ context.Context, _ *models.User, link string) error {
	m.links = append(m.links, link)
	return nil
}

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
	mailer *captureMailer
	user   *models.User
}

func setupTestEnv(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)
	env := &testEnv{db: setupTestDB(t), mailer: &captureMailer{}}

	resolver := users.NewResolver(env.db, "avo")
	user, err := resolver.ResolveOrCreate(context.Background(), idp.NewHetArchiefClaim(idp.HetArchiefClaim{
		NameID:              "lies",
		SessionNotOnOrAfter: time.Now().Add(time.Hour),
		Attributes: idp.HetArchiefAttributes{
			Mail:      "lies@school.be",
			GivenName: "Lies",
			Roles:     []string{"leerkracht"},
			Apps:      []string{"avo"},
		},
	}))
	require.NoError(t, err)
	env.user = user

	stamps, err := stampcrypt.New("stamp-key")
	require.NoError(t, err)

	handler := NewHandler(Dependencies{
		DB:        env.db,
		Users:     resolver,
		Sessions:  session.NewManager(session.NewMemoryStore(10, time.Hour), config.SessionConfig{TTL: time.Hour, CookieName: "avo.sid"}),
		Stamps:    stamps,
		Mailer:    env.mailer,
		ClientURL: clientURL,
	})

	authenticated := func(c *gin.Context) {
		c.Set(guards.ContextKeyUser, env.user)
		c.Next()
	}
	env.router = gin.New()
	handler.RegisterRoutes(env.router.Group("/profile"), authenticated)
	return env
}

func (env *testEnv) request(method, target string, body any) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		raw, _ := json.Marshal(body)
		req, _ = http.NewRequest(method, target, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, target, nil)
	}
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	return resp
}

func (env *testEnv) profile(t *testing.T) models.Profile {
	t.Helper()
	var p models.Profile
	require.NoError(t, env.db.Where("user_id = ?", env.user.ID).First(&p).Error)
	return p
}

func TestUpdateEducationLevelsSwapsSecondaryGroup(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.request("PATCH", "/profile/education-levels", EducationLevelsRequest{
		EducationLevels: []string{models.EducationLevelSecondary, " ", "Lager onderwijs"},
	})
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		EducationLevels []string `json:"educationLevels"`
		Groups          []string `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, []string{models.EducationLevelSecondary, "Lager onderwijs"}, body.EducationLevels)
	assert.Equal(t, []string{permissions.GroupTeacherSecondary}, body.Groups)
	assert.NotEmpty(t, resp.Result().Cookies(), "session is saved with the updated user")

	resp = env.request("PATCH", "/profile/education-levels", EducationLevelsRequest{EducationLevels: []string{}})
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, []string{permissions.GroupTeacher}, body.Groups)
}

func TestStampVerification(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.request("POST", "/profile/stamp", StampRequest{StampNumber: "97436428856"})
	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Len(t, env.mailer.links, 1)
	assert.Equal(t, "97436428856", env.profile(t).StampNumber)
	assert.Nil(t, env.profile(t).StampVerifiedAt)

	resp = env.request("GET", env.mailer.links[0], nil)
	assert.Equal(t, http.StatusFound, resp.Code)
	assert.Equal(t, clientURL+VerifiedPath, resp.Header().Get("Location"))
	assert.NotNil(t, env.profile(t).StampVerifiedAt)
}

func TestStampNumberValidation(t *testing.T) {
	env := setupTestEnv(t)

	for _, stamp := range []string{"", "1234", "9743642885a", "974364288561"} {
		resp := env.request("POST", "/profile/stamp", map[string]string{"stampNumber": stamp})
		assert.Equal(t, http.StatusBadRequest, resp.Code, stamp)
	}
	assert.Empty(t, env.mailer.links)
}

func TestVerifyStampRejectsBadCodes(t *testing.T) {
	env := setupTestEnv(t)

	for _, code := range []string{"", "garbage"} {
		resp := env.request("GET", "/profile/verify-stamp?code="+url.QueryEscape(code), nil)
		require.Equal(t, http.StatusFound, resp.Code)
		location, err := url.Parse(resp.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, MessageInvalidStampCode, location.Query().Get("message"))
	}
}

func TestVerifyStampAfterChangeFails(t *testing.T) {
	env := setupTestEnv(t)

	env.request("POST", "/profile/stamp", StampRequest{StampNumber: "97436428856"})
	env.request("POST", "/profile/stamp", StampRequest{StampNumber: "11111111111"})
	require.Len(t, env.mailer.links, 2)

	resp := env.request("GET", env.mailer.links[0], nil)
	location, err := url.Parse(resp.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/error", location.Path)
	assert.Nil(t, env.profile(t).StampVerifiedAt)
}

func TestAcceptConditions(t *testing.T) {
	env := setupTestEnv(t)
	require.False(t, env.profile(t).AcceptedConditions)

	resp := env.request("POST", "/profile/accept-conditions", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, env.profile(t).AcceptedConditions)
}

func TestStampPayload(t *testing.T) {
	id, stamp, ok := parseStampPayload(stampPayload(42, "97436428856"))
	assert.True(t, ok)
	assert.Equal(t, uint(42), id)
	assert.Equal(t, "97436428856", stamp)

	for _, payload := range []string{"", "42", "42:", "x:1", "0:1"} {
		_, _, ok := parseStampPayload(payload)
		assert.False(t, ok, payload)
	}
}

func TestLogMailerOnlyLogsTheIssue(t *testing.T) {
	var buf bytes.Buffer
	previous := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.InfoLevel)
	defer func() { log.Logger = previous }()

	user := &models.User{ID: 5, Email: "lies@school.be"}
	require.NoError(t, LogMailer{}.SendStampVerification(context.Background(), user, "https://proxy.example.be/profile/verify-stamp?code=secret"))

	assert.Contains(t, buf.String(), "stamp verification link issued")
	assert.Contains(t, buf.String(), "lies@school.be")
	assert.NotContains(t, buf.String(), "code=secret", "the link is a credential and stays out of info logs")
}
