package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikepea/avoproxy/pkg/avoproxy/auth"
	"github.com/mikepea/avoproxy/pkg/avoproxy/config"
	"github.com/mikepea/avoproxy/pkg/avoproxy/data"
	"github.com/mikepea/avoproxy/pkg/avoproxy/database"
	"github.com/mikepea/avoproxy/pkg/avoproxy/gate"
	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
	"github.com/mikepea/avoproxy/pkg/avoproxy/idp/idptest"
	"github.com/mikepea/avoproxy/pkg/avoproxy/permissions"
	"github.com/mikepea/avoproxy/pkg/avoproxy/session"
	"github.com/mikepea/avoproxy/pkg/avoproxy/stampcrypt"
	"github.com/mikepea/avoproxy/pkg/avoproxy/tokencache"
	"github.com/mikepea/avoproxy/pkg/avoproxy/whitelist"
)

const (
	clientURL  = "https://avo.example.be"
	apiKey     = "proxy-api-key"
	cookieName = "avo.sid"
)

// upstream plays the GraphQL engine, the search backend and its token endpoint.
type upstream struct {
	mu      sync.Mutex
	headers map[string]http.Header
}

func (u *upstream) record(path string, h http.Header) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.headers[path] = h.Clone()
}

func (u *upstream) header(path string) http.Header {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.headers[path]
}

type testEnv struct {
	router   *gin.Engine
	adapter  *idptest.Adapter
	upstream *upstream
	cookie   string
}

func setupTestEnv(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)

	up := &upstream{headers: map[string]http.Header{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up.record(r.URL.Path, r.Header)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			w.Write([]byte(`{"access_token":"search-token","token_type":"bearer","expires_in":3600}`))
		case "/v1/graphql":
			w.Write([]byte(`{"data":{"app_content_nav_elements":[]}}`))
		case "/avo_items/_search":
			w.Write([]byte(`{"hits":{"total":0,"hits":[]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Env:           config.EnvDevelopment,
		ProxyURL:      "https://proxy.example.be",
		ClientURL:     clientURL,
		GraphQLURL:    srv.URL + "/v1/graphql",
		GraphQLSecret: "graphql-secret",
		ProxyAPIKey:   apiKey,
		StateSecret:   "state-secret",
		Session:       config.SessionConfig{TTL: 4 * time.Hour, CookieName: cookieName},
		SAML:          config.SAMLConfig{RequiredEntitlement: "avo"},
		Search:        config.SearchConfig{URL: srv.URL, Index: "avo_items"},
	}

	db, err := database.OpenAndMigrate(":memory:")
	require.NoError(t, err)
	seed, err := permissions.DefaultSeed()
	require.NoError(t, err)
	require.NoError(t, permissions.Seed(db, seed))

	adapter := idptest.New(idp.Smartschool, idp.NewSmartschoolClaim(idp.SmartschoolClaim{
		UserID:   "ss-1",
		Name:     "Jan",
		Surname:  "Peeters",
		Email:    "jan@smartschool.be",
		BaseRole: "leerkracht",
	}))
	registry, err := idp.NewRegistry(adapter)
	require.NoError(t, err)

	wl, err := whitelist.Load()
	require.NoError(t, err)
	stamps, err := stampcrypt.New("stamp-key")
	require.NoError(t, err)

	router := NewRouter(Dependencies{
		Config:       cfg,
		DB:           db,
		Sessions:     session.NewManager(session.NewMemoryStore(100, cfg.Session.TTL), cfg.Session),
		Registry:     registry,
		Whitelist:    wl,
		Gate:         gate.Default(),
		Stamps:       stamps,
		SearchTokens: tokencache.NewClientCredentials(srv.URL+"/token", "search-id", "search-secret"),
	})
	return &testEnv{router: router, adapter: adapter, upstream: up}
}

func (env *testEnv) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	if env.cookie != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: env.cookie})
	}

	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	for _, cookie := range resp.Result().Cookies() {
		if cookie.Name == cookieName {
			env.cookie = cookie.Value
		}
	}
	return resp
}

func (env *testEnv) login(t *testing.T) {
	t.Helper()
	resp := env.do("GET", "/auth/smartschool/login?returnToUrl="+url.QueryEscape(clientURL+"/start"), "")
	require.Equal(t, http.StatusFound, resp.Code)

	resp = env.do("GET", "/auth/smartschool/login-callback?code=abc&state="+url.QueryEscape(env.adapter.LastState), "")
	require.Equal(t, http.StatusFound, resp.Code)
	require.Equal(t, clientURL+"/start", resp.Header().Get("Location"))
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t)
	resp := env.do("GET", "/health", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, resp.Header().Get("X-Request-Id"))
}

func TestSwaggerDocIsServed(t *testing.T) {
	env := setupTestEnv(t)
	resp := env.do("GET", "/swagger/doc.json", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &doc))
	paths, _ := doc["paths"].(map[string]any)
	assert.Contains(t, paths, "/data")
	assert.Contains(t, paths, "/auth/check-login")
}

func TestAnonymousRoutes(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do("GET", "/auth/check-login", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var body auth.CheckLoginResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, auth.StatusLoggedOut, body.Message)

	resp = env.do("POST", "/data", `{"query":"GET_NAVIGATION_ITEMS"}`)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, data.RoleAnonymous, env.upstream.header("/v1/graphql").Get(data.HeaderRole))

	resp = env.do("POST", "/data", `{"query":"GET_USERS"}`)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = env.do("POST", "/data", `{"query":"DROP_EVERYTHING"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	for _, route := range []struct{ method, path string }{
		{"POST", "/search"},
		{"PATCH", "/profile/education-levels"},
		{"GET", "/user-groups"},
		{"GET", "/admin/users"},
		{"GET", "/auth/link-account?idpType=klascement"},
	} {
		resp := env.do(route.method, route.path, "{}")
		assert.Equal(t, http.StatusUnauthorized, resp.Code, route.path)
	}
}

func TestLoggedInRoutes(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp := env.do("GET", "/auth/check-login", "")
	var body auth.CheckLoginResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, auth.StatusLoggedIn, body.Message)

	resp = env.do("POST", "/data", `{"query":"GET_NAVIGATION_ITEMS"}`)
	assert.Equal(t, http.StatusOK, resp.Code)
	graphql := env.upstream.header("/v1/graphql")
	assert.Equal(t, data.RoleUser, graphql.Get(data.HeaderRole))
	assert.Equal(t, "graphql-secret", graphql.Get(data.HeaderAdminSecret))
	assert.NotEmpty(t, graphql.Get(data.HeaderUserID))

	resp = env.do("POST", "/search", `{"query":{"match_all":{}}}`)
	assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "Bearer search-token", env.upstream.header("/avo_items/_search").Get("Authorization"))

	// Teachers may search but not manage users or groups.
	assert.Equal(t, http.StatusForbidden, env.do("GET", "/admin/users", "").Code)
	assert.Equal(t, http.StatusForbidden, env.do("GET", "/user-groups", "").Code)

	resp = env.do("POST", "/profile/accept-conditions", "")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestOwnerScopedQueriesUseProfileUID(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp := env.do("GET", "/auth/check-login", "")
	var body auth.CheckLoginResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotNil(t, body.UserInfo)
	own := body.UserInfo.Profile.UID
	require.NotEmpty(t, own)

	query := func(name, variable, value string) int {
		payload, err := json.Marshal(map[string]any{"query": name, "variables": map[string]any{variable: value}})
		require.NoError(t, err)
		return env.do("POST", "/data", string(payload)).Code
	}

	assert.Equal(t, http.StatusOK, query("GET_PROFILE", "profileId", own))
	assert.Equal(t, http.StatusOK, query("GET_COLLECTIONS_BY_OWNER", "ownerProfileId", own))
	assert.Equal(t, http.StatusForbidden, query("GET_PROFILE", "profileId", "0b7d6a1e-3c44-4b8e-9f10-2e6a5c8d9f43"))
	assert.Equal(t, http.StatusForbidden, query("GET_COLLECTIONS_BY_OWNER", "ownerProfileId", strconv.FormatUint(uint64(body.UserInfo.Profile.ID), 10)))
}

func TestServerRoutesRequireAPIKey(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do("POST", "/admin/permission-groups/seed", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = env.do("POST", "/admin/permission-groups/seed", "", "Authorization", "Bearer "+apiKey)
	assert.Equal(t, http.StatusOK, resp.Code)

	query := `{"query":"GET_PUBLIC_ITEM_IDS"}`
	resp = env.do("POST", "/data/server", query)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = env.do("POST", "/data/server", query, "Authorization", "Bearer "+apiKey)
	assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, data.RoleServer, env.upstream.header("/v1/graphql").Get(data.HeaderRole))
}

func TestSearchRejectsNonJSONBody(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp := env.do("POST", "/search", "not json")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Nil(t, env.upstream.header("/avo_items/_search"))
}
