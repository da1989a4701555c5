package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var requiredVars = map[string]string{
	"CLIENT_URL":                "https://avo.example.be/",
	"GRAPHQL_URL":               "https://graphql.example.be/v1/graphql",
	"GRAPHQL_SECRET":            "graphql-secret",
	"PROXY_API_KEY":             "api-key",
	"STATE_SECRET":              "state-secret",
	"STAMP_ENCRYPTION_KEY":      "stamp-key",
	"SAML_IDP_METADATA_URL":     "https://idp.example.be/metadata",
	"SAML_SP_ENTITY_ID":         "https://proxy.example.be/saml",
	"SAML_SP_CERT_PATH":         "/etc/avo/sp.crt",
	"SAML_SP_KEY_PATH":          "/etc/avo/sp.key",
	"SMARTSCHOOL_CLIENT_ID":     "ss-id",
	"SMARTSCHOOL_CLIENT_SECRET": "ss-secret",
	"KLASCEMENT_ISSUER":         "https://klascement.example.be",
	"KLASCEMENT_CLIENT_ID":      "kc-id",
	"KLASCEMENT_CLIENT_SECRET":  "kc-secret",
	"ELASTICSEARCH_URL":         "https://search.example.be/",
}

func setRequired(t *testing.T) {
	for key, value := range requiredVars {
		t.Setenv(key, value)
	}
	for _, key := range []string{"ENV", "PORT", "SESSION_EXPIRY_HOURS", "SESSION_STORE", "COOKIE_SECURE", "SAML_REQUIRED_ENTITLEMENT", "SEARCH_TOKEN_URL"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "https://avo.example.be", cfg.ClientURL)
	assert.Equal(t, "https://search.example.be", cfg.Search.URL)
	assert.Equal(t, 4*time.Hour, cfg.Session.TTL)
	assert.Equal(t, SessionStoreMemory, cfg.Session.Store)
	assert.False(t, cfg.Session.CookieSecure)
	assert.Equal(t, "avo", cfg.SAML.RequiredEntitlement)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("GRAPHQL_SECRET", "")
	t.Setenv("SAML_SP_KEY_PATH", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GRAPHQL_SECRET")
	assert.Contains(t, err.Error(), "SAML_SP_KEY_PATH")
}

func TestLoadProductionCookieSecure(t *testing.T) {
	setRequired(t)
	t.Setenv("ENV", "production")
	t.Setenv("SESSION_EXPIRY_HOURS", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Session.CookieSecure)
	assert.Equal(t, 8*time.Hour, cfg.Session.TTL)
}

func TestLoadInvalidSessionStore(t *testing.T) {
	setRequired(t)
	t.Setenv("SESSION_STORE", "redis")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_STORE")
}

func TestLoadSearchCredentialsRequiredWithTokenURL(t *testing.T) {
	setRequired(t)
	t.Setenv("SEARCH_TOKEN_URL", "https://auth.example.be/token")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SEARCH_CLIENT_ID")
}
