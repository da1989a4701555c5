package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvDevelopment = "DEV"

	SessionStoreMemory = "memory"
	SessionStoreBadger = "badger"
)

// Config holds the proxy configuration. Everything comes from environment
// variables; Load fails when a required variable is missing so the process
// never starts half configured.
type Config struct {
	Env      string
	Port     string
	LogLevel string

	// ProxyURL is the public base URL of this service, used to build IdP callback URLs.
	ProxyURL string
	// ClientURL is the base URL of the frontend; return urls must live below it.
	ClientURL string

	DatabasePath string

	Session SessionConfig

	GraphQLURL    string
	GraphQLSecret string

	// ProxyAPIKey is the shared secret for server-to-server and cron routes.
	ProxyAPIKey string
	// StateSecret signs the login state carried through the IdP round trip.
	StateSecret string
	// StampEncryptionKey encrypts stamp numbers in verification links.
	StampEncryptionKey string

	SAML        SAMLConfig
	Smartschool OAuthConfig
	KlasCement  OAuthConfig
	Search      SearchConfig
}

// SessionConfig controls the session cookie and its backing store.
type SessionConfig struct {
	TTL          time.Duration
	CookieName   string
	CookieSecure bool
	Store        string
	BadgerPath   string
	MemoryLimit  int
}

// SAMLConfig describes the HetArchief service provider setup.
type SAMLConfig struct {
	IDPMetadataURL      string
	EntityID            string
	CertPath            string
	KeyPath             string
	RequiredEntitlement string
}

// OAuthConfig is shared by the school portal adapters. Issuer is only used
// by providers that support discovery.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	Issuer       string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
}

// SearchConfig points at the search backend and the credentials used to
// obtain its bearer tokens.
type SearchConfig struct {
	URL          string
	Index        string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Load reads configuration from environment variables with fallback defaults
func Load() (*Config, error) {
	var missing []string
	required := func(key string) string {
		value := os.Getenv(key)
		if value == "" {
			missing = append(missing, key)
		}
		return value
	}

	env := getEnv("ENV", EnvDevelopment)
	port := getEnv("PORT", "8080")

	cfg := &Config{
		Env:                env,
		Port:               port,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		ProxyURL:           strings.TrimSuffix(getEnv("PROXY_URL", "http://localhost:"+port), "/"),
		ClientURL:          strings.TrimSuffix(required("CLIENT_URL"), "/"),
		DatabasePath:       getEnv("DATABASE_PATH", "avoproxy.db"),
		GraphQLURL:         required("GRAPHQL_URL"),
		GraphQLSecret:      required("GRAPHQL_SECRET"),
		ProxyAPIKey:        required("PROXY_API_KEY"),
		StateSecret:        required("STATE_SECRET"),
		StampEncryptionKey: required("STAMP_ENCRYPTION_KEY"),
		Session: SessionConfig{
			TTL:          time.Duration(getEnvInt("SESSION_EXPIRY_HOURS", 4)) * time.Hour,
			CookieName:   getEnv("SESSION_COOKIE_NAME", "avo.sid"),
			CookieSecure: getEnvBool("COOKIE_SECURE", env != EnvDevelopment),
			Store:        getEnv("SESSION_STORE", SessionStoreMemory),
			BadgerPath:   getEnv("SESSION_BADGER_PATH", "./data/sessions"),
			MemoryLimit:  getEnvInt("SESSION_MEMORY_LIMIT", 100000),
		},
		SAML: SAMLConfig{
			IDPMetadataURL:      required("SAML_IDP_METADATA_URL"),
			EntityID:            required("SAML_SP_ENTITY_ID"),
			CertPath:            required("SAML_SP_CERT_PATH"),
			KeyPath:             required("SAML_SP_KEY_PATH"),
			RequiredEntitlement: getEnv("SAML_REQUIRED_ENTITLEMENT", "avo"),
		},
		Smartschool: OAuthConfig{
			ClientID:     required("SMARTSCHOOL_CLIENT_ID"),
			ClientSecret: required("SMARTSCHOOL_CLIENT_SECRET"),
			AuthURL:      getEnv("SMARTSCHOOL_AUTH_URL", "https://oauth.smartschool.be/OAuth"),
			TokenURL:     getEnv("SMARTSCHOOL_TOKEN_URL", "https://oauth.smartschool.be/OAuth/index/token"),
			UserInfoURL:  getEnv("SMARTSCHOOL_USERINFO_URL", "https://oauth.smartschool.be/Api/V1/userinfo"),
			Scopes:       []string{"userinfo"},
		},
		KlasCement: OAuthConfig{
			ClientID:     required("KLASCEMENT_CLIENT_ID"),
			ClientSecret: required("KLASCEMENT_CLIENT_SECRET"),
			Issuer:       required("KLASCEMENT_ISSUER"),
			Scopes:       strings.Fields(getEnv("KLASCEMENT_SCOPES", "openid profile email")),
		},
		Search: SearchConfig{
			URL:          strings.TrimSuffix(required("ELASTICSEARCH_URL"), "/"),
			Index:        getEnv("ELASTICSEARCH_INDEX", "avo_items"),
			TokenURL:     getEnv("SEARCH_TOKEN_URL", ""),
			ClientID:     getEnv("SEARCH_CLIENT_ID", ""),
			ClientSecret: getEnv("SEARCH_CLIENT_SECRET", ""),
		},
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Session.TTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_EXPIRY_HOURS must be positive"))
	}
	if c.Session.Store != SessionStoreMemory && c.Session.Store != SessionStoreBadger {
		errs = append(errs, fmt.Errorf("SESSION_STORE must be %q or %q, got %q", SessionStoreMemory, SessionStoreBadger, c.Session.Store))
	}
	if c.Search.TokenURL != "" && (c.Search.ClientID == "" || c.Search.ClientSecret == "") {
		errs = append(errs, fmt.Errorf("SEARCH_CLIENT_ID and SEARCH_CLIENT_SECRET are required when SEARCH_TOKEN_URL is set"))
	}
	return errors.Join(errs...)
}

// IsDevelopment reports whether the proxy runs in the local development environment.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}
