// Package smartschool is the OAuth2 adapter for the Smartschool portal.
package smartschool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
)

// Config holds the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string
	// HTTPClient is used for the token exchange and the userinfo call.
	HTTPClient *http.Client
}

// Adapter implements idp.Adapter for Smartschool.
type Adapter struct {
	config      oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// New creates the adapter. There is nothing to fetch at startup; missing
// credentials are caught by the configuration loader.
func New(cfg Config) *Adapter {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Adapter{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		userInfoURL: cfg.UserInfoURL,
		httpClient:  client,
	}
}

func (a *Adapter) Type() idp.Type {
	return idp.Smartschool
}

func (a *Adapter) BeginLogin(_ context.Context, state, _ string) (*idp.Redirect, error) {
	return &idp.Redirect{URL: a.config.AuthCodeURL(state)}, nil
}

// CompleteLogin exchanges the authorization code and reads the userinfo endpoint.
func (a *Adapter) CompleteLogin(ctx context.Context, r *http.Request, _ string) (*idp.Claim, error) {
	query := r.URL.Query()
	code := query.Get("code")
	if code == "" {
		if reason := query.Get("error"); reason != "" {
			return nil, fmt.Errorf("smartschool denied login: %s %s", reason, query.Get("error_description"))
		}
		return nil, idp.ErrNoCallbackArtifact
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange smartschool code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	resp, err := a.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch smartschool userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch smartschool userinfo: status %d", resp.StatusCode)
	}

	var info idp.SmartschoolClaim
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode smartschool userinfo: %w", err)
	}
	claim := idp.NewSmartschoolClaim(info)
	if err := claim.Validate(); err != nil {
		return nil, err
	}
	return claim, nil
}

// IsClaimValid has nothing to check beyond the session's own expiry.
func (a *Adapter) IsClaimValid(claim *idp.Claim, _ time.Time) bool {
	return claim != nil && claim.Smartschool != nil
}

// LogoutURL returns returnTo: Smartschool sessions are not ended from here.
func (a *Adapter) LogoutURL(_ *idp.Claim, returnTo string) (string, error) {
	return returnTo, nil
}
