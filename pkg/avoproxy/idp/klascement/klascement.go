// Package klascement is the OpenID Connect adapter for the KlasCement portal.
package klascement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
)

// Config holds the client registration at the KlasCement issuer.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client
}

// Adapter implements idp.Adapter for KlasCement.
type Adapter struct {
	provider   *oidc.Provider
	config     oauth2.Config
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
}

// New runs discovery against the issuer. A failure is a startup failure.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	ctx, cancel := context.WithTimeout(oidc.ClientContext(ctx, client), 10*time.Second)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover klascement issuer: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &Adapter{
		provider: provider,
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		httpClient: client,
	}, nil
}

func (a *Adapter) Type() idp.Type {
	return idp.KlasCement
}

// BeginLogin binds the nonce to the state so the callback can check it without server side storage.
func (a *Adapter) BeginLogin(_ context.Context, state, _ string) (*idp.Redirect, error) {
	return &idp.Redirect{URL: a.config.AuthCodeURL(state, oidc.Nonce(nonceFor(state)))}, nil
}

// CompleteLogin exchanges the code, verifies the ID token when one is
// returned and reads the userinfo endpoint.
func (a *Adapter) CompleteLogin(ctx context.Context, r *http.Request, _ string) (*idp.Claim, error) {
	query := r.URL.Query()
	code := query.Get("code")
	if code == "" {
		if reason := query.Get("error"); reason != "" {
			return nil, fmt.Errorf("klascement denied login: %s %s", reason, query.Get("error_description"))
		}
		return nil, idp.ErrNoCallbackArtifact
	}

	ctx = oidc.ClientContext(ctx, a.httpClient)
	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange klascement code: %w", err)
	}

	var subject string
	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" {
		idToken, err := a.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("verify klascement id token: %w", err)
		}
		if idToken.Nonce != nonceFor(query.Get("state")) {
			return nil, fmt.Errorf("klascement id token nonce mismatch")
		}
		subject = idToken.Subject
	}

	userInfo, err := a.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, fmt.Errorf("fetch klascement userinfo: %w", err)
	}

	var info idp.KlasCementClaim
	if err := userInfo.Claims(&info); err != nil {
		return nil, fmt.Errorf("decode klascement userinfo: %w", err)
	}
	if subject != "" && info.Subject != subject {
		return nil, fmt.Errorf("klascement userinfo subject does not match id token")
	}

	claim := idp.NewKlasCementClaim(info)
	if err := claim.Validate(); err != nil {
		return nil, err
	}
	return claim, nil
}

// IsClaimValid has nothing to check beyond the session's own expiry.
func (a *Adapter) IsClaimValid(claim *idp.Claim, _ time.Time) bool {
	return claim != nil && claim.KlasCement != nil
}

// LogoutURL returns returnTo: KlasCement sessions are not ended from here.
func (a *Adapter) LogoutURL(_ *idp.Claim, returnTo string) (string, error) {
	return returnTo, nil
}

func nonceFor(state string) string {
	sum := sha256.Sum256([]byte("klascement-nonce:" + state))
	return hex.EncodeToString(sum[:16])
}
