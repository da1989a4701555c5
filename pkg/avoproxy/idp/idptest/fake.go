// Package idptest provides a scripted identity provider adapter for tests.
package idptest

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
)

// Adapter is an idp.Adapter whose login outcome is set by the test.
type Adapter struct {
	Kind idp.Type
	// Claim and Err are returned by CompleteLogin.
	Claim *idp.Claim
	Err   error
	// Valid overrides IsClaimValid, which accepts every claim of Kind when nil.
	Valid func(claim *idp.Claim, now time.Time) bool
	// ProviderLogoutURL, when set, is where LogoutURL sends the browser.
	ProviderLogoutURL string

	LastState string
	// LastBeginRequestID and LastRequestID are the ids given to BeginLogin and CompleteLogin.
	LastBeginRequestID string
	LastRequestID      string
}

func New(kind idp.Type, claim *idp.Claim) *Adapter {
	return &Adapter{Kind: kind, Claim: claim}
}

func (a *Adapter) Type() idp.Type { return a.Kind }

func (a *Adapter) BeginLogin(_ context.Context, state, requestID string) (*idp.Redirect, error) {
	a.LastState = state
	a.LastBeginRequestID = requestID
	q := url.Values{}
	q.Set("state", state)
	return &idp.Redirect{URL: "https://" + a.Kind.Slug() + ".idp.test/authorize?" + q.Encode()}, nil
}

func (a *Adapter) CompleteLogin(_ context.Context, r *http.Request, requestID string) (*idp.Claim, error) {
	a.LastRequestID = requestID
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	if r.Form.Get("code") == "" && r.Form.Get("SAMLResponse") == "" {
		return nil, idp.ErrNoCallbackArtifact
	}
	if a.Err != nil {
		return nil, a.Err
	}
	return a.Claim, nil
}

func (a *Adapter) IsClaimValid(claim *idp.Claim, now time.Time) bool {
	if claim == nil || claim.Type != a.Kind {
		return false
	}
	if a.Valid != nil {
		return a.Valid(claim, now)
	}
	return true
}

func (a *Adapter) LogoutURL(_ *idp.Claim, returnTo string) (string, error) {
	if a.ProviderLogoutURL == "" {
		return returnTo, nil
	}
	q := url.Values{}
	q.Set("returnTo", returnTo)
	return a.ProviderLogoutURL + "?" + q.Encode(), nil
}
