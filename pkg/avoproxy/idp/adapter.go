// Package idp defines the identity provider adapters: one per external
// login system, each turning a callback artifact into a typed Claim.
package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNoCallbackArtifact is returned when the callback carries neither a
// SAML response nor an authorization code.
var ErrNoCallbackArtifact = errors.New("callback request carries no login artifact")

// Redirect is where the browser goes to start a login.
type Redirect struct {
	URL string
}

// Adapter is implemented by every identity provider integration.
type Adapter interface {
	Type() Type
	// BeginLogin builds the provider redirect; state comes back untouched on
	// the callback. Providers that correlate the response with the request
	// (SAML) use requestID as the request id, the others ignore it.
	BeginLogin(ctx context.Context, state, requestID string) (*Redirect, error)
	// CompleteLogin exchanges the callback artifact for the user's claim.
	// requestID is the one given to BeginLogin for this round trip.
	CompleteLogin(ctx context.Context, r *http.Request, requestID string) (*Claim, error)
	// IsClaimValid reports whether a stored claim still counts as logged in.
	IsClaimValid(claim *Claim, now time.Time) bool
	// LogoutURL is where the browser goes to end the provider session.
	LogoutURL(claim *Claim, returnTo string) (string, error)
}

// Registry holds the adapters built at startup. It is read-only afterwards.
type Registry struct {
	adapters map[Type]Adapter
}

// NewRegistry indexes adapters by type.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[Type]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, dup := r.adapters[a.Type()]; dup {
			return nil, fmt.Errorf("duplicate identity provider adapter %s", a.Type())
		}
		r.adapters[a.Type()] = a
	}
	return r, nil
}

// Get returns the adapter for t.
func (r *Registry) Get(t Type) (Adapter, bool) {
	a, ok := r.adapters[t]
	return a, ok
}

// IsClaimValid delegates to the adapter of the claim's type; claims of
// unknown providers are never valid.
func (r *Registry) IsClaimValid(claim *Claim, now time.Time) bool {
	if claim == nil {
		return false
	}
	a, ok := r.adapters[claim.Type]
	if !ok {
		return false
	}
	return a.IsClaimValid(claim, now)
}
