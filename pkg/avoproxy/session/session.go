// Package session holds the per-browser login state: which IdP is active,
// the claims each IdP asserted, the resolved local user and a pending
// account link. Every accessor re-checks expiry and never writes.
package session

import (
	"time"

	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
)

// Session is the state stored under the session cookie id.
type Session struct {
	ID            string                  `json:"id"`
	ActiveIdpType idp.Type                `json:"activeIdpType,omitempty"`
	IdpClaims     map[idp.Type]*idp.Claim `json:"idpClaims,omitempty"`
	LocalUser     *models.User            `json:"localUser,omitempty"`
	PendingLink   *PendingLink            `json:"pendingLink,omitempty"`
	ExpiresAt     time.Time               `json:"expiresAt"`
}

// PendingLink is a second identity waiting to be attached to the logged in user.
type PendingLink struct {
	IdpType     idp.Type   `json:"idpType"`
	Claim       *idp.Claim `json:"claim"`
	ReturnToURL string     `json:"returnToUrl,omitempty"`
}

// IsExpired reports whether now is at or past the expiry.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsLoggedIn reports whether the session carries a live login.
func (s *Session) IsLoggedIn(now time.Time) bool {
	return s.ActiveIdpType != "" && s.LocalUser != nil && !s.IsExpired(now)
}

// User returns the local user, or nil when not logged in.
func (s *Session) User(now time.Time) *models.User {
	if !s.IsLoggedIn(now) {
		return nil
	}
	return s.LocalUser
}

// Claim returns the stored claim of t, or nil when absent or expired.
func (s *Session) Claim(t idp.Type, now time.Time) *idp.Claim {
	if s.IsExpired(now) {
		return nil
	}
	return s.IdpClaims[t]
}

// ActiveClaim returns the claim of the active IdP, or nil when not logged in.
func (s *Session) ActiveClaim(now time.Time) *idp.Claim {
	if !s.IsLoggedIn(now) {
		return nil
	}
	return s.IdpClaims[s.ActiveIdpType]
}

// Pending returns the pending link, or nil when absent or expired.
func (s *Session) Pending(now time.Time) *PendingLink {
	if s.IsExpired(now) {
		return nil
	}
	return s.PendingLink
}

// Login records a completed login. Claims left over from an expired
// session are dropped so they cannot come back to life with the new expiry.
func (s *Session) Login(claim *idp.Claim, user *models.User, expiresAt, now time.Time) {
	if s.IsExpired(now) || s.IdpClaims == nil {
		s.IdpClaims = map[idp.Type]*idp.Claim{}
		s.PendingLink = nil
	}
	s.ActiveIdpType = claim.Type
	s.IdpClaims[claim.Type] = claim
	s.LocalUser = user
	s.ExpiresAt = expiresAt
}

// Logout ends the login of t. Logging out of the active IdP logs the session out.
func (s *Session) Logout(t idp.Type) {
	delete(s.IdpClaims, t)
	if s.ActiveIdpType == t {
		s.ActiveIdpType = ""
		s.LocalUser = nil
		s.PendingLink = nil
	}
}

// Clear forgets every login.
func (s *Session) Clear() {
	s.ActiveIdpType = ""
	s.IdpClaims = map[idp.Type]*idp.Claim{}
	s.LocalUser = nil
	s.PendingLink = nil
}
