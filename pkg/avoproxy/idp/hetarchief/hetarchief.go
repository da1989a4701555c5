// Package hetarchief is the SAML adapter for the institutional IdP.
package hetarchief

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/crewjam/saml"
	"github.com/crewjam/saml/samlsp"
	"github.com/rs/zerolog/log"

	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
)

// Attribute names in the assertion's attribute statement.
const (
	AttrMail           = "mail"
	AttrGivenName      = "givenName"
	AttrSurname        = "sn"
	AttrDisplayName    = "displayName"
	AttrOrganizationID = "o"
	AttrUnitID         = "ou"
	AttrRole           = "edu_role"
	AttrApps           = "apps"
	AttrStampNumber    = "stamboek"
)

// Config holds the service provider setup.
type Config struct {
	EntityID string
	// AcsURL receives the POSTed SAML response.
	AcsURL string
	// SloURL receives the logout response; optional.
	SloURL         string
	MetadataURL    string
	CertPath       string
	KeyPath        string
	Entitlement    string
	MetadataClient *http.Client
}

// Adapter implements idp.Adapter on top of a crewjam/saml service provider.
type Adapter struct {
	sp          *saml.ServiceProvider
	entitlement string
}

// New loads the SP key pair and fetches the IdP metadata. Any failure here
// is a startup failure.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	keyPair, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load SAML key pair: %w", err)
	}
	cert, err := x509.ParseCertificate(keyPair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse SAML certificate: %w", err)
	}
	key, ok := keyPair.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("SAML private key must be RSA")
	}

	client := cfg.MetadataClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	metadata, err := FetchMetadata(ctx, client, cfg.MetadataURL)
	if err != nil {
		return nil, err
	}

	sp, err := NewServiceProvider(cfg, cert, key, metadata)
	if err != nil {
		return nil, err
	}
	return NewWithServiceProvider(sp, cfg.Entitlement), nil
}

// NewServiceProvider assembles the service provider from parsed parts.
func NewServiceProvider(cfg Config, cert *x509.Certificate, key *rsa.PrivateKey, metadata *saml.EntityDescriptor) (*saml.ServiceProvider, error) {
	acsURL, err := url.Parse(cfg.AcsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ACS URL %q: %w", cfg.AcsURL, err)
	}
	sp := &saml.ServiceProvider{
		EntityID:          cfg.EntityID,
		AcsURL:            *acsURL,
		Certificate:       cert,
		Key:               key,
		IDPMetadata:       metadata,
		AuthnNameIDFormat: saml.UnspecifiedNameIDFormat,
	}
	if cfg.SloURL != "" {
		sloURL, err := url.Parse(cfg.SloURL)
		if err != nil {
			return nil, fmt.Errorf("invalid SLO URL %q: %w", cfg.SloURL, err)
		}
		sp.SloURL = *sloURL
	}
	return sp, nil
}

// NewWithServiceProvider wraps an already configured service provider.
func NewWithServiceProvider(sp *saml.ServiceProvider, entitlement string) *Adapter {
	return &Adapter{sp: sp, entitlement: entitlement}
}

// FetchMetadata downloads and parses the IdP metadata document.
func FetchMetadata(ctx context.Context, client *http.Client, metadataURL string) (*saml.EntityDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch IdP metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch IdP metadata: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read IdP metadata: %w", err)
	}
	metadata, err := samlsp.ParseMetadata(body)
	if err != nil {
		return nil, fmt.Errorf("parse IdP metadata: %w", err)
	}
	return metadata, nil
}

func (a *Adapter) Type() idp.Type {
	return idp.HetArchief
}

// BeginLogin builds a redirect-binding AuthnRequest asking for a POST response.
// requestID becomes the AuthnRequest ID, which the response must echo in InResponseTo.
func (a *Adapter) BeginLogin(_ context.Context, state, requestID string) (*idp.Redirect, error) {
	if requestID == "" {
		return nil, errors.New("SAML login needs a request id")
	}
	location := a.sp.GetSSOBindingLocation(saml.HTTPRedirectBinding)
	if location == "" {
		return nil, errors.New("IdP metadata has no redirect binding SSO location")
	}
	req, err := a.sp.MakeAuthenticationRequest(location, saml.HTTPRedirectBinding, saml.HTTPPostBinding)
	if err != nil {
		return nil, fmt.Errorf("create AuthnRequest: %w", err)
	}
	req.ID = requestID
	redirectURL, err := req.Redirect(state, a.sp)
	if err != nil {
		return nil, fmt.Errorf("create AuthnRequest redirect: %w", err)
	}
	return &idp.Redirect{URL: redirectURL.String()}, nil
}

// CompleteLogin validates the POSTed response. requestID is the AuthnRequest
// id carried in the relay state; an empty id only matches IdP initiated
// responses, which the service provider rejects.
func (a *Adapter) CompleteLogin(_ context.Context, r *http.Request, requestID string) (*idp.Claim, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse SAML callback: %w", err)
	}
	if r.PostForm.Get("SAMLResponse") == "" {
		return nil, idp.ErrNoCallbackArtifact
	}

	var possibleIDs []string
	if requestID != "" {
		possibleIDs = []string{requestID}
	}
	assertion, err := a.sp.ParseResponse(r, possibleIDs)
	if err != nil {
		var invalid *saml.InvalidResponseError
		if errors.As(err, &invalid) {
			log.Warn().Err(invalid.PrivateErr).Msg("SAML response rejected")
		}
		return nil, fmt.Errorf("validate SAML response: %w", err)
	}
	return ClaimFromAssertion(assertion)
}

// IsClaimValid checks the IdP session lifetime and the platform entitlement.
func (a *Adapter) IsClaimValid(claim *idp.Claim, now time.Time) bool {
	if claim == nil || claim.HetArchief == nil {
		return false
	}
	return now.Before(claim.HetArchief.SessionNotOnOrAfter) && claim.HasEntitlement(a.entitlement)
}

// LogoutURL uses the IdP single logout endpoint when the metadata has one.
// The IdP sends the browser back to the SP logout callback with returnTo as relay state.
func (a *Adapter) LogoutURL(claim *idp.Claim, returnTo string) (string, error) {
	if claim == nil || claim.HetArchief == nil {
		return returnTo, nil
	}
	if a.sp.GetSLOBindingLocation(saml.HTTPRedirectBinding) == "" {
		return returnTo, nil
	}
	u, err := a.sp.MakeRedirectLogoutRequest(claim.HetArchief.NameID, returnTo)
	if err != nil {
		return "", fmt.Errorf("create LogoutRequest: %w", err)
	}
	return u.String(), nil
}

// Metadata returns the service provider metadata document.
func (a *Adapter) Metadata() ([]byte, error) {
	data, err := xml.MarshalIndent(a.sp.Metadata(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal SP metadata: %w", err)
	}
	return data, nil
}

// ClaimFromAssertion maps a validated assertion onto the typed claim.
func ClaimFromAssertion(assertion *saml.Assertion) (*idp.Claim, error) {
	if assertion == nil || assertion.Subject == nil || assertion.Subject.NameID == nil || assertion.Subject.NameID.Value == "" {
		return nil, errors.New("assertion has no NameID")
	}

	attrs := map[string][]string{}
	for _, statement := range assertion.AttributeStatements {
		for _, attr := range statement.Attributes {
			for _, v := range attr.Values {
				attrs[attr.Name] = append(attrs[attr.Name], v.Value)
				if attr.FriendlyName != "" && attr.FriendlyName != attr.Name {
					attrs[attr.FriendlyName] = append(attrs[attr.FriendlyName], v.Value)
				}
			}
		}
	}
	first := func(name string) string {
		if values := attrs[name]; len(values) > 0 {
			return values[0]
		}
		return ""
	}

	claim := idp.HetArchiefClaim{
		NameID: assertion.Subject.NameID.Value,
		Attributes: idp.HetArchiefAttributes{
			Mail:           first(AttrMail),
			GivenName:      first(AttrGivenName),
			Surname:        first(AttrSurname),
			DisplayName:    first(AttrDisplayName),
			OrganizationID: first(AttrOrganizationID),
			UnitID:         first(AttrUnitID),
			Roles:          attrs[AttrRole],
			Apps:           attrs[AttrApps],
			StampNumber:    first(AttrStampNumber),
		},
	}

	for _, statement := range assertion.AuthnStatements {
		claim.SessionIndex = statement.SessionIndex
		if statement.SessionNotOnOrAfter != nil {
			claim.SessionNotOnOrAfter = *statement.SessionNotOnOrAfter
			break
		}
	}
	if claim.SessionNotOnOrAfter.IsZero() && assertion.Conditions != nil {
		claim.SessionNotOnOrAfter = assertion.Conditions.NotOnOrAfter
	}
	if claim.SessionNotOnOrAfter.IsZero() {
		return nil, errors.New("assertion has no session lifetime")
	}

	return idp.NewHetArchiefClaim(claim), nil
}
