package idp

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Type identifies an external identity provider.
type Type string

const (
	HetArchief  Type = "HETARCHIEF"
	Smartschool Type = "SMARTSCHOOL"
	KlasCement  Type = "KLASCEMENT"
)

// AllTypes lists every supported identity provider.
var AllTypes = []Type{HetArchief, Smartschool, KlasCement}

// ParseType accepts the upper case name or the lower case url segment.
func ParseType(value string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(value)))
	if slices.Contains(AllTypes, t) {
		return t, nil
	}
	return "", fmt.Errorf("unknown identity provider %q", value)
}

// Slug is the url segment used in /auth/<idp>/... routes.
func (t Type) Slug() string {
	return strings.ToLower(string(t))
}

// HetArchiefClaim is what the institutional SAML IdP asserts about a user.
type HetArchiefClaim struct {
	NameID              string               `json:"nameId"`
	SessionIndex        string               `json:"sessionIndex,omitempty"`
	SessionNotOnOrAfter time.Time            `json:"sessionNotOnOrAfter"`
	Attributes          HetArchiefAttributes `json:"attributes"`
}

// HetArchiefAttributes is the attribute statement of the assertion.
type HetArchiefAttributes struct {
	Mail           string   `json:"mail"`
	GivenName      string   `json:"givenName"`
	Surname        string   `json:"surname"`
	DisplayName    string   `json:"displayName,omitempty"`
	OrganizationID string   `json:"organizationId,omitempty"`
	UnitID         string   `json:"unitId,omitempty"`
	Roles          []string `json:"roles,omitempty"`
	Apps           []string `json:"apps,omitempty"`
	StampNumber    string   `json:"stampNumber,omitempty"`
}

// SmartschoolClaim is the Smartschool userinfo response.
type SmartschoolClaim struct {
	UserID   string `json:"userID"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
	BaseRole string `json:"basisrol"`
	Platform string `json:"platform"`
	Username string `json:"username"`
}

// SmartschoolPupilRole is the base role that never gets access.
const SmartschoolPupilRole = "leerling"

// KlasCementClaim is the KlasCement userinfo response.
type KlasCementClaim struct {
	Subject    string `json:"sub"`
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// KlasCementRole is the IdP role every KlasCement user is mapped to.
const KlasCementRole = "leerkracht"

// Claim is the identity a provider asserted, exactly one variant is set and
// it matches Type.
type Claim struct {
	Type        Type              `json:"type"`
	HetArchief  *HetArchiefClaim  `json:"hetArchief,omitempty"`
	Smartschool *SmartschoolClaim `json:"smartschool,omitempty"`
	KlasCement  *KlasCementClaim  `json:"klasCement,omitempty"`
}

func NewHetArchiefClaim(c HetArchiefClaim) *Claim {
	return &Claim{Type: HetArchief, HetArchief: &c}
}

func NewSmartschoolClaim(c SmartschoolClaim) *Claim {
	return &Claim{Type: Smartschool, Smartschool: &c}
}

func NewKlasCementClaim(c KlasCementClaim) *Claim {
	return &Claim{Type: KlasCement, KlasCement: &c}
}

// Validate checks that the variant matches the type.
func (c *Claim) Validate() error {
	if c == nil {
		return fmt.Errorf("claim is nil")
	}
	ok := false
	switch c.Type {
	case HetArchief:
		ok = c.HetArchief != nil
	case Smartschool:
		ok = c.Smartschool != nil
	case KlasCement:
		ok = c.KlasCement != nil
	}
	if !ok {
		return fmt.Errorf("claim of type %q has no matching payload", c.Type)
	}
	if c.ExternalID() == "" {
		return fmt.Errorf("claim of type %q has no external id", c.Type)
	}
	return nil
}

// ExternalID is the provider side identifier of the user.
func (c *Claim) ExternalID() string {
	switch {
	case c.HetArchief != nil:
		return c.HetArchief.NameID
	case c.Smartschool != nil:
		return c.Smartschool.UserID
	case c.KlasCement != nil:
		return c.KlasCement.Subject
	}
	return ""
}

func (c *Claim) Email() string {
	switch {
	case c.HetArchief != nil:
		return c.HetArchief.Attributes.Mail
	case c.Smartschool != nil:
		return c.Smartschool.Email
	case c.KlasCement != nil:
		return c.KlasCement.Email
	}
	return ""
}

func (c *Claim) FirstName() string {
	switch {
	case c.HetArchief != nil:
		return c.HetArchief.Attributes.GivenName
	case c.Smartschool != nil:
		return c.Smartschool.Name
	case c.KlasCement != nil:
		return c.KlasCement.GivenName
	}
	return ""
}

func (c *Claim) LastName() string {
	switch {
	case c.HetArchief != nil:
		return c.HetArchief.Attributes.Surname
	case c.Smartschool != nil:
		return c.Smartschool.Surname
	case c.KlasCement != nil:
		return c.KlasCement.FamilyName
	}
	return ""
}

// Roles are matched against PermissionGroup.IdpRole.
func (c *Claim) Roles() []string {
	switch {
	case c.HetArchief != nil:
		return c.HetArchief.Attributes.Roles
	case c.Smartschool != nil:
		if c.Smartschool.BaseRole == "" {
			return nil
		}
		return []string{c.Smartschool.BaseRole}
	case c.KlasCement != nil:
		return []string{KlasCementRole}
	}
	return nil
}

// HasEntitlement reports whether the user may use the platform at all.
// Only the institutional IdP carries an explicit entitlement list.
func (c *Claim) HasEntitlement(required string) bool {
	switch {
	case c.HetArchief != nil:
		return slices.Contains(c.HetArchief.Attributes.Apps, required)
	case c.Smartschool != nil:
		return c.Smartschool.BaseRole != "" && c.Smartschool.BaseRole != SmartschoolPupilRole
	case c.KlasCement != nil:
		return true
	}
	return false
}
