package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
)

var (
	ErrInvalidState = errors.New("invalid login state")
	ErrExpiredState = errors.New("login state has expired")
)

// Flow tells the callback what the round trip to the IdP was for.
type Flow string

const (
	FlowLogin Flow = "login"
	FlowLink  Flow = "link"
)

// StateTTL bounds the time a user may spend at the IdP.
const StateTTL = 15 * time.Minute

// State is carried through the IdP as RelayState (SAML) or state (OAuth).
// The SAML POST callback arrives without the session cookie, so everything
// the callback needs to validate the response travels here.
type State struct {
	Flow      Flow     `json:"flow"`
	IdpType   idp.Type `json:"idp"`
	ReturnTo  string   `json:"returnTo"`
	RequestID string   `json:"rid"`
	jwt.RegisteredClaims
}

// NewRequestID creates an id usable as a SAML AuthnRequest ID (an xs:ID, so
// it may not start with a digit).
func NewRequestID() string {
	return "id-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// StateSigner signs and verifies State tokens with HS256.
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{secret: []byte(secret), now: time.Now}
}

// SetClock replaces the time source, for tests.
func (s *StateSigner) SetClock(now func() time.Time) {
	s.now = now
}

// Sign creates a state token for one round trip to the IdP.
func (s *StateSigner) Sign(flow Flow, idpType idp.Type, returnTo, requestID string) (string, error) {
	now := s.now()
	claims := &State{
		Flow:      flow,
		IdpType:   idpType,
		ReturnTo:  returnTo,
		RequestID: requestID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(StateTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "avoproxy",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the signature and expiry of a state token.
func (s *StateSigner) Verify(tokenString string) (*State, error) {
	if tokenString == "" {
		return nil, ErrInvalidState
	}
	token, err := jwt.ParseWithClaims(tokenString, &State{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidState
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer("avoproxy"))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredState
		}
		return nil, ErrInvalidState
	}

	state, ok := token.Claims.(*State)
	if !ok || !token.Valid {
		return nil, ErrInvalidState
	}
	return state, nil
}

// StateFromRequest reads the state token from a SAML POST binding
// (RelayState) or an OAuth redirect (state).
func StateFromRequest(c *gin.Context) string {
	if v := c.PostForm("RelayState"); v != "" {
		return v
	}
	if v := c.Query("RelayState"); v != "" {
		return v
	}
	return c.Query("state")
}
