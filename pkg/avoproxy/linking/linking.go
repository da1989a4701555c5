// Package linking attaches a second IdP identity to the logged in user, or
// detaches one. An identity reaches at most one user: linking an identity
// that already belongs to someone else is rejected, never overwritten.
package linking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mikepea/avoproxy/pkg/avoproxy/idp"
	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
	"github.com/mikepea/avoproxy/pkg/avoproxy/session"
	"github.com/mikepea/avoproxy/pkg/avoproxy/users"
)

var (
	ErrNotLoggedIn   = errors.New("link requires a logged in session")
	ErrNoPendingLink = errors.New("no pending account link")
	ErrActiveIdp     = errors.New("cannot unlink the identity provider of the current login")
	ErrNotLinked     = errors.New("identity provider is not linked to this account")
)

// Outcome is the final state of a link attempt.
type Outcome string

const (
	OutcomeLinked   Outcome = "linked"
	OutcomeRejected Outcome = "rejected"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonConflict             Reason = "conflict"
	ReasonIdpTypeAlreadyLinked Reason = "idp-type-already-linked"
)

// Result of Complete.
type Result struct {
	Outcome Outcome
	Reason  Reason
	IdpType idp.Type
}

// Workflow runs link and unlink against the database and the session.
type Workflow struct {
	db    *gorm.DB
	users *users.Resolver
}

func NewWorkflow(db *gorm.DB, resolver *users.Resolver) *Workflow {
	return &Workflow{db: db, users: resolver}
}

// Stage stores claim as the pending link of a logged in session. It does
// not touch IdpClaims, so the active identity stays as it is.
func (w *Workflow) Stage(s *session.Session, claim *idp.Claim, returnTo string, now time.Time) error {
	if !s.IsLoggedIn(now) {
		return ErrNotLoggedIn
	}
	if err := claim.Validate(); err != nil {
		return err
	}
	s.PendingLink = &session.PendingLink{IdpType: claim.Type, Claim: claim, ReturnToURL: returnTo}
	return nil
}

// Complete resolves the pending link. The pending state is discarded
// whatever the outcome.
func (w *Workflow) Complete(ctx context.Context, s *session.Session, now time.Time) (Result, error) {
	user := s.User(now)
	if user == nil {
		return Result{}, ErrNotLoggedIn
	}
	pending := s.Pending(now)
	if pending == nil {
		return Result{}, ErrNoPendingLink
	}
	s.PendingLink = nil

	claim := pending.Claim
	result := Result{IdpType: claim.Type}

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reason, err := w.link(tx, user.ID, claim)
		if err != nil {
			return err
		}
		if reason != "" {
			result.Outcome = OutcomeRejected
			result.Reason = reason
			return nil
		}
		result.Outcome = OutcomeLinked
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	logEvent := log.Info().
		Uint("user_id", user.ID).
		Str("idp", string(claim.Type)).
		Str("outcome", string(result.Outcome))
	if result.Reason != "" {
		logEvent = logEvent.Str("reason", string(result.Reason))
	}
	logEvent.Msg("account link completed")

	if result.Outcome != OutcomeLinked {
		return result, nil
	}

	if s.IdpClaims == nil {
		s.IdpClaims = map[idp.Type]*idp.Claim{}
	}
	s.IdpClaims[claim.Type] = claim
	if err := w.refreshUser(ctx, s); err != nil {
		return Result{}, err
	}
	return result, nil
}

// link returns a rejection reason, or "" when the identity is now linked to userID.
func (w *Workflow) link(tx *gorm.DB, userID uint, claim *idp.Claim) (Reason, error) {
	var existing models.IdpLink
	err := tx.Where(&models.IdpLink{IdpType: claim.Type, ExternalID: claim.ExternalID()}).First(&existing).Error
	switch {
	case err == nil:
		if existing.UserID != userID {
			return ReasonConflict, nil
		}
		return "", nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return "", fmt.Errorf("look up idp link: %w", err)
	}

	var sameType int64
	if err := tx.Model(&models.IdpLink{}).
		Where(&models.IdpLink{UserID: userID, IdpType: claim.Type}).
		Count(&sameType).Error; err != nil {
		return "", fmt.Errorf("count idp links: %w", err)
	}
	if sameType > 0 {
		return ReasonIdpTypeAlreadyLinked, nil
	}

	link := models.IdpLink{UserID: userID, IdpType: claim.Type, ExternalID: claim.ExternalID()}
	if err := tx.Create(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ReasonConflict, nil
		}
		return "", fmt.Errorf("create idp link: %w", err)
	}
	return "", nil
}

// Unlink deletes the caller's link to idpType. User fields stay as they are.
func (w *Workflow) Unlink(ctx context.Context, s *session.Session, idpType idp.Type, now time.Time) error {
	user := s.User(now)
	if user == nil {
		return ErrNotLoggedIn
	}
	if idpType == s.ActiveIdpType {
		return ErrActiveIdp
	}

	res := w.db.WithContext(ctx).
		Where("user_id = ? AND idp_type = ?", user.ID, idpType).
		Delete(&models.IdpLink{})
	if res.Error != nil {
		return fmt.Errorf("delete idp link: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotLinked
	}

	delete(s.IdpClaims, idpType)
	log.Info().Uint("user_id", user.ID).Str("idp", string(idpType)).Msg("account unlinked")
	return w.refreshUser(ctx, s)
}

func (w *Workflow) refreshUser(ctx context.Context, s *session.Session) error {
	user, err := w.users.LoadUser(ctx, s.LocalUser.ID)
	if err != nil {
		return err
	}
	s.LocalUser = user
	return nil
}
