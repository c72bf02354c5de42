package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"standings/internal/config"
	"standings/internal/models"
	"standings/internal/repository"
)

// Eligibility is the result of checking a synced character. Cause classifies the first failure
// and becomes the reason of an automatic revocation.
type Eligibility struct {
	Eligible bool                    `json:"eligible"`
	Reasons  []string                `json:"reasons,omitempty"`
	Cause    models.RevocationReason `json:"cause,omitempty"`
}

func (e *Eligibility) fail(cause models.RevocationReason, reason string) {
	if len(e.Reasons) == 0 {
		e.Cause = cause
	}
	e.Reasons = append(e.Reasons, reason)
}

// Summary joins the reasons into one line.
func (e Eligibility) Summary() string {
	return strings.Join(e.Reasons, "; ")
}

// EligibilityRule is an extra deployment-defined check. It returns a non-empty reason when the
// owner no longer qualifies.
type EligibilityRule func(ctx context.Context, owner *models.User, sc *models.SyncedCharacter) (string, error)

// Validator decides whether users and synced characters satisfy the permission, ownership and
// token requirements.
type Validator struct {
	users      repository.UserRepository
	characters repository.CharacterRepository
	tokens     repository.TokenRepository
	settings   config.Settings
	rules      []EligibilityRule
	now        func() time.Time
}

// NewValidator returns a Validator reading from repos.
func NewValidator(repos *repository.Repositories, settings config.Settings, rules ...EligibilityRule) *Validator {
	return &Validator{
		users:      repos.Users,
		characters: repos.Characters,
		tokens:     repos.Tokens,
		settings:   settings,
		rules:      rules,
		now:        time.Now,
	}
}

// RequiredScopes returns the scopes a token of user must carry.
func (v *Validator) RequiredScopes(user *models.User) []string {
	return v.settings.RequiredScopes(user.State)
}

// IsEligible checks the owner's permission, character ownership, token scopes and any extra
// rules. All failures are collected; only repository errors are returned as errors.
func (v *Validator) IsEligible(ctx context.Context, sc *models.SyncedCharacter) (Eligibility, error) {
	var e Eligibility

	owner, err := v.users.GetByID(ctx, sc.UserID)
	if err != nil {
		if models.HasCode(err, models.CodeNotFound) {
			e.fail(models.RevocationReasonLostPermission, "owner account no longer exists")
			return e, nil
		}
		return e, err
	}

	ok, err := v.users.HasPermission(ctx, owner.ID, models.PermAddSyncedCharacter)
	if err != nil {
		return e, err
	}
	if !ok {
		e.fail(models.RevocationReasonLostPermission, "owner no longer has permission to sync characters")
	}

	char, err := v.characters.GetByID(ctx, sc.CharacterID)
	switch {
	case models.HasCode(err, models.CodeNotFound):
		e.fail(models.RevocationReasonLostPermission, fmt.Sprintf("character %d is no longer known", sc.CharacterID))
	case err != nil:
		return e, err
	case char.UserID != owner.ID:
		e.fail(models.RevocationReasonLostPermission, fmt.Sprintf("character %s is no longer owned by %s", char.Name, owner.Username))
	}

	problem, err := v.tokenProblem(ctx, owner, sc.CharacterID)
	if err != nil {
		return e, err
	}
	if problem != "" {
		e.fail(models.RevocationReasonMissingToken, problem)
	}

	for _, rule := range v.rules {
		reason, err := rule(ctx, owner, sc)
		if err != nil {
			return e, err
		}
		if reason != "" {
			e.fail(models.RevocationReasonOther, reason)
		}
	}

	e.Eligible = len(e.Reasons) == 0
	return e, nil
}

// tokenProblem returns why characterID has no usable token for owner, or "".
func (v *Validator) tokenProblem(ctx context.Context, owner *models.User, characterID int64) (string, error) {
	tok, err := v.tokens.Current(ctx, characterID, v.now())
	if err != nil {
		if models.HasCode(err, models.CodeNotFound) {
			return "no valid token", nil
		}
		return "", err
	}
	if tok.UserID != owner.ID {
		return "token belongs to another user", nil
	}
	if missing := tok.MissingScopes(v.RequiredScopes(owner)); len(missing) > 0 {
		return "token is missing scopes: " + strings.Join(missing, ", "), nil
	}
	return "", nil
}

// CanRequest reports whether userID may request a standing for ref. Characters must be owned with
// a complete token; corporations and alliances require access for every owned member character.
func (v *Validator) CanRequest(ctx context.Context, userID uint, ref models.EntityRef) error {
	user, err := v.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := v.users.HasPermission(ctx, user.ID, models.PermAddSyncedCharacter)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewForbiddenError("You do not have permission to request standings")
	}

	switch ref.Type {
	case models.EntityTypeCharacter:
		char, err := v.characters.GetByID(ctx, ref.ID)
		if models.HasCode(err, models.CodeNotFound) || (err == nil && char.UserID != user.ID) {
			return models.NewForbiddenError("You can only request standings for your own characters")
		}
		if err != nil {
			return err
		}
		problem, err := v.tokenProblem(ctx, user, char.CharacterID)
		if err != nil {
			return err
		}
		if problem != "" {
			return models.NewValidationError(fmt.Sprintf("Character %s is missing required access: %s", char.Name, problem))
		}
		return nil

	case models.EntityTypeCorporation:
		chars, err := v.characters.ListByUserAndCorporation(ctx, user.ID, ref.ID)
		if err != nil {
			return err
		}
		return v.checkMembers(ctx, user, ref, chars)

	case models.EntityTypeAlliance:
		chars, err := v.characters.ListByUserAndAlliance(ctx, user.ID, ref.ID)
		if err != nil {
			return err
		}
		return v.checkMembers(ctx, user, ref, chars)
	}
	return models.NewValidationError(fmt.Sprintf("unknown entity type %q", ref.Type))
}

func (v *Validator) checkMembers(ctx context.Context, user *models.User, ref models.EntityRef, chars []models.Character) error {
	if len(chars) == 0 {
		return models.NewValidationError(fmt.Sprintf("You have no characters in %s %d", ref.Type, ref.ID))
	}
	var missing []string
	for _, c := range chars {
		problem, err := v.tokenProblem(ctx, user, c.CharacterID)
		if err != nil {
			return err
		}
		if problem != "" {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) > 0 {
		return models.NewValidationError(fmt.Sprintf(
			"You must have valid tokens for ALL your characters in %s %d. Missing: %s",
			ref.Type, ref.ID, strings.Join(missing, ", ")))
	}
	return nil
}
