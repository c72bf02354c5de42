package service

import (
	"context"
	"testing"

	"standings/internal/config"
	"standings/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_IsEligible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.member(t, "alice")

	sc := f.enroll(t, owner, 9001, "Alice Prime")
	elig, err := f.validator.IsEligible(ctx, sc)
	require.NoError(t, err)
	assert.True(t, elig.Eligible)
	assert.Empty(t, elig.Reasons)
}

func TestValidator_IsEligibleCollectsEveryReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "bob")
	f.character(t, owner, 9002, 1000, "Bob Alt")
	sc := &models.SyncedCharacter{UserID: owner.ID, CharacterID: 9002, Active: true}

	elig, err := f.validator.IsEligible(ctx, sc)
	require.NoError(t, err)
	assert.False(t, elig.Eligible)
	assert.Equal(t, models.RevocationReasonLostPermission, elig.Cause)
	require.Len(t, elig.Reasons, 2)
	assert.Contains(t, elig.Summary(), "no valid token")
}

func TestValidator_MissingScopes(t *testing.T) {
	f := newFixture(t, func(s *config.Settings) {
		*s = s.WithScopeRequirements(map[string][]string{"member": {"esi-wallet.read_character_wallet.v1"}})
	})
	ctx := context.Background()
	owner := f.member(t, "carol")
	f.character(t, owner, 9003, 1000, "Carol")
	f.token(t, owner, 9003)

	elig, err := f.validator.IsEligible(ctx, &models.SyncedCharacter{UserID: owner.ID, CharacterID: 9003})
	require.NoError(t, err)
	assert.False(t, elig.Eligible)
	assert.Equal(t, models.RevocationReasonMissingToken, elig.Cause)
	assert.Contains(t, elig.Summary(), "esi-wallet.read_character_wallet.v1")
	assert.Contains(t, f.validator.RequiredScopes(owner), "esi-wallet.read_character_wallet.v1")
}

func TestValidator_CharacterMovedToAnotherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.member(t, "alice")
	bob := f.member(t, "bob")
	sc := f.enroll(t, alice, 9004, "Traded Toon")

	f.character(t, bob, 9004, 1000, "Traded Toon")

	elig, err := f.validator.IsEligible(ctx, sc)
	require.NoError(t, err)
	assert.False(t, elig.Eligible)
	assert.Equal(t, models.RevocationReasonLostPermission, elig.Cause)
	assert.Contains(t, elig.Summary(), "no longer owned")
}

func TestValidator_ExtraRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.member(t, "dave")
	sc := f.enroll(t, owner, 9005, "Dave")

	v := NewValidator(f.repos, f.settings, func(_ context.Context, u *models.User, _ *models.SyncedCharacter) (string, error) {
		if u.State != "alliance" {
			return "owner is not an alliance member", nil
		}
		return "", nil
	})
	elig, err := v.IsEligible(ctx, sc)
	require.NoError(t, err)
	assert.False(t, elig.Eligible)
	assert.Equal(t, models.RevocationReasonOther, elig.Cause)
	assert.Equal(t, []string{"owner is not an alliance member"}, elig.Reasons)
}

func TestValidator_CanRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.member(t, "alice")
	f.character(t, alice, 100, 123, "Alice")
	f.token(t, alice, 100)
	f.character(t, alice, 101, 123, "Alice Alt")

	bob := f.member(t, "bob")
	f.character(t, bob, 200, 456, "Bob")
	guest := f.user(t, "guest")

	tests := []struct {
		name string
		user uint
		ref  models.EntityRef
		code string
	}{
		{"own character", alice.ID, models.EntityRef{ID: 100, Type: models.EntityTypeCharacter}, ""},
		{"own character without token", alice.ID, models.EntityRef{ID: 101, Type: models.EntityTypeCharacter}, models.CodeValidation},
		{"someone else's character", alice.ID, models.EntityRef{ID: 200, Type: models.EntityTypeCharacter}, models.CodeForbidden},
		{"corporation with a missing token", alice.ID, models.EntityRef{ID: 123, Type: models.EntityTypeCorporation}, models.CodeValidation},
		{"corporation without members", bob.ID, models.EntityRef{ID: 123, Type: models.EntityTypeCorporation}, models.CodeValidation},
		{"no permission", guest.ID, models.EntityRef{ID: 123, Type: models.EntityTypeCorporation}, models.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.validator.CanRequest(ctx, tt.user, tt.ref)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, models.ErrorKind(err), "err: %v", err)
		})
	}

	err := f.validator.CanRequest(ctx, alice.ID, models.EntityRef{ID: 123, Type: models.EntityTypeCorporation})
	assert.ErrorContains(t, err, "Missing: Alice Alt")
}
