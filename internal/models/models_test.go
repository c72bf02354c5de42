package models

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseEntityType(t *testing.T) {
	for _, raw := range []string{"character", "Corporation", " ALLIANCE "} {
		got, err := ParseEntityType(raw)
		assert.NoError(t, err, raw)
		assert.True(t, got.Valid())
	}
	_, err := ParseEntityType("faction")
	assert.True(t, HasCode(err, CodeValidation))
}

func TestEntityRef_Validate(t *testing.T) {
	assert.NoError(t, EntityRef{ID: 7, Type: EntityTypeAlliance}.Validate())
	assert.Error(t, EntityRef{ID: 0, Type: EntityTypeAlliance}.Validate())
	assert.Error(t, EntityRef{ID: 7, Type: "npc"}.Validate())
	assert.Equal(t, "alliance#7", EntityRef{ID: 7, Type: EntityTypeAlliance}.String())
}

func TestCharacterToken_Scopes(t *testing.T) {
	now := time.Now()
	tok := CharacterToken{
		AccessToken: "abc",
		Scopes:      "esi-characters.read_contacts.v1 esi-characters.write_contacts.v1",
		ExpiresAt:   now.Add(time.Hour),
	}
	assert.Empty(t, tok.MissingScopes([]string{"esi-characters.read_contacts.v1"}))
	assert.Equal(t, []string{"esi-wallet.read_character_wallet.v1"},
		tok.MissingScopes([]string{"esi-characters.write_contacts.v1", "esi-wallet.read_character_wallet.v1"}))
	assert.True(t, tok.Usable(now))

	tok.Revoked = true
	assert.False(t, tok.Usable(now))
	tok.Revoked = false
	assert.False(t, tok.Usable(now.Add(2*time.Hour)))
}

func TestSyncedCharacter_IsStale(t *testing.T) {
	now := time.Now()
	sc := SyncedCharacter{}
	assert.True(t, sc.IsStale(now, time.Hour))

	recent := now.Add(-10 * time.Minute)
	sc.LastSyncAt = &recent
	assert.False(t, sc.IsStale(now, time.Hour))

	old := now.Add(-2 * time.Hour)
	sc.LastSyncAt = &old
	assert.True(t, sc.IsStale(now, time.Hour))
}

func TestErrorKindAndStatus(t *testing.T) {
	tests := []struct {
		err    error
		kind   string
		status int
		domain bool
	}{
		{NewValidationError("bad"), CodeValidation, http.StatusBadRequest, true},
		{NewNotFoundError("Request", 3), CodeNotFound, http.StatusNotFound, true},
		{NewConflictError("dup"), CodeConflict, http.StatusConflict, true},
		{NewInvalidStateError("closed"), CodeInvalidState, http.StatusConflict, true},
		{NewForbiddenError("no"), CodeForbidden, http.StatusForbidden, true},
		{NewAuthError("token", nil), CodeAuth, http.StatusBadGateway, true},
		{NewTransientError("slow", nil), CodeTransient, http.StatusServiceUnavailable, true},
		{fmt.Errorf("wrapped: %w", NewConflictError("dup")), CodeConflict, http.StatusConflict, true},
		{NewInternalError(errors.New("db")), CodeInternal, http.StatusInternalServerError, false},
		{errors.New("plain"), CodeInternal, http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, ErrorKind(tt.err), tt.err.Error())
		assert.Equal(t, tt.status, StatusFor(tt.err), tt.err.Error())
		assert.Equal(t, tt.domain, IsDomainError(tt.err), tt.err.Error())
	}
	assert.Equal(t, "", ErrorKind(nil))
	assert.False(t, IsDomainError(nil))
}
