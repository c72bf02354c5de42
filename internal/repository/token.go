package repository

import (
	"context"
	"time"

	"standings/internal/models"

	"gorm.io/gorm"
)

// TokenRepository defines persistence operations for character OAuth tokens.
type TokenRepository interface {
	Create(ctx context.Context, token *models.CharacterToken) error
	// Current returns the newest non-revoked, unexpired token for the character.
	Current(ctx context.Context, characterID int64, now time.Time) (*models.CharacterToken, error)
	Revoke(ctx context.Context, tokenID uint) error
}

type tokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository returns a new TokenRepository implementation.
func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) Create(ctx context.Context, token *models.CharacterToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *tokenRepository) Current(ctx context.Context, characterID int64, now time.Time) (*models.CharacterToken, error) {
	var token models.CharacterToken
	if err := r.db.WithContext(ctx).
		Where("character_id = ? AND revoked = ? AND expires_at > ?", characterID, false, now).
		Order("expires_at DESC").
		First(&token).Error; err != nil {
		return nil, notFoundOr(err, "Token for character", characterID)
	}
	return &token, nil
}

func (r *tokenRepository) Revoke(ctx context.Context, tokenID uint) error {
	if err := r.db.WithContext(ctx).Model(&models.CharacterToken{}).
		Where("id = ?", tokenID).
		Update("revoked", true).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}
