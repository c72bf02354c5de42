package repository

import (
	"context"

	"standings/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CharacterRepository defines persistence operations for user-owned characters.
type CharacterRepository interface {
	GetByID(ctx context.Context, characterID int64) (*models.Character, error)
	Upsert(ctx context.Context, character *models.Character) error
	ListByUser(ctx context.Context, userID uint) ([]models.Character, error)
	ListByUserAndCorporation(ctx context.Context, userID uint, corporationID int64) ([]models.Character, error)
	ListByUserAndAlliance(ctx context.Context, userID uint, allianceID int64) ([]models.Character, error)
}

type characterRepository struct {
	db *gorm.DB
}

// NewCharacterRepository returns a new CharacterRepository implementation.
func NewCharacterRepository(db *gorm.DB) CharacterRepository {
	return &characterRepository{db: db}
}

func (r *characterRepository) GetByID(ctx context.Context, characterID int64) (*models.Character, error) {
	var character models.Character
	if err := r.db.WithContext(ctx).First(&character, "character_id = ?", characterID).Error; err != nil {
		return nil, notFoundOr(err, "Character", characterID)
	}
	return &character, nil
}

// Upsert stores character, replacing ownership and affiliation when it already exists.
func (r *characterRepository) Upsert(ctx context.Context, character *models.Character) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "character_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "name", "corporation_id", "alliance_id", "updated_at"}),
	}).Create(character).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *characterRepository) ListByUser(ctx context.Context, userID uint) ([]models.Character, error) {
	var characters []models.Character
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("character_id ASC").
		Find(&characters).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return characters, nil
}

func (r *characterRepository) ListByUserAndCorporation(ctx context.Context, userID uint, corporationID int64) ([]models.Character, error) {
	var characters []models.Character
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND corporation_id = ?", userID, corporationID).
		Order("character_id ASC").
		Find(&characters).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return characters, nil
}

func (r *characterRepository) ListByUserAndAlliance(ctx context.Context, userID uint, allianceID int64) ([]models.Character, error) {
	var characters []models.Character
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND alliance_id = ?", userID, allianceID).
		Order("character_id ASC").
		Find(&characters).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return characters, nil
}
