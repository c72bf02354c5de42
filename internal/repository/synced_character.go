package repository

import (
	"context"
	"errors"

	"standings/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncedCharacterRepository defines persistence operations for synced characters.
type SyncedCharacterRepository interface {
	Create(ctx context.Context, sc *models.SyncedCharacter) error
	GetByID(ctx context.Context, id uint) (*models.SyncedCharacter, error)
	GetByCharacterID(ctx context.Context, characterID int64) (*models.SyncedCharacter, error)
	ListByUser(ctx context.Context, userID uint) ([]models.SyncedCharacter, error)
	ListActive(ctx context.Context) ([]models.SyncedCharacter, error)
	ListAll(ctx context.Context) ([]models.SyncedCharacter, error)
	// Update writes only the named columns of sc.
	Update(ctx context.Context, sc *models.SyncedCharacter, columns ...string) error
	Delete(ctx context.Context, id uint) error
}

type syncedCharacterRepository struct {
	db *gorm.DB
}

// NewSyncedCharacterRepository returns a new SyncedCharacterRepository implementation.
func NewSyncedCharacterRepository(db *gorm.DB) SyncedCharacterRepository {
	return &syncedCharacterRepository{db: db}
}

func (r *syncedCharacterRepository) Create(ctx context.Context, sc *models.SyncedCharacter) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(sc).Error; err != nil {
		return conflictOr(err, "character is already synced")
	}
	return nil
}

func (r *syncedCharacterRepository) GetByID(ctx context.Context, id uint) (*models.SyncedCharacter, error) {
	var sc models.SyncedCharacter
	if err := r.db.WithContext(ctx).Preload("Character").First(&sc, id).Error; err != nil {
		return nil, notFoundOr(err, "Synced character", id)
	}
	return &sc, nil
}

func (r *syncedCharacterRepository) GetByCharacterID(ctx context.Context, characterID int64) (*models.SyncedCharacter, error) {
	var sc models.SyncedCharacter
	if err := r.db.WithContext(ctx).Preload("Character").Where("character_id = ?", characterID).First(&sc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Synced character", characterID)
		}
		return nil, models.NewInternalError(err)
	}
	return &sc, nil
}

func (r *syncedCharacterRepository) ListByUser(ctx context.Context, userID uint) ([]models.SyncedCharacter, error) {
	var list []models.SyncedCharacter
	if err := r.db.WithContext(ctx).Preload("Character").
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&list).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return list, nil
}

func (r *syncedCharacterRepository) ListActive(ctx context.Context) ([]models.SyncedCharacter, error) {
	var list []models.SyncedCharacter
	if err := r.db.WithContext(ctx).Preload("Character").
		Where("active = ?", true).
		Order("id ASC").
		Find(&list).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return list, nil
}

func (r *syncedCharacterRepository) ListAll(ctx context.Context) ([]models.SyncedCharacter, error) {
	var list []models.SyncedCharacter
	if err := r.db.WithContext(ctx).Preload("Character").Order("id ASC").Find(&list).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return list, nil
}

func (r *syncedCharacterRepository) Update(ctx context.Context, sc *models.SyncedCharacter, columns ...string) error {
	q := r.db.WithContext(ctx).Model(sc).Omit(clause.Associations)
	if len(columns) > 0 {
		q = q.Select(columns)
	}
	res := q.Updates(sc)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Synced character", sc.ID)
	}
	return nil
}

func (r *syncedCharacterRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.SyncedCharacter{}, id)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Synced character", id)
	}
	return nil
}
