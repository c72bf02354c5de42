package repository

import (
	"context"
	"errors"

	"standings/internal/models"
	"standings/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StandingsFilter narrows standings listings.
type StandingsFilter struct {
	EntityType models.EntityType
	Page       Page
}

// StandingsRepository defines persistence operations for approved standings.
type StandingsRepository interface {
	List(ctx context.Context, filter StandingsFilter) ([]models.StandingsEntry, int64, error)
	All(ctx context.Context) ([]models.StandingsEntry, error)
	GetByEntityID(ctx context.Context, entityID int64) (*models.StandingsEntry, error)
	Exists(ctx context.Context, entityID int64) (bool, error)
	Create(ctx context.Context, entry *models.StandingsEntry) error
	Upsert(ctx context.Context, entry *models.StandingsEntry) error
	DeleteByEntityID(ctx context.Context, entityID int64) (bool, error)
}

type standingsRepository struct {
	db *gorm.DB
}

// NewStandingsRepository returns a new StandingsRepository implementation.
func NewStandingsRepository(db *gorm.DB) StandingsRepository {
	return &standingsRepository{db: db}
}

func (r *standingsRepository) List(ctx context.Context, filter StandingsFilter) ([]models.StandingsEntry, int64, error) {
	defer observability.TrackQuery("list", "standings_entries")()

	q := r.db.WithContext(ctx).Model(&models.StandingsEntry{})
	if filter.EntityType != "" {
		q = q.Where("entity_type = ?", filter.EntityType)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}

	var entries []models.StandingsEntry
	if err := filter.Page.apply(q).
		Preload("AddedBy").
		Order("entity_type ASC, entity_id ASC").
		Find(&entries).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return entries, total, nil
}

// All returns every approved standing ordered by entity id; this is the desired contact set.
func (r *standingsRepository) All(ctx context.Context) ([]models.StandingsEntry, error) {
	defer observability.TrackQuery("all", "standings_entries")()

	var entries []models.StandingsEntry
	if err := r.db.WithContext(ctx).
		Preload("AddedBy").
		Order("entity_id ASC").
		Find(&entries).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return entries, nil
}

func (r *standingsRepository) GetByEntityID(ctx context.Context, entityID int64) (*models.StandingsEntry, error) {
	var entry models.StandingsEntry
	if err := r.db.WithContext(ctx).Where("entity_id = ?", entityID).First(&entry).Error; err != nil {
		return nil, notFoundOr(err, "Standing for entity", entityID)
	}
	return &entry, nil
}

func (r *standingsRepository) Exists(ctx context.Context, entityID int64) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.StandingsEntry{}).
		Where("entity_id = ?", entityID).
		Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *standingsRepository) Create(ctx context.Context, entry *models.StandingsEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return conflictOr(err, "a standing already exists for this entity")
	}
	return nil
}

// Upsert creates the entry or overwrites the standing of the existing entry for the entity.
func (r *standingsRepository) Upsert(ctx context.Context, entry *models.StandingsEntry) error {
	defer observability.TrackQuery("upsert", "standings_entries")()

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"entity_type", "standing", "added_by_user_id", "notes", "updated_at"}),
	}).Create(entry).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// DeleteByEntityID removes the standing and reports whether one existed.
func (r *standingsRepository) DeleteByEntityID(ctx context.Context, entityID int64) (bool, error) {
	res := r.db.WithContext(ctx).Where("entity_id = ?", entityID).Delete(&models.StandingsEntry{})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}
