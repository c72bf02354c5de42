package repository

import (
	"context"
	"time"

	"standings/internal/models"
	"standings/internal/observability"

	"gorm.io/gorm"
)

// AuditFilter narrows audit log listings. Zero fields are ignored.
type AuditFilter struct {
	Action      models.AuditAction
	EntityID    int64
	ActorUserID *uint
	SystemOnly  bool
	Since       time.Time
	Page        Page
}

// AuditRepository appends and reads the audit log. It has no update or delete methods.
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditLogEntry) error
	List(ctx context.Context, filter AuditFilter) ([]models.AuditLogEntry, int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository returns a new AuditRepository implementation.
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// List returns matching entries newest first, plus the total match count.
func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]models.AuditLogEntry, int64, error) {
	defer observability.TrackQuery("list", "standings_audit_log")()

	q := r.db.WithContext(ctx).Model(&models.AuditLogEntry{})
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.EntityID != 0 {
		q = q.Where("entity_id = ?", filter.EntityID)
	}
	if filter.SystemOnly {
		q = q.Where("actor_user_id IS NULL")
	} else if filter.ActorUserID != nil {
		q = q.Where("actor_user_id = ?", *filter.ActorUserID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}

	var entries []models.AuditLogEntry
	if err := filter.Page.apply(q).Order("created_at DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return entries, total, nil
}
