package repository

import (
	"context"
	"errors"

	"standings/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProposalFilter narrows request and revocation listings.
type ProposalFilter struct {
	State      models.RequestState
	UserID     uint
	EntityType models.EntityType
	Page       Page
}

func (f ProposalFilter) scope(db *gorm.DB) *gorm.DB {
	if f.State != "" {
		db = db.Where("state = ?", f.State)
	}
	if f.UserID != 0 {
		db = db.Where("requested_by_user_id = ?", f.UserID)
	}
	if f.EntityType != "" {
		db = db.Where("entity_type = ?", f.EntityType)
	}
	return db
}

// RequestRepository defines persistence operations for standing requests.
type RequestRepository interface {
	Create(ctx context.Context, req *models.StandingRequest) error
	GetByID(ctx context.Context, id uint) (*models.StandingRequest, error)
	// GetForUpdate loads the request with a row lock for the enclosing transaction.
	GetForUpdate(ctx context.Context, id uint) (*models.StandingRequest, error)
	PendingForEntity(ctx context.Context, entityID int64) (*models.StandingRequest, error)
	List(ctx context.Context, filter ProposalFilter) ([]models.StandingRequest, error)
	Save(ctx context.Context, req *models.StandingRequest) error
}

type requestRepository struct {
	db *gorm.DB
}

// NewRequestRepository returns a new RequestRepository implementation.
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *models.StandingRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return conflictOr(err, "a pending request already exists for this entity")
	}
	return nil
}

func (r *requestRepository) GetByID(ctx context.Context, id uint) (*models.StandingRequest, error) {
	var req models.StandingRequest
	if err := r.db.WithContext(ctx).Preload("RequestedByUser").First(&req, id).Error; err != nil {
		return nil, notFoundOr(err, "Standing request", id)
	}
	return &req, nil
}

func (r *requestRepository) GetForUpdate(ctx context.Context, id uint) (*models.StandingRequest, error) {
	var req models.StandingRequest
	if err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&req, id).Error; err != nil {
		return nil, notFoundOr(err, "Standing request", id)
	}
	return &req, nil
}

func (r *requestRepository) PendingForEntity(ctx context.Context, entityID int64) (*models.StandingRequest, error) {
	var req models.StandingRequest
	if err := r.db.WithContext(ctx).
		Where("entity_id = ? AND state = ?", entityID, models.RequestStatePending).
		First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &req, nil
}

func (r *requestRepository) List(ctx context.Context, filter ProposalFilter) ([]models.StandingRequest, error) {
	var reqs []models.StandingRequest
	q := filter.scope(r.db.WithContext(ctx).Model(&models.StandingRequest{}))
	if err := filter.Page.apply(q).
		Preload("RequestedByUser").
		Order("created_at ASC, id ASC").
		Find(&reqs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return reqs, nil
}

func (r *requestRepository) Save(ctx context.Context, req *models.StandingRequest) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(req).Error; err != nil {
		return conflictOr(err, "a pending request already exists for this entity")
	}
	return nil
}

// RevocationRepository defines persistence operations for standing revocations.
type RevocationRepository interface {
	Create(ctx context.Context, rev *models.StandingRevocation) error
	GetByID(ctx context.Context, id uint) (*models.StandingRevocation, error)
	GetForUpdate(ctx context.Context, id uint) (*models.StandingRevocation, error)
	PendingForEntity(ctx context.Context, entityID int64) (*models.StandingRevocation, error)
	List(ctx context.Context, filter ProposalFilter) ([]models.StandingRevocation, error)
	Save(ctx context.Context, rev *models.StandingRevocation) error
}

type revocationRepository struct {
	db *gorm.DB
}

// NewRevocationRepository returns a new RevocationRepository implementation.
func NewRevocationRepository(db *gorm.DB) RevocationRepository {
	return &revocationRepository{db: db}
}

func (r *revocationRepository) Create(ctx context.Context, rev *models.StandingRevocation) error {
	if err := r.db.WithContext(ctx).Create(rev).Error; err != nil {
		return conflictOr(err, "a pending revocation already exists for this entity")
	}
	return nil
}

func (r *revocationRepository) GetByID(ctx context.Context, id uint) (*models.StandingRevocation, error) {
	var rev models.StandingRevocation
	if err := r.db.WithContext(ctx).Preload("RequestedByUser").First(&rev, id).Error; err != nil {
		return nil, notFoundOr(err, "Standing revocation", id)
	}
	return &rev, nil
}

func (r *revocationRepository) GetForUpdate(ctx context.Context, id uint) (*models.StandingRevocation, error) {
	var rev models.StandingRevocation
	if err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&rev, id).Error; err != nil {
		return nil, notFoundOr(err, "Standing revocation", id)
	}
	return &rev, nil
}

func (r *revocationRepository) PendingForEntity(ctx context.Context, entityID int64) (*models.StandingRevocation, error) {
	var rev models.StandingRevocation
	if err := r.db.WithContext(ctx).
		Where("entity_id = ? AND state = ?", entityID, models.RequestStatePending).
		First(&rev).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &rev, nil
}

func (r *revocationRepository) List(ctx context.Context, filter ProposalFilter) ([]models.StandingRevocation, error) {
	var revs []models.StandingRevocation
	q := filter.scope(r.db.WithContext(ctx).Model(&models.StandingRevocation{}))
	if err := filter.Page.apply(q).
		Preload("RequestedByUser").
		Order("created_at ASC, id ASC").
		Find(&revs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return revs, nil
}

func (r *revocationRepository) Save(ctx context.Context, rev *models.StandingRevocation) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(rev).Error; err != nil {
		return conflictOr(err, "a pending revocation already exists for this entity")
	}
	return nil
}
