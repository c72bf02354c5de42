package repository

import (
	"context"
	"slices"

	"standings/internal/cache"
	"standings/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository defines persistence operations for users and their permissions.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Permissions(ctx context.Context, userID uint) ([]string, error)
	HasPermission(ctx context.Context, userID uint, codename string) (bool, error)
	Grant(ctx context.Context, userID uint, codename string) error
	Revoke(ctx context.Context, userID uint, codename string) error
	ListWithPermission(ctx context.Context, codename string) ([]models.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFoundOr(err, "User", id)
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFoundOr(err, "User", username)
	}
	return &user, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return conflictOr(err, "User already exists")
	}
	return nil
}

// Permissions returns the user's permission codenames, cached briefly in Redis.
func (r *userRepository) Permissions(ctx context.Context, userID uint) ([]string, error) {
	var codenames []string
	err := cache.Aside(ctx, cache.PermissionsKey(userID), &codenames, cache.PermissionsTTL, func() error {
		if err := r.db.WithContext(ctx).Model(&models.UserPermission{}).
			Where("user_id = ?", userID).
			Order("codename ASC").
			Pluck("codename", &codenames).Error; err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return codenames, nil
}

func (r *userRepository) HasPermission(ctx context.Context, userID uint, codename string) (bool, error) {
	codenames, err := r.Permissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return slices.Contains(codenames, codename), nil
}

func (r *userRepository) Grant(ctx context.Context, userID uint, codename string) error {
	perm := models.UserPermission{UserID: userID, Codename: codename}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&perm).Error; err != nil {
		return models.NewInternalError(err)
	}
	cache.InvalidatePermissions(ctx, userID)
	return nil
}

func (r *userRepository) Revoke(ctx context.Context, userID uint, codename string) error {
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND codename = ?", userID, codename).
		Delete(&models.UserPermission{}).Error; err != nil {
		return models.NewInternalError(err)
	}
	cache.InvalidatePermissions(ctx, userID)
	return nil
}

func (r *userRepository) ListWithPermission(ctx context.Context, codename string) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).
		Joins("JOIN user_permissions up ON up.user_id = users.id").
		Where("up.codename = ?", codename).
		Order("users.id ASC").
		Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}
