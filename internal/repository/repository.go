// Package repository implements the data access layer for the application.
package repository

import (
	"context"
	"errors"

	"standings/internal/models"

	"gorm.io/gorm"
)

// Repositories groups every repository over one database handle, so a transaction can hand
// the whole set to a callback.
type Repositories struct {
	db *gorm.DB

	Users            UserRepository
	Characters       CharacterRepository
	Tokens           TokenRepository
	Standings        StandingsRepository
	Requests         RequestRepository
	Revocations      RevocationRepository
	SyncedCharacters SyncedCharacterRepository
	Audit            AuditRepository
}

// New returns the repositories backed by db.
func New(db *gorm.DB) *Repositories {
	return &Repositories{
		db:               db,
		Users:            NewUserRepository(db),
		Characters:       NewCharacterRepository(db),
		Tokens:           NewTokenRepository(db),
		Standings:        NewStandingsRepository(db),
		Requests:         NewRequestRepository(db),
		Revocations:      NewRevocationRepository(db),
		SyncedCharacters: NewSyncedCharacterRepository(db),
		Audit:            NewAuditRepository(db),
	}
}

// DB returns the underlying handle.
func (r *Repositories) DB() *gorm.DB {
	return r.db
}

// Transaction runs fn with repositories bound to a single transaction. Any error from fn
// rolls back every write made through tx.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

// Page bounds list queries.
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func (p Page) apply(db *gorm.DB) *gorm.DB {
	p = p.normalize()
	return db.Limit(p.Limit).Offset(p.Offset)
}

// notFoundOr maps gorm.ErrRecordNotFound to a NOT_FOUND AppError and anything else to INTERNAL.
func notFoundOr(err error, resource string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return models.NewInternalError(err)
}

// conflictOr maps unique violations to CONFLICT with msg.
func conflictOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return models.NewConflictError(msg)
	}
	return models.NewInternalError(err)
}
