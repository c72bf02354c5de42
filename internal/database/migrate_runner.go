package database

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"standings/internal/middleware"

	"gorm.io/gorm"
)

// migrationLockKey serializes migration runs across replicas (pg_advisory_xact_lock).
const migrationLockKey = 720_451_001

// appliedMigration is one row of the migration ledger.
type appliedMigration struct {
	Version   int `gorm:"primaryKey;autoIncrement:false"`
	Name      string
	AppliedAt time.Time
}

func (appliedMigration) TableName() string {
	return "migration_logs"
}

const ensureMigrationLogSQL = `
CREATE TABLE IF NOT EXISTS migration_logs (
	version BIGINT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// appliedVersions lists recorded versions in ascending order. A database without the ledger
// table has nothing applied.
func appliedVersions(ctx context.Context, db *gorm.DB) ([]int, error) {
	db = db.WithContext(ctx)
	if !db.Migrator().HasTable(&appliedMigration{}) {
		return nil, nil
	}
	var versions []int
	if err := db.Model(&appliedMigration{}).Order("version").Pluck("version", &versions).Error; err != nil {
		return nil, fmt.Errorf("read migration ledger: %w", err)
	}
	return versions, nil
}

func lockMigrations(tx *gorm.DB) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", migrationLockKey).Error
}

// RunMigrations applies every pending embedded migration. Each one runs in its own transaction
// together with its ledger row, under an advisory lock, so a concurrent runner waits and then
// skips what was already applied.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	if registerErr != nil {
		return fmt.Errorf("embedded migrations: %w", registerErr)
	}
	if err := db.WithContext(ctx).Exec(ensureMigrationLogSQL).Error; err != nil {
		return fmt.Errorf("failed to ensure migration ledger: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	if err := validateAppliedVersions(applied, registered); err != nil {
		return err
	}

	for _, m := range registered {
		ran := false
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := lockMigrations(tx); err != nil {
				return err
			}
			var count int64
			if err := tx.Model(&appliedMigration{}).Where("version = ?", m.Version).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return nil
			}
			if err := tx.Exec(m.UpScript).Error; err != nil {
				return err
			}
			ran = true
			return tx.Create(&appliedMigration{Version: m.Version, Name: m.Name, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", m, err)
		}
		if ran {
			middleware.Logger.InfoContext(ctx, "migration applied", slog.String("migration", m.String()))
		}
	}
	return nil
}

// validateAppliedVersions refuses to run against a ledger written by a newer build.
func validateAppliedVersions(applied []int, known []Migration) error {
	versions := make(map[int]struct{}, len(known))
	for _, m := range known {
		versions[m.Version] = struct{}{}
	}

	var unknown []string
	for _, v := range applied {
		if _, ok := versions[v]; !ok {
			unknown = append(unknown, fmt.Sprintf("%06d", v))
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("migration_logs has versions this build does not know: %s (roll back with the build that applied them)",
		strings.Join(unknown, ", "))
}

// RollbackMigration runs the down script of version, which must be the newest applied one.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) error {
	m, ok := GetMigrationByVersion(version)
	if !ok {
		return fmt.Errorf("migration version %d not found", version)
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockMigrations(tx); err != nil {
			return err
		}
		applied, err := appliedVersions(ctx, tx)
		if err != nil {
			return err
		}
		if len(applied) == 0 || applied[len(applied)-1] != version {
			return fmt.Errorf("migration %d is not the newest applied version (applied: %v)", version, applied)
		}
		if err := tx.Exec(m.DownScript).Error; err != nil {
			return err
		}
		return tx.Where("version = ?", version).Delete(&appliedMigration{}).Error
	})
	if err != nil {
		return fmt.Errorf("rollback %s: %w", m, err)
	}
	middleware.Logger.InfoContext(ctx, "migration rolled back", slog.String("migration", m.String()))
	return nil
}
