package database

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"standings/internal/config"
	"standings/internal/middleware"

	"gorm.io/gorm"
)

// Schema modes selected by DB_SCHEMA_MODE.
const (
	SchemaModeHybrid = "hybrid"
	SchemaModeSQL    = "sql"
	SchemaModeAuto   = "auto"
)

// auditTrigger is created by the initial migration and reinstalled by AutoMigrate.
const auditTrigger = "trg_standings_audit_log_immutable"

// SchemaStatus describes what ApplySchema would do against the current database.
type SchemaStatus struct {
	Mode               string
	Environment        string
	WillRunSQL         bool
	WillRunAutoMigrate bool
	AppliedVersions    []int
	PendingMigrations  []Migration
	// AuditTriggerPresent is only meaningful on postgres.
	AuditTriggerPresent bool
}

type schemaPlan struct {
	mode string
	sql  bool
	auto bool
}

func isProdLikeEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod", "staging", "stage":
		return true
	}
	return false
}

// planSchema decides which schema steps run. Embedded SQL targets postgres only, so sqlite
// databases are always built with AutoMigrate and never in a production-like environment.
func planSchema(cfg *config.Config) (schemaPlan, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.DBSchemaMode))
	if mode == "" {
		mode = SchemaModeHybrid
	}
	if !slices.Contains([]string{SchemaModeHybrid, SchemaModeSQL, SchemaModeAuto}, mode) {
		return schemaPlan{}, fmt.Errorf("unsupported DB_SCHEMA_MODE %q", mode)
	}
	prod := isProdLikeEnv(cfg.Env)

	if cfg.DBDriver == "sqlite" {
		if prod {
			return schemaPlan{}, fmt.Errorf("refusing sqlite schema in %q", cfg.Env)
		}
		return schemaPlan{mode: mode, auto: true}, nil
	}

	switch mode {
	case SchemaModeSQL:
		return schemaPlan{mode: mode, sql: true}, nil
	case SchemaModeAuto:
		if prod && !cfg.DBAutoMigrateDestructive {
			return schemaPlan{}, fmt.Errorf("refusing DB_SCHEMA_MODE=auto in %q without DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE=true", cfg.Env)
		}
		return schemaPlan{mode: mode, auto: true}, nil
	default:
		// Hybrid: migrations always, AutoMigrate on top outside production.
		return schemaPlan{mode: mode, sql: true, auto: !prod}, nil
	}
}

// AutoMigrate creates or updates every persistent table from the GORM models and installs the
// audit log triggers.
func AutoMigrate(db *gorm.DB) error {
	if err := registerAuditGuard(db); err != nil {
		return err
	}
	if err := db.AutoMigrate(PersistentModels()...); err != nil {
		return err
	}
	return ensureAuditTriggers(db)
}

// ApplySchema brings the schema up to date according to DB_SCHEMA_MODE.
func ApplySchema(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	plan, err := planSchema(cfg)
	if err != nil {
		return err
	}
	log := middleware.Logger.With(slog.String("mode", plan.mode), slog.String("env", cfg.Env))

	if plan.sql {
		if err := RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run sql migrations: %w", err)
		}
	}
	if plan.auto {
		log.InfoContext(ctx, "running gorm automigrate")
		if err := AutoMigrate(db.WithContext(ctx)); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	}

	if cfg.DBDriver != "sqlite" && !hasAuditTrigger(ctx, db) {
		log.WarnContext(ctx, "audit log has no append-only trigger; only model hooks guard it",
			slog.String("trigger", auditTrigger))
	}
	return nil
}

func hasAuditTrigger(ctx context.Context, db *gorm.DB) bool {
	var n int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM pg_trigger WHERE tgname = ?", auditTrigger).Scan(&n).Error
	return err == nil && n > 0
}

// GetSchemaStatus reports the schema plan and pending migrations without applying anything.
func GetSchemaStatus(ctx context.Context, db *gorm.DB, cfg *config.Config) (*SchemaStatus, error) {
	plan, err := planSchema(cfg)
	if err != nil {
		return nil, err
	}
	status := &SchemaStatus{
		Mode:               plan.mode,
		Environment:        cfg.Env,
		WillRunSQL:         plan.sql,
		WillRunAutoMigrate: plan.auto,
	}
	if !plan.sql {
		return status, nil
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}
	status.AppliedVersions = applied
	for _, m := range GetMigrations() {
		if !slices.Contains(applied, m.Version) {
			status.PendingMigrations = append(status.PendingMigrations, m)
		}
	}
	status.AuditTriggerPresent = hasAuditTrigger(ctx, db)
	return status, nil
}
