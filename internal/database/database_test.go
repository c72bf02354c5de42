package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"standings/internal/config"
	"standings/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openMemory(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestConfigurePool(t *testing.T) {
	db := openMemory(t)

	cfg := &config.Config{
		DBDriver:                 "postgres",
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           5,
		DBConnMaxLifetimeMinutes: 15,
	}
	require.NoError(t, configurePool(db, cfg))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)

	cfg.DBDriver = "sqlite"
	require.NoError(t, configurePool(db, cfg))
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestPlanSchema(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		runSQL  bool
		runAuto bool
		wantErr bool
	}{
		{"hybrid dev postgres", config.Config{DBDriver: "postgres", Env: "development"}, true, true, false},
		{"hybrid prod postgres", config.Config{DBDriver: "postgres", Env: "production"}, true, false, false},
		{"sql only", config.Config{DBDriver: "postgres", Env: "development", DBSchemaMode: "sql"}, true, false, false},
		{"auto refused in prod", config.Config{DBDriver: "postgres", Env: "prod", DBSchemaMode: "auto"}, false, false, true},
		{"auto allowed destructive", config.Config{DBDriver: "postgres", Env: "prod", DBSchemaMode: "auto", DBAutoMigrateDestructive: true}, false, true, false},
		{"sqlite always auto", config.Config{DBDriver: "sqlite", Env: "development", DBSchemaMode: "sql"}, false, true, false},
		{"unknown mode", config.Config{DBDriver: "postgres", DBSchemaMode: "yolo"}, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := planSchema(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.runSQL, plan.sql)
			assert.Equal(t, tt.runAuto, plan.auto)
		})
	}
}

func TestEmbeddedMigrationsRegistered(t *testing.T) {
	m, ok := GetMigrationByVersion(1)
	require.True(t, ok)
	assert.Equal(t, "000001_init", m.String())
	assert.Contains(t, m.UpScript, "idx_standing_requests_pending_entity")
	assert.Contains(t, m.DownScript, "DROP TABLE IF EXISTS standings_audit_log")
}

func TestLoadMigrations(t *testing.T) {
	up := &fstest.MapFile{Data: []byte("CREATE TABLE a (id INT);")}
	down := &fstest.MapFile{Data: []byte("DROP TABLE a;")}

	got, err := loadMigrations(fstest.MapFS{
		"000002_second.up.sql":   up,
		"000002_second.down.sql": down,
		"000001_first.up.sql":    up,
		"000001_first.down.sql":  down,
		"README.md":              {Data: []byte("ignored")},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "000001_first", got[0].String())
	assert.Equal(t, "000002_second", got[1].String())

	tests := []struct {
		name string
		fsys fstest.MapFS
		want string
	}{
		{"missing down", fstest.MapFS{"000001_first.up.sql": up}, "no down script"},
		{"bad name", fstest.MapFS{"first.up.sql": up, "first.down.sql": down}, "want NNNNNN_name"},
		{"zero version", fstest.MapFS{"000000_zero.up.sql": up, "000000_zero.down.sql": down}, "positive number"},
		{"duplicate version", fstest.MapFS{
			"000001_a.up.sql": up, "000001_a.down.sql": down,
			"000001_b.up.sql": up, "000001_b.down.sql": down,
		}, "already used"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadMigrations(tt.fsys)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAppliedVersions_NoLedger(t *testing.T) {
	versions, err := appliedVersions(context.Background(), openMemory(t))
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestValidateAppliedVersions(t *testing.T) {
	assert.NoError(t, validateAppliedVersions(nil, GetMigrations()))
	assert.NoError(t, validateAppliedVersions([]int{1}, GetMigrations()))
	assert.Error(t, validateAppliedVersions([]int{1, 42}, GetMigrations()))
}

func TestAutoMigrate_PendingUniqueness(t *testing.T) {
	db := openMemory(t)
	require.NoError(t, ApplySchema(context.Background(), db, &config.Config{DBDriver: "sqlite", Env: "test"}))

	user := models.User{Username: "pilot"}
	require.NoError(t, db.Create(&user).Error)

	first := models.StandingRequest{EntityID: 99, EntityType: models.EntityTypeAlliance, RequestedStanding: 5, RequestedByUserID: user.ID, State: models.RequestStatePending}
	require.NoError(t, db.Create(&first).Error)

	dup := first
	dup.ID = 0
	err := db.Create(&dup).Error
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey))

	// Closed requests do not block a new pending one.
	require.NoError(t, db.Model(&first).Update("state", models.RequestStateRejected).Error)
	dup.ID = 0
	require.NoError(t, db.Create(&dup).Error)
}

func TestPersistentModelsCoverAuditLog(t *testing.T) {
	found := false
	for _, model := range PersistentModels() {
		if _, ok := model.(*models.AuditLogEntry); ok {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAutoMigrate_AuditLogRejectsHookBypass(t *testing.T) {
	db := openMemory(t)
	require.NoError(t, AutoMigrate(db))
	require.NoError(t, AutoMigrate(db), "rerun is idempotent")

	entry := models.AuditLogEntry{Action: models.AuditApproveRequest, EntityID: 7, EntityType: models.EntityTypeAlliance, Detail: "approved"}
	require.NoError(t, db.Create(&entry).Error)

	err := db.Model(&entry).UpdateColumn("detail", "rewritten").Error
	assert.True(t, models.HasCode(err, models.CodeImmutableRecord), "update column error: %v", err)

	err = db.Exec("UPDATE standings_audit_log SET detail = ?", "rewritten").Error
	assert.True(t, models.HasCode(err, models.CodeImmutableRecord), "raw update error: %v", err)

	err = db.Exec("DELETE FROM standings_audit_log").Error
	assert.True(t, models.HasCode(err, models.CodeImmutableRecord), "raw delete error: %v", err)

	var stored models.AuditLogEntry
	require.NoError(t, db.First(&stored, entry.ID).Error)
	assert.Equal(t, "approved", stored.Detail)
}

func TestIsAuditViolation(t *testing.T) {
	assert.True(t, isAuditViolation(&pgconn.PgError{Code: "23001", Message: auditAppendOnly}))
	assert.False(t, isAuditViolation(&pgconn.PgError{Code: "23001", Message: "update or delete on table \"users\" violates RESTRICT setting"}))
	assert.True(t, isAuditViolation(errors.New(auditAppendOnly)))
	assert.False(t, isAuditViolation(errors.New("database is locked")))
}
