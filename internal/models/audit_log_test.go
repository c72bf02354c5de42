package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestAuditLogEntry_IsAppendOnly(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&AuditLogEntry{}))

	entry := AuditLogEntry{Action: AuditApproveRequest, EntityID: 7, EntityType: EntityTypeAlliance}
	require.NoError(t, db.Create(&entry).Error)
	assert.True(t, entry.IsSystem())

	err = db.Model(&entry).Update("detail", "rewritten").Error
	assert.True(t, HasCode(err, CodeImmutableRecord), "update error: %v", err)

	err = db.Delete(&entry).Error
	assert.True(t, HasCode(err, CodeImmutableRecord), "delete error: %v", err)

	var count int64
	require.NoError(t, db.Model(&AuditLogEntry{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	var stored AuditLogEntry
	require.NoError(t, db.First(&stored, entry.ID).Error)
	assert.Empty(t, stored.Detail)
}
