package database

import "standings/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.UserPermission{},
		&models.Character{},
		&models.CharacterToken{},
		&models.StandingsEntry{},
		&models.StandingRequest{},
		&models.StandingRevocation{},
		&models.SyncedCharacter{},
		&models.AuditLogEntry{},
	}
}
