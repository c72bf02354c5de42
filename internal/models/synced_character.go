package models

import "time"

// SyncOutcome records how the last sync attempt ended.
type SyncOutcome string

const (
	SyncOutcomeNone  SyncOutcome = ""
	SyncOutcomeOK    SyncOutcome = "ok"
	SyncOutcomeError SyncOutcome = "error"
)

// Deactivation reasons recorded on SyncedCharacter.
const (
	DeactivatedIneligible  = "ineligible"
	DeactivatedAuthFailure = "auth_failure"
)

// SyncedCharacter is a character enrolled to receive the organization's standings as contacts.
// LastSyncAt only advances on success; failed attempts update LastAttemptAt and LastError.
type SyncedCharacter struct {
	ID                      uint        `gorm:"primaryKey" json:"id"`
	UserID                  uint        `gorm:"not null;index" json:"user_id"`
	CharacterID             int64       `gorm:"not null;uniqueIndex" json:"character_id"`
	Character               *Character  `gorm:"foreignKey:CharacterID;references:CharacterID" json:"character,omitempty"`
	Active                  bool        `gorm:"not null;index" json:"active"`
	HasLabel                bool        `gorm:"not null" json:"has_label"`
	LastSyncAt              *time.Time  `json:"last_sync_at"`
	LastAttemptAt           *time.Time  `json:"last_attempt_at"`
	LastOutcome             SyncOutcome `gorm:"type:varchar(10)" json:"last_outcome"`
	LastError               string      `gorm:"type:text" json:"last_error"`
	ConsecutiveAuthFailures int         `gorm:"not null" json:"consecutive_auth_failures"`
	DeactivatedAt           *time.Time  `json:"deactivated_at"`
	DeactivationReason      string      `gorm:"type:varchar(30)" json:"deactivation_reason"`
	CreatedAt               time.Time   `json:"created_at"`
	UpdatedAt               time.Time   `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (SyncedCharacter) TableName() string {
	return "synced_characters"
}

// IsStale reports whether the character has not synced successfully within timeout.
// A character that never synced is stale.
func (s SyncedCharacter) IsStale(now time.Time, timeout time.Duration) bool {
	if s.LastSyncAt == nil {
		return true
	}
	return now.Sub(*s.LastSyncAt) > timeout
}

// Ref returns the character as an entity reference.
func (s SyncedCharacter) Ref() EntityRef {
	return EntityRef{ID: s.CharacterID, Type: EntityTypeCharacter}
}
