package models

import (
	"slices"
	"strings"
	"time"
)

// Permission codenames checked by the workflow.
const (
	PermAddSyncedCharacter = "add_syncedcharacter"
	PermApproveStandings   = "approve_standings"
	PermManageStandings    = "manage_standings"
	PermViewAuditLog       = "view_auditlog"
)

// User is an account of the hosting application. State is the deployment-defined
// membership state (e.g. "member", "guest") used for scope requirements.
type User struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	Username    string           `gorm:"uniqueIndex;not null" json:"username"`
	State       string           `gorm:"type:varchar(50);not null;default:'member'" json:"state"`
	Permissions []UserPermission `gorm:"foreignKey:UserID" json:"-"`
	Characters  []Character      `gorm:"foreignKey:UserID" json:"characters,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}

// UserPermission grants a permission codename to a user.
type UserPermission struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_user_permission" json:"user_id"`
	Codename  string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_user_permission" json:"codename"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (UserPermission) TableName() string {
	return "user_permissions"
}

// Character is an in-game character owned by a user.
type Character struct {
	CharacterID   int64     `gorm:"primaryKey;autoIncrement:false" json:"character_id"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	Name          string    `gorm:"type:varchar(100)" json:"name"`
	CorporationID int64     `gorm:"not null;index" json:"corporation_id"`
	AllianceID    *int64    `gorm:"index" json:"alliance_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Character) TableName() string {
	return "characters"
}

// CharacterToken is an OAuth token held for a character. Scopes are space-separated.
type CharacterToken struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CharacterID int64     `gorm:"not null;index" json:"character_id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	AccessToken string    `gorm:"type:text" json:"-"`
	Scopes      string    `gorm:"type:text" json:"scopes"`
	ExpiresAt   time.Time `json:"expires_at"`
	Revoked     bool      `gorm:"not null" json:"revoked"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (CharacterToken) TableName() string {
	return "character_tokens"
}

// ScopeList returns the token's scopes.
func (t CharacterToken) ScopeList() []string {
	return strings.Fields(t.Scopes)
}

// MissingScopes returns the required scopes the token does not carry, in order.
func (t CharacterToken) MissingScopes(required []string) []string {
	have := t.ScopeList()
	var missing []string
	for _, scope := range required {
		if !slices.Contains(have, scope) {
			missing = append(missing, scope)
		}
	}
	return missing
}

// Usable reports whether the token can be used at now.
func (t CharacterToken) Usable(now time.Time) bool {
	return !t.Revoked && t.AccessToken != "" && now.Before(t.ExpiresAt)
}
