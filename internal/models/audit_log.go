package models

import (
	"time"

	"gorm.io/gorm"
)

// AuditAction names a recorded workflow decision.
type AuditAction string

const (
	AuditApproveRequest    AuditAction = "approve_request"
	AuditRejectRequest     AuditAction = "reject_request"
	AuditApproveRevocation AuditAction = "approve_revocation"
	AuditRejectRevocation  AuditAction = "reject_revocation"
	AuditAutoRevoke        AuditAction = "auto_revoke"
	AuditAddStanding       AuditAction = "add_standing"
	AuditRemoveStanding    AuditAction = "remove_standing"
)

// AuditLogEntry is an append-only record of a decision. Rows are never updated or deleted.
// A nil actor is the system.
type AuditLogEntry struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	Action          AuditAction `gorm:"type:varchar(30);not null;index" json:"action"`
	ActorUserID     *uint       `gorm:"index" json:"actor_user_id"`
	RequesterUserID *uint       `json:"requester_user_id"`
	EntityID        int64       `gorm:"not null;index" json:"entity_id"`
	EntityType      EntityType  `gorm:"type:varchar(20);not null" json:"entity_type"`
	Standing        *float64    `json:"standing,omitempty"`
	Detail          string      `gorm:"type:text" json:"detail"`
	CreatedAt       time.Time   `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for GORM
func (AuditLogEntry) TableName() string {
	return "standings_audit_log"
}

// BeforeUpdate rejects any modification of a stored audit entry.
func (AuditLogEntry) BeforeUpdate(*gorm.DB) error {
	return NewImmutableRecordError("audit log entries cannot be modified")
}

// BeforeDelete rejects deletion of audit entries.
func (AuditLogEntry) BeforeDelete(*gorm.DB) error {
	return NewImmutableRecordError("audit log entries cannot be deleted")
}

// IsSystem reports whether the entry was written by an automatic process.
func (e AuditLogEntry) IsSystem() bool {
	return e.ActorUserID == nil
}
