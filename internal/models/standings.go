package models

import "time"

// StandingsEntry is an approved standing for one entity. It is the desired state for contact sync.
type StandingsEntry struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	EntityID      int64      `gorm:"not null;uniqueIndex" json:"entity_id"`
	EntityType    EntityType `gorm:"type:varchar(20);not null;index" json:"entity_type"`
	Standing      float64    `gorm:"not null" json:"standing"`
	AddedByUserID *uint      `gorm:"index" json:"added_by_user_id"`
	AddedBy       *User      `gorm:"foreignKey:AddedByUserID" json:"added_by,omitempty"`
	Notes         string     `gorm:"type:text" json:"notes"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (StandingsEntry) TableName() string {
	return "standings_entries"
}

// Ref returns the entity reference of the entry.
func (e StandingsEntry) Ref() EntityRef {
	return EntityRef{ID: e.EntityID, Type: e.EntityType}
}

// RequestState defines lifecycle states shared by standing requests and revocations.
type RequestState string

const (
	// RequestStatePending indicates the proposal is awaiting review.
	RequestStatePending RequestState = "pending"
	// RequestStateApproved indicates the proposal was accepted.
	RequestStateApproved RequestState = "approved"
	// RequestStateRejected indicates the proposal was denied.
	RequestStateRejected RequestState = "rejected"
)

// StandingRequest is a user-submitted proposal to create a standing for an entity.
// At most one pending request may exist per entity.
type StandingRequest struct {
	ID                uint         `gorm:"primaryKey" json:"id"`
	EntityID          int64        `gorm:"not null;index;index:idx_standing_requests_pending_entity,unique,where:state = 'pending'" json:"entity_id"`
	EntityType        EntityType   `gorm:"type:varchar(20);not null" json:"entity_type"`
	RequestedStanding float64      `gorm:"not null" json:"requested_standing"`
	RequestedByUserID uint         `gorm:"not null;index" json:"requested_by_user_id"`
	RequestedByUser   *User        `gorm:"foreignKey:RequestedByUserID" json:"requested_by_user,omitempty"`
	State             RequestState `gorm:"type:varchar(20);not null;default:'pending';index" json:"state"`
	ActionedByUserID  *uint        `json:"actioned_by_user_id"`
	ActionedAt        *time.Time   `json:"actioned_at"`
	Note              string       `gorm:"type:text" json:"note"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (StandingRequest) TableName() string {
	return "standing_requests"
}

// Ref returns the entity reference of the request.
func (r StandingRequest) Ref() EntityRef {
	return EntityRef{ID: r.EntityID, Type: r.EntityType}
}

// RevocationReason explains why a standing removal was proposed.
type RevocationReason string

const (
	RevocationReasonUserRequest    RevocationReason = "user_request"
	RevocationReasonLostPermission RevocationReason = "lost_permission"
	RevocationReasonMissingToken   RevocationReason = "missing_token"
	RevocationReasonOther          RevocationReason = "other"
)

// Valid reports whether r is a known reason.
func (r RevocationReason) Valid() bool {
	switch r {
	case RevocationReasonUserRequest, RevocationReasonLostPermission, RevocationReasonMissingToken, RevocationReasonOther:
		return true
	}
	return false
}

// StandingRevocation proposes removing an existing standing. A nil requester marks an
// automatic, system-initiated revocation.
type StandingRevocation struct {
	ID                uint             `gorm:"primaryKey" json:"id"`
	EntityID          int64            `gorm:"not null;index;index:idx_standing_revocations_pending_entity,unique,where:state = 'pending'" json:"entity_id"`
	EntityType        EntityType       `gorm:"type:varchar(20);not null" json:"entity_type"`
	Reason            RevocationReason `gorm:"type:varchar(30);not null" json:"reason"`
	RequestedByUserID *uint            `gorm:"index" json:"requested_by_user_id"`
	RequestedByUser   *User            `gorm:"foreignKey:RequestedByUserID" json:"requested_by_user,omitempty"`
	State             RequestState     `gorm:"type:varchar(20);not null;default:'pending';index" json:"state"`
	ActionedByUserID  *uint            `json:"actioned_by_user_id"`
	ActionedAt        *time.Time       `json:"actioned_at"`
	Note              string           `gorm:"type:text" json:"note"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (StandingRevocation) TableName() string {
	return "standing_revocations"
}

// Ref returns the entity reference of the revocation.
func (r StandingRevocation) Ref() EntityRef {
	return EntityRef{ID: r.EntityID, Type: r.EntityType}
}

// IsAutomatic reports whether the revocation was opened by the system.
func (r StandingRevocation) IsAutomatic() bool {
	return r.RequestedByUserID == nil
}
