package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem         ActorType = "system"
	ActorTypeConsumer       ActorType = "consumer"
	ActorTypeBusinessMember ActorType = "business_member"
)

// Actions recorded by the scan protocol and account management.
const (
	ActionScanSessionPrepared  = "scan_session.prepared"
	ActionScanSessionScanned   = "scan_session.scanned"
	ActionScanSessionCancelled = "scan_session.cancelled"
	ActionAccrualConfirmed     = "scan_session.accrual_confirmed"
	ActionRedemptionConfirmed  = "scan_session.redemption_confirmed"
	ActionAccountAdjusted      = "loyalty_account.adjusted"
	ActionAccountStatusChanged = "loyalty_account.status_changed"
	ActionRewardTierCreated    = "reward_tier.created"
	ActionRewardTierUpdated    = "reward_tier.updated"
	ActionAuthorizationDenied  = "authorization.denied"
)

const (
	TargetTypeScanSession    = "scan_session"
	TargetTypeLoyaltyAccount = "loyalty_account"
	TargetTypeRewardTier     = "reward_tier"
	TargetTypeAuthorization  = "authorization"
)

type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	BusinessID *snowflake.ID     `json:"business_id,omitempty" gorm:"index:idx_audit_logs_business_created,priority:1"`
	ActorType  string            `json:"actor_type" gorm:"type:text;not null"`
	ActorID    *string           `json:"actor_id,omitempty" gorm:"type:text"`
	Action     string            `json:"action" gorm:"type:text;not null;index"`
	TargetType string            `json:"target_type" gorm:"type:text;not null"`
	TargetID   *string           `json:"target_id,omitempty" gorm:"type:text"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	IPAddress  *string           `json:"ip_address,omitempty" gorm:"type:text"`
	UserAgent  *string           `json:"user_agent,omitempty" gorm:"type:text"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;index:idx_audit_logs_business_created,priority:2"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Entry describes one audited action. Empty actor fields fall back to the
// principal on the context.
type Entry struct {
	BusinessID snowflake.ID
	ActorType  ActorType
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	BusinessID snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
