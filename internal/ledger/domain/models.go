package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "ACTIVE"
	AccountStatusSuspended AccountStatus = "SUSPENDED"
	AccountStatusClosed    AccountStatus = "CLOSED"
)

type TransactionType string

const (
	TransactionTypeAccrual    TransactionType = "accrual"
	TransactionTypeRedemption TransactionType = "redemption"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// LoyaltyAccount is the balance of one consumer at one business. PointsBalance
// is a cache of the transaction sum guarded by Version.
type LoyaltyAccount struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	BusinessID     snowflake.ID  `gorm:"not null;uniqueIndex:ux_loyalty_accounts_business_consumer,priority:1" json:"business_id"`
	ConsumerUserID snowflake.ID  `gorm:"not null;uniqueIndex:ux_loyalty_accounts_business_consumer,priority:2;index" json:"consumer_user_id"`
	PointsBalance  int64         `gorm:"not null;default:0" json:"points_balance"`
	LifetimePoints int64         `gorm:"not null;default:0" json:"lifetime_points"`
	Status         AccountStatus `gorm:"type:text;not null" json:"status"`
	LastAccrualAt  *time.Time    `json:"last_accrual_at,omitempty"`
	Version        int64         `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null" json:"updated_at"`
}

func (LoyaltyAccount) TableName() string { return "loyalty_accounts" }

// PointsTransaction is an immutable ledger line.
type PointsTransaction struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	LoyaltyAccountID snowflake.ID      `gorm:"not null;index:ix_points_transactions_account_time,priority:1" json:"loyalty_account_id"`
	BusinessID       snowflake.ID      `gorm:"not null;index" json:"business_id"`
	ConsumerUserID   snowflake.ID      `gorm:"not null" json:"consumer_user_id"`
	Type             TransactionType   `gorm:"type:text;not null" json:"type"`
	PointsDelta      int64             `gorm:"not null" json:"points_delta"`
	OccurredAt       time.Time         `gorm:"not null;index:ix_points_transactions_account_time,priority:2" json:"occurred_at"`
	ScanSessionID    *snowflake.ID     `gorm:"uniqueIndex" json:"scan_session_id,omitempty"`
	RewardTierID     *snowflake.ID     `json:"reward_tier_id,omitempty"`
	Note             *string           `gorm:"type:text" json:"note,omitempty"`
	Reference        *string           `gorm:"type:text" json:"reference,omitempty"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt        time.Time         `gorm:"not null" json:"created_at"`
}

func (PointsTransaction) TableName() string { return "points_transactions" }
