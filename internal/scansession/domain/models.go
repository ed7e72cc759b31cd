package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Mode string

const (
	ModeAccrual    Mode = "accrual"
	ModeRedemption Mode = "redemption"
)

func (m Mode) Valid() bool {
	return m == ModeAccrual || m == ModeRedemption
}

type Status string

const (
	StatusPrepared            Status = "PREPARED"
	StatusScanned             Status = "SCANNED"
	StatusConfirmedAccrual    Status = "CONFIRMED_ACCRUAL"
	StatusConfirmedRedemption Status = "CONFIRMED_REDEMPTION"
	StatusExpired             Status = "EXPIRED"
	StatusCancelled           Status = "CANCELLED"
)

func (s Status) Open() bool {
	return s == StatusPrepared || s == StatusScanned
}

// SelectedReward is the reward line frozen at prepare time. The per-unit
// price is never re-read from the tier afterwards.
type SelectedReward struct {
	RewardTierID          snowflake.ID `json:"reward_tier_id"`
	Name                  string       `json:"name"`
	Quantity              int64        `json:"quantity"`
	RequiredPointsPerUnit int64        `json:"required_points_per_unit"`
}

func (r SelectedReward) Cost() int64 {
	return r.RequiredPointsPerUnit * r.Quantity
}

type ScanSession struct {
	ID                         snowflake.ID  `gorm:"primaryKey"`
	TokenID                    snowflake.ID  `gorm:"not null;uniqueIndex"`
	ConsumerUserID             snowflake.ID  `gorm:"not null;index"`
	LoyaltyAccountID           snowflake.ID  `gorm:"not null;index"`
	AccountBusinessID          snowflake.ID  `gorm:"not null"`
	BusinessID                 *snowflake.ID `gorm:"index"`
	BusinessLocationID         *snowflake.ID
	Mode                       Mode                                `gorm:"type:text;not null"`
	Status                     Status                              `gorm:"type:text;not null;index:idx_scan_sessions_open,priority:1"`
	SelectedRewards            datatypes.JSONSlice[SelectedReward] `gorm:"not null"`
	CreatedAt                  time.Time                           `gorm:"not null"`
	ExpiresAt                  time.Time                           `gorm:"not null;index:idx_scan_sessions_open,priority:2"`
	ScannedAt                  *time.Time
	ClosedAt                   *time.Time
	ConsumedByBusinessMemberID *snowflake.ID
	UpdatedAt                  time.Time `gorm:"not null"`
}

func (ScanSession) TableName() string { return "scan_sessions" }

func (s ScanSession) TotalCost() int64 {
	var total int64
	for _, reward := range s.SelectedRewards {
		total += reward.Cost()
	}
	return total
}

// Expired reports whether the session can no longer be acted on at now,
// regardless of its token.
func (s ScanSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s ScanSession) Closed() bool {
	return s.ClosedAt != nil || !s.Status.Open()
}
