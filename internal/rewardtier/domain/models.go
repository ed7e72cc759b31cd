package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type LoyaltyProgram struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	BusinessID snowflake.ID `gorm:"not null;index" json:"business_id"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	IsActive   bool         `gorm:"not null" json:"is_active"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
}

func (LoyaltyProgram) TableName() string { return "loyalty_programs" }

// RewardTier is a points-cost and reward pair within a program. RequiredPoints
// is the live price; scan sessions snapshot it at prepare time.
type RewardTier struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	ProgramID      snowflake.ID `gorm:"not null;index" json:"program_id"`
	BusinessID     snowflake.ID `gorm:"not null;index" json:"business_id"`
	Name           string       `gorm:"type:text;not null" json:"name"`
	RequiredPoints int64        `gorm:"not null" json:"required_points"`
	IsActive       bool         `gorm:"not null" json:"is_active"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (RewardTier) TableName() string { return "reward_tiers" }
