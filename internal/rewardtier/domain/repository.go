package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindProgram(ctx context.Context, db *gorm.DB, businessID, id snowflake.ID) (*LoyaltyProgram, error)
	FindTier(ctx context.Context, db *gorm.DB, businessID, id snowflake.ID) (*RewardTier, error)
	// FindRedeemableTier returns the tier only when it and its program are active.
	FindRedeemableTier(ctx context.Context, db *gorm.DB, businessID, id snowflake.ID) (*RewardTier, error)
	InsertTier(ctx context.Context, db *gorm.DB, tier *RewardTier) error
	UpdateRequiredPoints(ctx context.Context, db *gorm.DB, businessID, id snowflake.ID, points int64, now time.Time) (bool, error)
	UpdateActive(ctx context.Context, db *gorm.DB, businessID, id snowflake.ID, active bool, now time.Time) (bool, error)
}
