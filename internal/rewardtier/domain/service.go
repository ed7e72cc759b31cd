package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateRewardTierRequest struct {
	ProgramID      string `json:"program_id" binding:"required"`
	Name           string `json:"name" binding:"required"`
	RequiredPoints int64  `json:"required_points" binding:"required,gt=0"`
}

type Service interface {
	// ResolveForRedemption returns the tier if the business can currently redeem it.
	ResolveForRedemption(ctx context.Context, businessID, tierID snowflake.ID) (RewardTier, error)
	Get(ctx context.Context, tierID snowflake.ID) (RewardTier, error)
	Create(ctx context.Context, req CreateRewardTierRequest) (RewardTier, error)
	UpdateRequiredPoints(ctx context.Context, tierID snowflake.ID, points int64) (RewardTier, error)
	SetActive(ctx context.Context, tierID snowflake.ID, active bool) (RewardTier, error)
}

var (
	ErrInactiveRewardTier    = errors.New("inactive_reward_tier")
	ErrRewardTierNotFound    = errors.New("reward_tier_not_found")
	ErrProgramNotFound       = errors.New("loyalty_program_not_found")
	ErrInvalidName           = errors.New("invalid_name")
	ErrInvalidRequiredPoints = errors.New("invalid_required_points")
)
