package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const MaxRewardQuantity = 99

type RewardSelection struct {
	RewardTierID string `json:"reward_tier_id" binding:"required,snowflake_id"`
	Quantity     int64  `json:"quantity" binding:"omitempty,gte=1,lte=99"`
}

type PrepareRequest struct {
	BusinessID string            `json:"business_id" binding:"required,snowflake_id"`
	LocationID string            `json:"location_id" binding:"omitempty,snowflake_id"`
	Mode       string            `json:"mode" binding:"required,oneof=accrual redemption"`
	Rewards    []RewardSelection `json:"rewards" binding:"omitempty,dive"`
}

// RewardLine is the consumer and staff facing view of a snapshotted reward.
type RewardLine struct {
	RewardTierID          string `json:"reward_tier_id"`
	Name                  string `json:"name"`
	Quantity              int64  `json:"quantity"`
	RequiredPointsPerUnit int64  `json:"required_points_per_unit"`
	Cost                  int64  `json:"cost"`
}

// PrepareResponse goes to the consumer device. It carries no session or
// account identifiers; the token is the only handle.
type PrepareResponse struct {
	Token           string       `json:"token"`
	QRCodePNG       string       `json:"qr_code_png"`
	Mode            Mode         `json:"mode"`
	ExpiresAt       time.Time    `json:"expires_at"`
	CurrentBalance  int64        `json:"current_balance"`
	SelectedRewards []RewardLine `json:"selected_rewards"`
	TotalCost       int64        `json:"total_cost"`
}

type AllowedActions struct {
	CanConfirmAccrual    bool `json:"can_confirm_accrual"`
	CanConfirmRedemption bool `json:"can_confirm_redemption"`
}

type ProcessResponse struct {
	SessionID           string         `json:"session_id"`
	LoyaltyAccountID    string         `json:"loyalty_account_id"`
	Mode                Mode           `json:"mode"`
	ConsumerDisplayName string         `json:"consumer_display_name"`
	CurrentBalance      int64          `json:"current_balance"`
	SelectedRewards     []RewardLine   `json:"selected_rewards"`
	TotalCost           int64          `json:"total_cost"`
	ExpiresAt           time.Time      `json:"expires_at"`
	AllowedActions      AllowedActions `json:"allowed_actions"`
}

type Service interface {
	Prepare(ctx context.Context, req PrepareRequest) (PrepareResponse, error)
	Process(ctx context.Context, tokenValue string) (ProcessResponse, error)
	Cancel(ctx context.Context, tokenValue string) error
	// LoadForConfirmation runs the Process checks for businessID without
	// touching the session. db may be a transaction or nil.
	LoadForConfirmation(ctx context.Context, db *gorm.DB, tokenValue string, businessID snowflake.ID) (ScanSession, error)
	CloseTx(ctx context.Context, tx *gorm.DB, sessionID snowflake.ID, status Status, memberID snowflake.ID, now time.Time) error
	ExpireStale(ctx context.Context, now time.Time, limit int) (int64, error)
}

var (
	ErrInvalidMode          = errors.New("invalid_mode")
	ErrNoRewardsSelected    = errors.New("no_rewards_selected")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrSessionNotFound      = errors.New("scan_session_not_found")
	ErrSessionExpired       = errors.New("session_expired")
	ErrSessionAlreadyClosed = errors.New("session_already_closed")
	ErrBusinessMismatch     = errors.New("business_mismatch")
	ErrInvalidCloseStatus   = errors.New("invalid_close_status")
)
