package domain

import (
	"context"
	"errors"
)

type AccrualRequest struct {
	Token  string `json:"token" binding:"required"`
	Points int64  `json:"points" binding:"required,gt=0"`
	Note   string `json:"note" binding:"omitempty,max=255"`
}

type RedemptionRequest struct {
	Token string `json:"token" binding:"required"`
}

type AccrualResult struct {
	SessionID         string `json:"session_id"`
	LoyaltyAccountID  string `json:"loyalty_account_id"`
	TransactionID     string `json:"transaction_id"`
	PointsEarned      int64  `json:"points_earned"`
	NewBalance        int64  `json:"new_balance"`
	NewLifetimePoints int64  `json:"new_lifetime_points"`
}

type RedemptionResult struct {
	SessionID        string `json:"session_id"`
	LoyaltyAccountID string `json:"loyalty_account_id"`
	TransactionID    string `json:"transaction_id"`
	PointsSpent      int64  `json:"points_spent"`
	NewBalance       int64  `json:"new_balance"`
}

// Service applies a scanned session to the ledger. Each confirmation is a
// single transaction: token consume, ledger write, session close and audit
// row commit together or not at all.
type Service interface {
	ConfirmAccrual(ctx context.Context, req AccrualRequest) (AccrualResult, error)
	ConfirmRedemption(ctx context.Context, req RedemptionRequest) (RedemptionResult, error)
}

var (
	ErrModeMismatch           = errors.New("mode_mismatch")
	ErrSessionAlreadyConsumed = errors.New("session_already_consumed")
	ErrInvalidPoints          = errors.New("invalid_points")
	ErrEmptyRedemption        = errors.New("empty_redemption")
)
