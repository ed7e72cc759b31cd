package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
	"gorm.io/gorm"
)

// AccrualEntry credits points earned through a confirmed scan session.
type AccrualEntry struct {
	AccountID     snowflake.ID
	Points        int64
	ScanSessionID snowflake.ID
	Note          string
	Reference     string
	Metadata      map[string]any
}

// RedemptionEntry debits the cost of rewards redeemed through a scan session.
type RedemptionEntry struct {
	AccountID     snowflake.ID
	Cost          int64
	ScanSessionID snowflake.ID
	RewardTierID  snowflake.ID
	Metadata      map[string]any
}

type AdjustRequest struct {
	AccountID   snowflake.ID
	PointsDelta int64
	Note        string
}

type MutationResult struct {
	AccountID         snowflake.ID `json:"loyalty_account_id"`
	TransactionID     snowflake.ID `json:"transaction_id"`
	PointsDelta       int64        `json:"points_delta"`
	NewBalance        int64        `json:"new_balance"`
	NewLifetimePoints int64        `json:"new_lifetime_points"`
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []PointsTransaction `json:"transactions"`
}

type ReconcileResult struct {
	AccountID        snowflake.ID `json:"loyalty_account_id"`
	PointsBalance    int64        `json:"points_balance"`
	LedgerSum        int64        `json:"ledger_sum"`
	TransactionCount int64        `json:"transaction_count"`
	Consistent       bool         `json:"consistent"`
	CheckedAt        time.Time    `json:"checked_at"`
}

// Service owns every balance mutation. The *Tx variants run inside the
// caller's transaction so the ledger line, the balance update and the
// caller's own writes commit together.
type Service interface {
	EnsureAccount(ctx context.Context, businessID, consumerID snowflake.ID) (LoyaltyAccount, error)
	EnsureAccountTx(ctx context.Context, tx *gorm.DB, businessID, consumerID snowflake.ID) (LoyaltyAccount, error)
	GetAccount(ctx context.Context, accountID snowflake.ID) (LoyaltyAccount, error)
	FindAccount(ctx context.Context, businessID, consumerID snowflake.ID) (LoyaltyAccount, error)
	AccrueTx(ctx context.Context, tx *gorm.DB, entry AccrualEntry) (MutationResult, error)
	RedeemTx(ctx context.Context, tx *gorm.DB, entry RedemptionEntry) (MutationResult, error)
	Adjust(ctx context.Context, req AdjustRequest) (MutationResult, error)
	SetStatus(ctx context.Context, accountID snowflake.ID, status AccountStatus) (LoyaltyAccount, error)
	ListTransactions(ctx context.Context, accountID snowflake.ID, page pagination.Pagination) (ListTransactionsResponse, error)
	Reconcile(ctx context.Context, accountID snowflake.ID) (ReconcileResult, error)
	FindDrift(ctx context.Context, limit int) ([]ReconcileResult, error)
}

var (
	ErrAccountNotFound         = errors.New("loyalty_account_not_found")
	ErrAccountSuspended        = errors.New("account_suspended")
	ErrAccountClosed           = errors.New("account_closed")
	ErrInsufficientPoints      = errors.New("insufficient_points")
	ErrConcurrencyConflict     = errors.New("concurrency_conflict")
	ErrInvalidPoints           = errors.New("invalid_points")
	ErrInvalidStatus           = errors.New("invalid_account_status")
	ErrInvalidStatusTransition = errors.New("invalid_account_status_transition")
	ErrSessionAlreadyApplied   = errors.New("scan_session_already_applied")
	ErrInvalidBusiness         = errors.New("invalid_business")
	ErrInvalidConsumer         = errors.New("invalid_consumer")
)
