package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// BalanceUpdate is a compare-and-swap on an account row.
type BalanceUpdate struct {
	AccountID       snowflake.ID
	ExpectedVersion int64
	// MinBalance guards debits: the row must still hold at least this many points.
	MinBalance     int64
	PointsBalance  int64
	LifetimePoints int64
	LastAccrualAt  *time.Time
	UpdatedAt      time.Time
}

type TransactionFilter struct {
	AccountID  snowflake.ID
	BeforeTime *time.Time
	BeforeID   snowflake.ID
	Limit      int
}

type Repository interface {
	InsertAccountIfAbsent(ctx context.Context, db *gorm.DB, account *LoyaltyAccount) error
	FindAccountByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*LoyaltyAccount, error)
	FindAccount(ctx context.Context, db *gorm.DB, businessID, consumerID snowflake.ID) (*LoyaltyAccount, error)
	CompareAndSwapBalance(ctx context.Context, db *gorm.DB, update BalanceUpdate) (bool, error)
	CompareAndSwapStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, status AccountStatus, now time.Time) (bool, error)
	InsertTransaction(ctx context.Context, db *gorm.DB, tx *PointsTransaction) error
	ListTransactions(ctx context.Context, db *gorm.DB, filter TransactionFilter) ([]*PointsTransaction, error)
	SumTransactions(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (int64, int64, error)
	FindDriftedAccounts(ctx context.Context, db *gorm.DB, limit int) ([]ReconcileResult, error)
}
