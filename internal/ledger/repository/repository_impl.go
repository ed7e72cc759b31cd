package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const accountColumns = `id, business_id, consumer_user_id, points_balance, lifetime_points, status,
	last_accrual_at, version, created_at, updated_at`

func (r *repo) InsertAccountIfAbsent(ctx context.Context, db *gorm.DB, account *domain.LoyaltyAccount) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "business_id"}, {Name: "consumer_user_id"}},
			DoNothing: true,
		}).
		Create(account).Error
}

func (r *repo) FindAccountByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.LoyaltyAccount, error) {
	var account domain.LoyaltyAccount
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM loyalty_accounts WHERE id = ?`,
		id,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindAccount(ctx context.Context, db *gorm.DB, businessID, consumerID snowflake.ID) (*domain.LoyaltyAccount, error) {
	var account domain.LoyaltyAccount
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM loyalty_accounts WHERE business_id = ? AND consumer_user_id = ?`,
		businessID,
		consumerID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) CompareAndSwapBalance(ctx context.Context, db *gorm.DB, update domain.BalanceUpdate) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE loyalty_accounts
		 SET points_balance = ?, lifetime_points = ?, last_accrual_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND points_balance >= ?`,
		update.PointsBalance,
		update.LifetimePoints,
		update.LastAccrualAt,
		update.UpdatedAt,
		update.AccountID,
		update.ExpectedVersion,
		update.MinBalance,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) CompareAndSwapStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, status domain.AccountStatus, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE loyalty_accounts SET status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		status,
		now,
		id,
		expectedVersion,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.PointsTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO points_transactions (
			id, loyalty_account_id, business_id, consumer_user_id, type, points_delta, occurred_at,
			scan_session_id, reward_tier_id, note, reference, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.LoyaltyAccountID,
		txn.BusinessID,
		txn.ConsumerUserID,
		txn.Type,
		txn.PointsDelta,
		txn.OccurredAt,
		txn.ScanSessionID,
		txn.RewardTierID,
		txn.Note,
		txn.Reference,
		txn.Metadata,
		txn.CreatedAt,
	).Error
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, filter domain.TransactionFilter) ([]*domain.PointsTransaction, error) {
	var txns []*domain.PointsTransaction
	stmt := db.WithContext(ctx).
		Model(&domain.PointsTransaction{}).
		Where("loyalty_account_id = ?", filter.AccountID)
	if filter.BeforeTime != nil {
		stmt = stmt.Where("(occurred_at < ? OR (occurred_at = ? AND id < ?))", *filter.BeforeTime, *filter.BeforeTime, filter.BeforeID)
	}
	err := stmt.
		Order("occurred_at desc, id desc").
		Limit(filter.Limit).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repo) SumTransactions(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (int64, int64, error) {
	var row struct {
		Total int64
		Count int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(points_delta), 0) AS total, COUNT(*) AS count
		 FROM points_transactions WHERE loyalty_account_id = ?`,
		accountID,
	).Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Total, row.Count, nil
}

func (r *repo) FindDriftedAccounts(ctx context.Context, db *gorm.DB, limit int) ([]domain.ReconcileResult, error) {
	var results []domain.ReconcileResult
	err := db.WithContext(ctx).Raw(
		`SELECT a.id AS account_id, a.points_balance, COALESCE(t.total, 0) AS ledger_sum,
		        COALESCE(t.cnt, 0) AS transaction_count
		 FROM loyalty_accounts a
		 LEFT JOIN (
			SELECT loyalty_account_id, SUM(points_delta) AS total, COUNT(*) AS cnt
			FROM points_transactions GROUP BY loyalty_account_id
		 ) t ON t.loyalty_account_id = a.id
		 WHERE a.points_balance <> COALESCE(t.total, 0)
		 ORDER BY a.id
		 LIMIT ?`,
		limit,
	).Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
