package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/scansession/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const sessionColumns = `id, token_id, consumer_user_id, loyalty_account_id, account_business_id, business_id,
	business_location_id, mode, status, selected_rewards, created_at, expires_at, scanned_at, closed_at,
	consumed_by_business_member_id, updated_at`

var openStatuses = []domain.Status{domain.StatusPrepared, domain.StatusScanned}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, session *domain.ScanSession) error {
	return db.WithContext(ctx).Create(session).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ScanSession, error) {
	return r.findOne(ctx, db, `SELECT `+sessionColumns+` FROM scan_sessions WHERE id = ?`, id)
}

func (r *repo) FindByTokenID(ctx context.Context, db *gorm.DB, tokenID snowflake.ID) (*domain.ScanSession, error) {
	return r.findOne(ctx, db, `SELECT `+sessionColumns+` FROM scan_sessions WHERE token_id = ?`, tokenID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*domain.ScanSession, error) {
	var session domain.ScanSession
	if err := db.WithContext(ctx).Raw(query, arg).Scan(&session).Error; err != nil {
		return nil, err
	}
	if session.ID == 0 {
		return nil, nil
	}
	return &session, nil
}

func (r *repo) MarkScanned(ctx context.Context, db *gorm.DB, id, businessID snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE scan_sessions
		 SET status = ?, business_id = ?, scanned_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND closed_at IS NULL`,
		domain.StatusScanned,
		businessID,
		at,
		at,
		id,
		domain.StatusPrepared,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Close(ctx context.Context, db *gorm.DB, update domain.CloseUpdate) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE scan_sessions
		 SET status = ?, closed_at = ?, consumed_by_business_member_id = ?, updated_at = ?
		 WHERE id = ? AND status IN ? AND closed_at IS NULL`,
		update.Status,
		update.ClosedAt,
		update.MemberID,
		update.ClosedAt,
		update.SessionID,
		openStatuses,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListStaleIDs(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM scan_sessions
		 WHERE status IN ? AND expires_at <= ?
		 ORDER BY expires_at ASC
		 LIMIT ?`,
		openStatuses,
		now,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ExpireByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE scan_sessions
		 SET status = ?, closed_at = ?, updated_at = ?
		 WHERE id IN ? AND status IN ? AND closed_at IS NULL AND expires_at <= ?`,
		domain.StatusExpired,
		now,
		now,
		ids,
		openStatuses,
		now,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
