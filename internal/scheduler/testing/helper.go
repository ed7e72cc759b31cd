// Package testing holds helpers that bend stored state so sweeper jobs have
// something to act on in tests.
package testing

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/clock"
	scansessiondomain "github.com/smallbiznis/loyalty/internal/scansession/domain"
	"gorm.io/gorm"
)

// TimeAccelerator moves session deadlines relative to a clock.
type TimeAccelerator struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewTimeAccelerator(db *gorm.DB, clk clock.Clock) *TimeAccelerator {
	return &TimeAccelerator{db: db, clock: clk}
}

// FastForwardSession moves expires_at one second into the past.
func (ta *TimeAccelerator) FastForwardSession(ctx context.Context, sessionID snowflake.ID) error {
	now := ta.clock.Now()
	return ta.db.WithContext(ctx).Exec(
		`UPDATE scan_sessions
		 SET expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		now.Add(-time.Second),
		now,
		sessionID,
	).Error
}

// CountByStatus returns how many sessions sit in status.
func (ta *TimeAccelerator) CountByStatus(ctx context.Context, status scansessiondomain.Status) (int64, error) {
	var count int64
	err := ta.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM scan_sessions WHERE status = ?`,
		status,
	).Scan(&count).Error
	return count, err
}

// SkewBalance changes the cached balance without a ledger line, producing
// drift for reconciliation tests.
func (ta *TimeAccelerator) SkewBalance(ctx context.Context, accountID snowflake.ID, delta int64) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE loyalty_accounts
		 SET points_balance = points_balance + ?, updated_at = ?
		 WHERE id = ?`,
		delta,
		ta.clock.Now(),
		accountID,
	).Error
}
