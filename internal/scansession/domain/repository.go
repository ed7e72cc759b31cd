package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CloseUpdate struct {
	SessionID snowflake.ID
	Status    Status
	MemberID  *snowflake.ID
	ClosedAt  time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, session *ScanSession) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ScanSession, error)
	FindByTokenID(ctx context.Context, db *gorm.DB, tokenID snowflake.ID) (*ScanSession, error)
	// MarkScanned moves a PREPARED session to SCANNED and binds the
	// scanning business. It reports false when the session was not PREPARED.
	MarkScanned(ctx context.Context, db *gorm.DB, id, businessID snowflake.ID, at time.Time) (bool, error)
	// Close moves an open session to a terminal status.
	Close(ctx context.Context, db *gorm.DB, update CloseUpdate) (bool, error)
	ListStaleIDs(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)
	ExpireByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID, now time.Time) (int64, error)
}
