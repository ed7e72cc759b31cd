package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, token *QrToken) error
	FindByHash(ctx context.Context, db *gorm.DB, hash string) (*QrToken, error)
	// MarkConsumed sets consumed_at only while the token is still usable at now.
	MarkConsumed(ctx context.Context, db *gorm.DB, hash string, now time.Time) (bool, error)
	MarkRevoked(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
}
