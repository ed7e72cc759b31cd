package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository lookups return nil, nil when the row does not exist.
type Repository interface {
	FindBusiness(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Business, error)
	FindLocation(ctx context.Context, db *gorm.DB, businessID, id snowflake.ID) (*BusinessLocation, error)
	FindMemberByUser(ctx context.Context, db *gorm.DB, businessID, userID snowflake.ID) (*BusinessMember, error)
	FindConsumer(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Consumer, error)
}
