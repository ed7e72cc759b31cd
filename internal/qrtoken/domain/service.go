package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Service mints and validates opaque single-use tokens. Validation never
// consumes; consumption is an explicit compare-and-swap.
type Service interface {
	Issue(ctx context.Context, ownerID snowflake.ID, purpose string, ttl time.Duration) (IssuedToken, error)
	IssueTx(ctx context.Context, tx *gorm.DB, ownerID snowflake.ID, purpose string, ttl time.Duration) (IssuedToken, error)
	Validate(ctx context.Context, value string) (Claims, error)
	// Inspect loads the token without any state checks. db may be nil.
	Inspect(ctx context.Context, db *gorm.DB, value string) (QrToken, error)
	Consume(ctx context.Context, value string) error
	ConsumeTx(ctx context.Context, tx *gorm.DB, value string) error
	Revoke(ctx context.Context, tx *gorm.DB, tokenID snowflake.ID) error
}

var (
	ErrInvalidTTL           = errors.New("invalid_ttl")
	ErrInvalidPurpose       = errors.New("invalid_purpose")
	ErrInvalidOwner         = errors.New("invalid_owner")
	ErrTokenNotFound        = errors.New("token_not_found")
	ErrTokenExpired         = errors.New("token_expired")
	ErrTokenAlreadyConsumed = errors.New("token_already_consumed")
	ErrTokenRevoked         = errors.New("token_revoked")
)
