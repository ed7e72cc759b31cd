package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service answers the business and consumer questions the loyalty core asks.
type Service interface {
	EnsureActiveBusiness(ctx context.Context, businessID snowflake.ID) (Business, error)
	EnsureLocation(ctx context.Context, businessID, locationID snowflake.ID) error
	ConsumerDisplayName(ctx context.Context, consumerID snowflake.ID) (string, error)
	ResolveMember(ctx context.Context, businessID, userID snowflake.ID) (BusinessMember, error)
}

var (
	ErrInvalidBusiness = errors.New("invalid_business")
	ErrInvalidLocation = errors.New("invalid_location")
	ErrMemberNotFound  = errors.New("business_member_not_found")
	ErrMemberInactive  = errors.New("business_member_inactive")
)
