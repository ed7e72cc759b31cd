package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const PurposeScanSession = "scan_session"

// QrToken is the server-side record of an opaque single-use token. Only the
// keyed digest of the value is stored.
type QrToken struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	TokenHash        string       `gorm:"type:text;not null;uniqueIndex"`
	OwnerPrincipalID snowflake.ID `gorm:"not null;index"`
	Purpose          string       `gorm:"type:text;not null"`
	IssuedAt         time.Time    `gorm:"not null"`
	ExpiresAt        time.Time    `gorm:"not null;index"`
	ConsumedAt       *time.Time
	RevokedAt        *time.Time
}

func (QrToken) TableName() string { return "qr_tokens" }

// CheckUsable reports why the token cannot be accepted at now, in the order
// revoked, consumed, expired.
func (t QrToken) CheckUsable(now time.Time) error {
	switch {
	case t.RevokedAt != nil:
		return ErrTokenRevoked
	case t.ConsumedAt != nil:
		return ErrTokenAlreadyConsumed
	case !now.Before(t.ExpiresAt):
		return ErrTokenExpired
	default:
		return nil
	}
}

// IssuedToken carries the raw value. It is returned exactly once.
type IssuedToken struct {
	Value     string
	TokenID   snowflake.ID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// String keeps the raw value out of %v formatting and logs.
func (t IssuedToken) String() string {
	return "IssuedToken{id=" + t.TokenID.String() + "}"
}

type Claims struct {
	TokenID          snowflake.ID
	OwnerPrincipalID snowflake.ID
	Purpose          string
	ExpiresAt        time.Time
}
