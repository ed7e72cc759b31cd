package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/qrtoken/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, token *domain.QrToken) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO qr_tokens (id, token_hash, owner_principal_id, purpose, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		token.ID,
		token.TokenHash,
		token.OwnerPrincipalID,
		token.Purpose,
		token.IssuedAt,
		token.ExpiresAt,
	).Error
}

func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, hash string) (*domain.QrToken, error) {
	var token domain.QrToken
	err := db.WithContext(ctx).Raw(
		`SELECT id, token_hash, owner_principal_id, purpose, issued_at, expires_at, consumed_at, revoked_at
		 FROM qr_tokens WHERE token_hash = ?`,
		hash,
	).Scan(&token).Error
	if err != nil {
		return nil, err
	}
	if token.ID == 0 {
		return nil, nil
	}
	return &token, nil
}

func (r *repo) MarkConsumed(ctx context.Context, db *gorm.DB, hash string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE qr_tokens SET consumed_at = ?
		 WHERE token_hash = ? AND consumed_at IS NULL AND revoked_at IS NULL AND expires_at > ?`,
		now,
		hash,
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) MarkRevoked(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE qr_tokens SET revoked_at = ?
		 WHERE id = ? AND consumed_at IS NULL AND revoked_at IS NULL`,
		now,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
