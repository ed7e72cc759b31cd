package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/rewardtier/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const tierColumns = `t.id, t.program_id, t.business_id, t.name, t.required_points, t.is_active, t.created_at, t.updated_at`

func (r *repo) FindProgram(ctx context.Context, db *gorm.DB, businessID, id snowflake.ID) (*domain.LoyaltyProgram, error) {
	var program domain.LoyaltyProgram
	err := db.WithContext(ctx).Raw(
		`SELECT id, business_id, name, is_active, created_at
		 FROM loyalty_programs WHERE business_id = ? AND id = ?`,
		businessID,
		id,
	).Scan(&program).Error
	if err != nil {
		return nil, err
	}
	if program.ID == 0 {
		return nil, nil
	}
	return &program, nil
}

func (r *repo) FindTier(ctx context.Context, db *gorm.DB, businessID, id snowflake.ID) (*domain.RewardTier, error) {
	var tier domain.RewardTier
	err := db.WithContext(ctx).Raw(
		`SELECT `+tierColumns+` FROM reward_tiers t WHERE t.business_id = ? AND t.id = ?`,
		businessID,
		id,
	).Scan(&tier).Error
	if err != nil {
		return nil, err
	}
	if tier.ID == 0 {
		return nil, nil
	}
	return &tier, nil
}

func (r *repo) FindRedeemableTier(ctx context.Context, db *gorm.DB, businessID, id snowflake.ID) (*domain.RewardTier, error) {
	var tier domain.RewardTier
	err := db.WithContext(ctx).Raw(
		`SELECT `+tierColumns+`
		 FROM reward_tiers t
		 JOIN loyalty_programs p ON p.id = t.program_id AND p.business_id = t.business_id
		 WHERE t.business_id = ? AND t.id = ? AND t.is_active = ? AND p.is_active = ?`,
		businessID,
		id,
		true,
		true,
	).Scan(&tier).Error
	if err != nil {
		return nil, err
	}
	if tier.ID == 0 {
		return nil, nil
	}
	return &tier, nil
}

func (r *repo) InsertTier(ctx context.Context, db *gorm.DB, tier *domain.RewardTier) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO reward_tiers (id, program_id, business_id, name, required_points, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tier.ID,
		tier.ProgramID,
		tier.BusinessID,
		tier.Name,
		tier.RequiredPoints,
		tier.IsActive,
		tier.CreatedAt,
		tier.UpdatedAt,
	).Error
}

func (r *repo) UpdateRequiredPoints(ctx context.Context, db *gorm.DB, businessID, id snowflake.ID, points int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE reward_tiers SET required_points = ?, updated_at = ? WHERE business_id = ? AND id = ?`,
		points,
		now,
		businessID,
		id,
	)
	return result.RowsAffected > 0, result.Error
}

func (r *repo) UpdateActive(ctx context.Context, db *gorm.DB, businessID, id snowflake.ID, active bool, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE reward_tiers SET is_active = ?, updated_at = ? WHERE business_id = ? AND id = ?`,
		active,
		now,
		businessID,
		id,
	)
	return result.RowsAffected > 0, result.Error
}
