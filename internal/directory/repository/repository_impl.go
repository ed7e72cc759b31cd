package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/directory/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindBusiness(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Business, error) {
	var business domain.Business
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, status, created_at, updated_at FROM businesses WHERE id = ?`,
		id,
	).Scan(&business).Error
	if err != nil {
		return nil, err
	}
	if business.ID == 0 {
		return nil, nil
	}
	return &business, nil
}

func (r *repo) FindLocation(ctx context.Context, db *gorm.DB, businessID, id snowflake.ID) (*domain.BusinessLocation, error) {
	var location domain.BusinessLocation
	err := db.WithContext(ctx).Raw(
		`SELECT id, business_id, name, is_active, created_at
		 FROM business_locations WHERE business_id = ? AND id = ?`,
		businessID,
		id,
	).Scan(&location).Error
	if err != nil {
		return nil, err
	}
	if location.ID == 0 {
		return nil, nil
	}
	return &location, nil
}

func (r *repo) FindMemberByUser(ctx context.Context, db *gorm.DB, businessID, userID snowflake.ID) (*domain.BusinessMember, error) {
	var member domain.BusinessMember
	err := db.WithContext(ctx).Raw(
		`SELECT id, business_id, user_id, role, is_active, created_at
		 FROM business_members WHERE business_id = ? AND user_id = ?`,
		businessID,
		userID,
	).Scan(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == 0 {
		return nil, nil
	}
	return &member, nil
}

func (r *repo) FindConsumer(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Consumer, error) {
	var consumer domain.Consumer
	err := db.WithContext(ctx).Raw(
		`SELECT id, display_name, created_at FROM consumers WHERE id = ?`,
		id,
	).Scan(&consumer).Error
	if err != nil {
		return nil, err
	}
	if consumer.ID == 0 {
		return nil, nil
	}
	return &consumer, nil
}
