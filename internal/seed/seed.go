package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/clock"
	directorydomain "github.com/smallbiznis/loyalty/internal/directory/domain"
	"github.com/smallbiznis/loyalty/internal/principal"
	rewardtierdomain "github.com/smallbiznis/loyalty/internal/rewardtier/domain"
	"gorm.io/gorm"
)

const (
	demoBusinessName = "Demo Coffee"
	demoConsumerName = "Demo Consumer"
)

var demoTiers = []struct {
	Name           string
	RequiredPoints int64
}{
	{"Free Coffee", 10},
	{"Pastry", 6},
	{"Tote Bag", 40},
}

// DemoData identifies the seeded demo records.
type DemoData struct {
	BusinessID snowflake.ID
	LocationID snowflake.ID
	ProgramID  snowflake.ID
	Owner      principal.Principal
	Staff      principal.Principal
	Consumer   principal.Principal
}

// EnsureDemoData seeds one business with a program, reward tiers, an owner,
// a staff member and a consumer. Running it again returns the existing rows.
func EnsureDemoData(ctx context.Context, db *gorm.DB, node *snowflake.Node, clk clock.Clock) (DemoData, error) {
	if db == nil {
		return DemoData{}, errors.New("seed database handle is required")
	}
	if node == nil || clk == nil {
		return DemoData{}, errors.New("seed id generator and clock are required")
	}

	var data DemoData
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := clk.Now()
		business, err := ensureBusinessTx(ctx, tx, node, now)
		if err != nil {
			return err
		}
		data.BusinessID = business.ID

		if data.LocationID, err = ensureLocationTx(ctx, tx, node, business.ID, now); err != nil {
			return err
		}
		if data.ProgramID, err = ensureProgramTx(ctx, tx, node, business.ID, now); err != nil {
			return err
		}
		if err := ensureTiersTx(ctx, tx, node, business.ID, data.ProgramID, now); err != nil {
			return err
		}
		if data.Owner, err = ensureMemberTx(ctx, tx, node, business.ID, principal.RoleOwner, now); err != nil {
			return err
		}
		if data.Staff, err = ensureMemberTx(ctx, tx, node, business.ID, principal.RoleStaff, now); err != nil {
			return err
		}
		consumer, err := ensureConsumerTx(ctx, tx, node, now)
		if err != nil {
			return err
		}
		data.Consumer = principal.Principal{
			UserID: consumer.ID,
			Kind:   principal.KindConsumer,
			Role:   principal.RoleConsumer,
		}
		return nil
	})
	return data, err
}

func ensureBusinessTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, now time.Time) (directorydomain.Business, error) {
	var business directorydomain.Business
	err := tx.WithContext(ctx).Where("name = ?", demoBusinessName).First(&business).Error
	if err == nil {
		return business, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return business, err
	}
	business = directorydomain.Business{
		ID:        node.Generate(),
		Name:      demoBusinessName,
		Status:    directorydomain.BusinessStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return business, tx.WithContext(ctx).Create(&business).Error
}

func ensureLocationTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, businessID snowflake.ID, now time.Time) (snowflake.ID, error) {
	var location directorydomain.BusinessLocation
	err := tx.WithContext(ctx).Where("business_id = ?", businessID).First(&location).Error
	if err == nil {
		return location.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}
	location = directorydomain.BusinessLocation{
		ID:         node.Generate(),
		BusinessID: businessID,
		Name:       "Main Street",
		IsActive:   true,
		CreatedAt:  now,
	}
	return location.ID, tx.WithContext(ctx).Create(&location).Error
}

func ensureProgramTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, businessID snowflake.ID, now time.Time) (snowflake.ID, error) {
	var program rewardtierdomain.LoyaltyProgram
	err := tx.WithContext(ctx).Where("business_id = ?", businessID).First(&program).Error
	if err == nil {
		return program.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}
	program = rewardtierdomain.LoyaltyProgram{
		ID:         node.Generate(),
		BusinessID: businessID,
		Name:       demoBusinessName + " Rewards",
		IsActive:   true,
		CreatedAt:  now,
	}
	return program.ID, tx.WithContext(ctx).Create(&program).Error
}

func ensureTiersTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, businessID, programID snowflake.ID, now time.Time) error {
	for _, t := range demoTiers {
		var count int64
		if err := tx.WithContext(ctx).Model(&rewardtierdomain.RewardTier{}).
			Where("program_id = ? AND name = ?", programID, t.Name).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		tier := rewardtierdomain.RewardTier{
			ID:             node.Generate(),
			ProgramID:      programID,
			BusinessID:     businessID,
			Name:           t.Name,
			RequiredPoints: t.RequiredPoints,
			IsActive:       true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.WithContext(ctx).Create(&tier).Error; err != nil {
			return err
		}
	}
	return nil
}

func ensureMemberTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, businessID snowflake.ID, role string, now time.Time) (principal.Principal, error) {
	var member directorydomain.BusinessMember
	err := tx.WithContext(ctx).
		Where("business_id = ? AND role = ?", businessID, role).
		Order("created_at ASC").
		First(&member).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return principal.Principal{}, err
		}
		member = directorydomain.BusinessMember{
			ID:         node.Generate(),
			BusinessID: businessID,
			UserID:     node.Generate(),
			Role:       role,
			IsActive:   true,
			CreatedAt:  now,
		}
		if err := tx.WithContext(ctx).Create(&member).Error; err != nil {
			return principal.Principal{}, err
		}
	}
	return principal.Principal{
		UserID:     member.UserID,
		Kind:       principal.KindBusinessMember,
		BusinessID: businessID,
		MemberID:   member.ID,
		Role:       member.Role,
	}, nil
}

func ensureConsumerTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, now time.Time) (directorydomain.Consumer, error) {
	var consumer directorydomain.Consumer
	err := tx.WithContext(ctx).Where("display_name = ?", demoConsumerName).First(&consumer).Error
	if err == nil {
		return consumer, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return consumer, err
	}
	consumer = directorydomain.Consumer{
		ID:          node.Generate(),
		DisplayName: demoConsumerName,
		CreatedAt:   now,
	}
	return consumer, tx.WithContext(ctx).Create(&consumer).Error
}
