package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/directory/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("directory.service"),
		repo: p.Repo,
	}
}

func (s *Service) EnsureActiveBusiness(ctx context.Context, businessID snowflake.ID) (domain.Business, error) {
	if businessID == 0 {
		return domain.Business{}, domain.ErrInvalidBusiness
	}
	business, err := s.repo.FindBusiness(ctx, s.db, businessID)
	if err != nil {
		return domain.Business{}, err
	}
	if business == nil || business.Status != domain.BusinessStatusActive {
		return domain.Business{}, domain.ErrInvalidBusiness
	}
	return *business, nil
}

func (s *Service) EnsureLocation(ctx context.Context, businessID, locationID snowflake.ID) error {
	if locationID == 0 {
		return domain.ErrInvalidLocation
	}
	location, err := s.repo.FindLocation(ctx, s.db, businessID, locationID)
	if err != nil {
		return err
	}
	if location == nil || !location.IsActive {
		return domain.ErrInvalidLocation
	}
	return nil
}

// ConsumerDisplayName returns an empty name for consumers without a profile row.
func (s *Service) ConsumerDisplayName(ctx context.Context, consumerID snowflake.ID) (string, error) {
	consumer, err := s.repo.FindConsumer(ctx, s.db, consumerID)
	if err != nil {
		return "", err
	}
	if consumer == nil {
		return "", nil
	}
	return strings.TrimSpace(consumer.DisplayName), nil
}

func (s *Service) ResolveMember(ctx context.Context, businessID, userID snowflake.ID) (domain.BusinessMember, error) {
	member, err := s.repo.FindMemberByUser(ctx, s.db, businessID, userID)
	if err != nil {
		return domain.BusinessMember{}, err
	}
	if member == nil {
		return domain.BusinessMember{}, domain.ErrMemberNotFound
	}
	if !member.IsActive {
		return domain.BusinessMember{}, domain.ErrMemberInactive
	}
	return *member, nil
}
