package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/principal"
	"github.com/smallbiznis/loyalty/internal/rewardtier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("rewardtier.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) ResolveForRedemption(ctx context.Context, businessID, tierID snowflake.ID) (domain.RewardTier, error) {
	if businessID == 0 || tierID == 0 {
		return domain.RewardTier{}, domain.ErrInactiveRewardTier
	}
	tier, err := s.repo.FindRedeemableTier(ctx, s.db, businessID, tierID)
	if err != nil {
		return domain.RewardTier{}, err
	}
	if tier == nil {
		return domain.RewardTier{}, domain.ErrInactiveRewardTier
	}
	return *tier, nil
}

func (s *Service) Get(ctx context.Context, tierID snowflake.ID) (domain.RewardTier, error) {
	p, err := principal.BusinessMember(ctx)
	if err != nil {
		return domain.RewardTier{}, err
	}
	return s.load(ctx, p.BusinessID, tierID)
}

func (s *Service) Create(ctx context.Context, req domain.CreateRewardTierRequest) (domain.RewardTier, error) {
	p, err := principal.BusinessMember(ctx)
	if err != nil {
		return domain.RewardTier{}, err
	}

	programID, err := snowflake.ParseString(strings.TrimSpace(req.ProgramID))
	if err != nil {
		return domain.RewardTier{}, domain.ErrProgramNotFound
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.RewardTier{}, domain.ErrInvalidName
	}
	if req.RequiredPoints <= 0 {
		return domain.RewardTier{}, domain.ErrInvalidRequiredPoints
	}

	program, err := s.repo.FindProgram(ctx, s.db, p.BusinessID, programID)
	if err != nil {
		return domain.RewardTier{}, err
	}
	if program == nil {
		return domain.RewardTier{}, domain.ErrProgramNotFound
	}

	now := s.clock.Now()
	tier := domain.RewardTier{
		ID:             s.genID.Generate(),
		ProgramID:      program.ID,
		BusinessID:     p.BusinessID,
		Name:           name,
		RequiredPoints: req.RequiredPoints,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.InsertTier(ctx, s.db, &tier); err != nil {
		return domain.RewardTier{}, err
	}

	s.log.Info("reward tier created",
		zap.String("business_id", p.BusinessID.String()),
		zap.String("reward_tier_id", tier.ID.String()),
		zap.Int64("required_points", tier.RequiredPoints),
	)
	return tier, nil
}

// UpdateRequiredPoints reprices a tier. Sessions prepared earlier keep the price
// they snapshotted.
func (s *Service) UpdateRequiredPoints(ctx context.Context, tierID snowflake.ID, points int64) (domain.RewardTier, error) {
	p, err := principal.BusinessMember(ctx)
	if err != nil {
		return domain.RewardTier{}, err
	}
	if points <= 0 {
		return domain.RewardTier{}, domain.ErrInvalidRequiredPoints
	}

	updated, err := s.repo.UpdateRequiredPoints(ctx, s.db, p.BusinessID, tierID, points, s.clock.Now())
	if err != nil {
		return domain.RewardTier{}, err
	}
	if !updated {
		return domain.RewardTier{}, domain.ErrRewardTierNotFound
	}
	return s.load(ctx, p.BusinessID, tierID)
}

func (s *Service) SetActive(ctx context.Context, tierID snowflake.ID, active bool) (domain.RewardTier, error) {
	p, err := principal.BusinessMember(ctx)
	if err != nil {
		return domain.RewardTier{}, err
	}

	updated, err := s.repo.UpdateActive(ctx, s.db, p.BusinessID, tierID, active, s.clock.Now())
	if err != nil {
		return domain.RewardTier{}, err
	}
	if !updated {
		return domain.RewardTier{}, domain.ErrRewardTierNotFound
	}
	return s.load(ctx, p.BusinessID, tierID)
}

func (s *Service) load(ctx context.Context, businessID, tierID snowflake.ID) (domain.RewardTier, error) {
	tier, err := s.repo.FindTier(ctx, s.db, businessID, tierID)
	if err != nil {
		return domain.RewardTier{}, err
	}
	if tier == nil {
		return domain.RewardTier{}, domain.ErrRewardTierNotFound
	}
	return *tier, nil
}
