package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"github.com/smallbiznis/loyalty/internal/qrtoken/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Protocol *config.ProtocolConfigHolder
	Repo     domain.Repository
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	protocol *config.ProtocolConfigHolder
	repo     domain.Repository
	digester *Digester
	metrics  *obsmetrics.Metrics
}

func New(p Params) (domain.Service, error) {
	log := p.Log.Named("qrtoken.service")
	key := strings.TrimSpace(p.Config.QRTokenHashKey)
	if key == "" {
		if p.Config.IsProduction() {
			return nil, errors.New("QR_TOKEN_HASH_KEY is required in production")
		}
		log.Warn("QR_TOKEN_HASH_KEY not set, token digests are unkeyed")
	}
	digester, err := NewDigester(key)
	if err != nil {
		return nil, err
	}

	return &Service{
		db:       p.DB,
		log:      log,
		genID:    p.GenID,
		clock:    p.Clock,
		protocol: p.Protocol,
		repo:     p.Repo,
		digester: digester,
		metrics:  p.Metrics,
	}, nil
}

func (s *Service) Issue(ctx context.Context, ownerID snowflake.ID, purpose string, ttl time.Duration) (domain.IssuedToken, error) {
	return s.IssueTx(ctx, s.db, ownerID, purpose, ttl)
}

func (s *Service) IssueTx(ctx context.Context, tx *gorm.DB, ownerID snowflake.ID, purpose string, ttl time.Duration) (domain.IssuedToken, error) {
	if ownerID == 0 {
		return domain.IssuedToken{}, domain.ErrInvalidOwner
	}
	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return domain.IssuedToken{}, domain.ErrInvalidPurpose
	}
	if ttl <= 0 || ttl > s.protocol.Get().MaxTokenTTL {
		return domain.IssuedToken{}, domain.ErrInvalidTTL
	}

	value, err := newTokenValue()
	if err != nil {
		return domain.IssuedToken{}, err
	}

	now := s.clock.Now()
	token := domain.QrToken{
		ID:               s.genID.Generate(),
		TokenHash:        s.digester.Digest(value),
		OwnerPrincipalID: ownerID,
		Purpose:          purpose,
		IssuedAt:         now,
		ExpiresAt:        now.Add(ttl),
	}
	if err := s.repo.Insert(ctx, tx, &token); err != nil {
		return domain.IssuedToken{}, err
	}

	s.metrics.RecordTokenIssued(ctx, purpose)
	s.log.Debug("qr token issued",
		zap.String("token_id", token.ID.String()),
		zap.String("purpose", purpose),
		zap.Time("expires_at", token.ExpiresAt),
	)

	return domain.IssuedToken{
		Value:     value,
		TokenID:   token.ID,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

func (s *Service) Validate(ctx context.Context, value string) (domain.Claims, error) {
	token, err := s.Inspect(ctx, nil, value)
	if err != nil {
		return domain.Claims{}, err
	}
	if err := token.CheckUsable(s.clock.Now()); err != nil {
		return domain.Claims{}, err
	}
	return domain.Claims{
		TokenID:          token.ID,
		OwnerPrincipalID: token.OwnerPrincipalID,
		Purpose:          token.Purpose,
		ExpiresAt:        token.ExpiresAt,
	}, nil
}

func (s *Service) Inspect(ctx context.Context, db *gorm.DB, value string) (domain.QrToken, error) {
	if db == nil {
		db = s.db
	}
	value = strings.TrimSpace(value)
	if !wellFormed(value) {
		return domain.QrToken{}, domain.ErrTokenNotFound
	}
	token, err := s.repo.FindByHash(ctx, db, s.digester.Digest(value))
	if err != nil {
		return domain.QrToken{}, err
	}
	if token == nil {
		return domain.QrToken{}, domain.ErrTokenNotFound
	}
	return *token, nil
}

func (s *Service) Consume(ctx context.Context, value string) error {
	return s.ConsumeTx(ctx, s.db, value)
}

// ConsumeTx is the single winner-takes-all transition of a token. Expiry is
// decided against the clock before the conditional update; the update itself
// only races on consumed_at and revoked_at.
func (s *Service) ConsumeTx(ctx context.Context, tx *gorm.DB, value string) error {
	token, err := s.Inspect(ctx, tx, value)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if err := token.CheckUsable(now); err != nil {
		return err
	}

	won, err := s.repo.MarkConsumed(ctx, tx, token.TokenHash, now)
	if err != nil {
		return err
	}
	if won {
		return nil
	}

	// lost the race: report what the winner did
	current, err := s.repo.FindByHash(ctx, tx, token.TokenHash)
	if err != nil {
		return err
	}
	if current == nil {
		return domain.ErrTokenNotFound
	}
	if err := current.CheckUsable(now); err != nil {
		return err
	}
	return domain.ErrTokenAlreadyConsumed
}

func (s *Service) Revoke(ctx context.Context, tx *gorm.DB, tokenID snowflake.ID) error {
	if tx == nil {
		tx = s.db
	}
	revoked, err := s.repo.MarkRevoked(ctx, tx, tokenID, s.clock.Now())
	if err != nil {
		return err
	}
	if revoked {
		return nil
	}

	var token domain.QrToken
	if err := tx.WithContext(ctx).Where("id = ?", tokenID).Take(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrTokenNotFound
		}
		return err
	}
	if token.ConsumedAt != nil {
		return domain.ErrTokenAlreadyConsumed
	}
	return domain.ErrTokenRevoked
}
