package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/confirmation/domain"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"github.com/smallbiznis/loyalty/internal/principal"
	qrtokendomain "github.com/smallbiznis/loyalty/internal/qrtoken/domain"
	scansessiondomain "github.com/smallbiznis/loyalty/internal/scansession/domain"
	scansession "github.com/smallbiznis/loyalty/internal/scansession/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Protocol *config.ProtocolConfigHolder
	Sessions scansessiondomain.Service
	Tokens   qrtokendomain.Service
	Ledger   ledgerdomain.Service
	Audit    auditdomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	protocol *config.ProtocolConfigHolder
	sessions scansessiondomain.Service
	tokens   qrtokendomain.Service
	ledger   ledgerdomain.Service
	audit    auditdomain.Service
	metrics  *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("confirmation.service"),
		clock:    p.Clock,
		protocol: p.Protocol,
		sessions: p.Sessions,
		tokens:   p.Tokens,
		ledger:   p.Ledger,
		audit:    p.Audit,
		metrics:  p.Metrics,
	}
}

func (s *Service) ConfirmAccrual(ctx context.Context, req domain.AccrualRequest) (domain.AccrualResult, error) {
	result, err := s.confirmAccrual(ctx, req)
	s.metrics.RecordConfirmation(ctx, string(scansessiondomain.ModeAccrual), Outcome(err), result.PointsEarned)
	return result, err
}

func (s *Service) confirmAccrual(ctx context.Context, req domain.AccrualRequest) (domain.AccrualResult, error) {
	p, err := principal.BusinessMember(ctx)
	if err != nil {
		return domain.AccrualResult{}, err
	}
	if req.Points <= 0 || req.Points > s.protocol.Get().MaxAccrualPoints {
		return domain.AccrualResult{}, domain.ErrInvalidPoints
	}
	if _, err := s.load(ctx, nil, req.Token, p.BusinessID, scansessiondomain.ModeAccrual); err != nil {
		return domain.AccrualResult{}, err
	}

	var result domain.AccrualResult
	err = s.commit(ctx, func(ctx context.Context, tx *gorm.DB) error {
		session, err := s.load(ctx, tx, req.Token, p.BusinessID, scansessiondomain.ModeAccrual)
		if err != nil {
			return err
		}
		if err := s.tokens.ConsumeTx(ctx, tx, req.Token); err != nil {
			return err
		}

		mutation, err := s.ledger.AccrueTx(ctx, tx, ledgerdomain.AccrualEntry{
			AccountID:     session.LoyaltyAccountID,
			Points:        req.Points,
			ScanSessionID: session.ID,
			Note:          req.Note,
			Reference:     "scan_session:" + session.ID.String(),
			Metadata:      sessionMetadata(session, p.MemberID),
		})
		if err != nil {
			return err
		}

		if err := s.sessions.CloseTx(ctx, tx, session.ID, scansessiondomain.StatusConfirmedAccrual, p.MemberID, s.clock.Now()); err != nil {
			return err
		}

		if err := s.audit.Record(ctx, tx, auditdomain.Entry{
			BusinessID: p.BusinessID,
			Action:     auditdomain.ActionAccrualConfirmed,
			TargetType: auditdomain.TargetTypeScanSession,
			TargetID:   session.ID.String(),
			Metadata: map[string]any{
				"loyalty_account_id": session.LoyaltyAccountID.String(),
				"transaction_id":     mutation.TransactionID.String(),
				"points":             req.Points,
			},
		}); err != nil {
			return err
		}

		result = domain.AccrualResult{
			SessionID:         session.ID.String(),
			LoyaltyAccountID:  session.LoyaltyAccountID.String(),
			TransactionID:     mutation.TransactionID.String(),
			PointsEarned:      req.Points,
			NewBalance:        mutation.NewBalance,
			NewLifetimePoints: mutation.NewLifetimePoints,
		}
		return nil
	})
	if err != nil {
		return domain.AccrualResult{}, err
	}

	s.log.Info("accrual confirmed",
		zap.String("scan_session_id", result.SessionID),
		zap.String("loyalty_account_id", result.LoyaltyAccountID),
		zap.String("business_id", p.BusinessID.String()),
		zap.Int64("points", req.Points),
	)
	return result, nil
}

func (s *Service) ConfirmRedemption(ctx context.Context, req domain.RedemptionRequest) (domain.RedemptionResult, error) {
	result, err := s.confirmRedemption(ctx, req)
	s.metrics.RecordConfirmation(ctx, string(scansessiondomain.ModeRedemption), Outcome(err), result.PointsSpent)
	return result, err
}

func (s *Service) confirmRedemption(ctx context.Context, req domain.RedemptionRequest) (domain.RedemptionResult, error) {
	p, err := principal.BusinessMember(ctx)
	if err != nil {
		return domain.RedemptionResult{}, err
	}
	if _, err := s.load(ctx, nil, req.Token, p.BusinessID, scansessiondomain.ModeRedemption); err != nil {
		return domain.RedemptionResult{}, err
	}

	var result domain.RedemptionResult
	err = s.commit(ctx, func(ctx context.Context, tx *gorm.DB) error {
		session, err := s.load(ctx, tx, req.Token, p.BusinessID, scansessiondomain.ModeRedemption)
		if err != nil {
			return err
		}
		// cost comes from the prepare-time snapshot, never the live tier
		cost := session.TotalCost()
		if cost <= 0 {
			return domain.ErrEmptyRedemption
		}
		if err := s.tokens.ConsumeTx(ctx, tx, req.Token); err != nil {
			return err
		}

		entry := ledgerdomain.RedemptionEntry{
			AccountID:     session.LoyaltyAccountID,
			Cost:          cost,
			ScanSessionID: session.ID,
			Metadata:      sessionMetadata(session, p.MemberID),
		}
		if len(session.SelectedRewards) == 1 {
			entry.RewardTierID = session.SelectedRewards[0].RewardTierID
		}
		mutation, err := s.ledger.RedeemTx(ctx, tx, entry)
		if err != nil {
			return err
		}

		if err := s.sessions.CloseTx(ctx, tx, session.ID, scansessiondomain.StatusConfirmedRedemption, p.MemberID, s.clock.Now()); err != nil {
			return err
		}

		if err := s.audit.Record(ctx, tx, auditdomain.Entry{
			BusinessID: p.BusinessID,
			Action:     auditdomain.ActionRedemptionConfirmed,
			TargetType: auditdomain.TargetTypeScanSession,
			TargetID:   session.ID.String(),
			Metadata: map[string]any{
				"loyalty_account_id": session.LoyaltyAccountID.String(),
				"transaction_id":     mutation.TransactionID.String(),
				"points_spent":       cost,
			},
		}); err != nil {
			return err
		}

		result = domain.RedemptionResult{
			SessionID:        session.ID.String(),
			LoyaltyAccountID: session.LoyaltyAccountID.String(),
			TransactionID:    mutation.TransactionID.String(),
			PointsSpent:      cost,
			NewBalance:       mutation.NewBalance,
		}
		return nil
	})
	if err != nil {
		return domain.RedemptionResult{}, err
	}

	s.log.Info("redemption confirmed",
		zap.String("scan_session_id", result.SessionID),
		zap.String("loyalty_account_id", result.LoyaltyAccountID),
		zap.String("business_id", p.BusinessID.String()),
		zap.Int64("points_spent", result.PointsSpent),
	)
	return result, nil
}

// commit runs fn in one transaction detached from the caller's cancellation:
// once the token is consumed the ledger write must land with it.
func (s *Service) commit(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error {
	ctx = context.WithoutCancel(ctx)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, tx)
	})
	return mapConsumed(err)
}

func (s *Service) load(ctx context.Context, db *gorm.DB, token string, businessID snowflake.ID, mode scansessiondomain.Mode) (scansessiondomain.ScanSession, error) {
	session, err := s.sessions.LoadForConfirmation(ctx, db, strings.TrimSpace(token), businessID)
	if err != nil {
		return scansessiondomain.ScanSession{}, mapConsumed(err)
	}
	if session.Mode != mode {
		return scansessiondomain.ScanSession{}, domain.ErrModeMismatch
	}
	return session, nil
}

func mapConsumed(err error) error {
	if errors.Is(err, qrtokendomain.ErrTokenAlreadyConsumed) || errors.Is(err, ledgerdomain.ErrSessionAlreadyApplied) {
		return domain.ErrSessionAlreadyConsumed
	}
	return err
}

func sessionMetadata(session scansessiondomain.ScanSession, memberID snowflake.ID) map[string]any {
	metadata := map[string]any{
		"scan_session_id":            session.ID.String(),
		"confirmed_by_member_id":     memberID.String(),
		"selected_reward_line_count": len(session.SelectedRewards),
	}
	if session.BusinessLocationID != nil {
		metadata["business_location_id"] = session.BusinessLocationID.String()
	}
	if len(session.SelectedRewards) > 0 {
		rewards := make([]any, 0, len(session.SelectedRewards))
		for _, reward := range session.SelectedRewards {
			rewards = append(rewards, map[string]any{
				"reward_tier_id":           reward.RewardTierID.String(),
				"name":                     reward.Name,
				"quantity":                 reward.Quantity,
				"required_points_per_unit": reward.RequiredPointsPerUnit,
			})
		}
		metadata["rewards"] = rewards
	}
	return metadata
}

// Outcome maps confirmation errors to metric outcome labels.
func Outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionAlreadyConsumed):
		return obsmetrics.OutcomeRescanRequired
	case errors.Is(err, domain.ErrInvalidPoints),
		errors.Is(err, domain.ErrModeMismatch),
		errors.Is(err, domain.ErrEmptyRedemption):
		return obsmetrics.OutcomeValidation
	default:
		return scansession.Outcome(err)
	}
}
