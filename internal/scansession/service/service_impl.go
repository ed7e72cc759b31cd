package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	directorydomain "github.com/smallbiznis/loyalty/internal/directory/domain"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"github.com/smallbiznis/loyalty/internal/principal"
	"github.com/smallbiznis/loyalty/internal/qrimage"
	qrtokendomain "github.com/smallbiznis/loyalty/internal/qrtoken/domain"
	"github.com/smallbiznis/loyalty/internal/ratelimit"
	rewardtierdomain "github.com/smallbiznis/loyalty/internal/rewardtier/domain"
	"github.com/smallbiznis/loyalty/internal/scansession/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Protocol    *config.ProtocolConfigHolder
	Repo        domain.Repository
	Tokens      qrtokendomain.Service
	Ledger      ledgerdomain.Service
	Directory   directorydomain.Service
	RewardTiers rewardtierdomain.Service
	Audit       auditdomain.Service
	QR          *qrimage.Renderer
	Limiter     *ratelimit.ScanLimiter `optional:"true"`
	Metrics     *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	protocol    *config.ProtocolConfigHolder
	repo        domain.Repository
	tokens      qrtokendomain.Service
	ledger      ledgerdomain.Service
	directory   directorydomain.Service
	rewardTiers rewardtierdomain.Service
	audit       auditdomain.Service
	qr          *qrimage.Renderer
	limiter     *ratelimit.ScanLimiter
	metrics     *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	qr := p.QR
	if qr == nil {
		qr = qrimage.New()
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("scansession.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		protocol:    p.Protocol,
		repo:        p.Repo,
		tokens:      p.Tokens,
		ledger:      p.Ledger,
		directory:   p.Directory,
		rewardTiers: p.RewardTiers,
		audit:       p.Audit,
		qr:          qr,
		limiter:     p.Limiter,
		metrics:     p.Metrics,
	}
}

// Prepare opens a session for the calling consumer and mints its token.
// The account, the token and the session are written in one transaction.
func (s *Service) Prepare(ctx context.Context, req domain.PrepareRequest) (domain.PrepareResponse, error) {
	p, err := principal.Consumer(ctx)
	if err != nil {
		return domain.PrepareResponse{}, err
	}

	mode := domain.Mode(strings.ToLower(strings.TrimSpace(req.Mode)))
	if !mode.Valid() {
		return domain.PrepareResponse{}, domain.ErrInvalidMode
	}

	businessID, err := snowflake.ParseString(strings.TrimSpace(req.BusinessID))
	if err != nil || businessID == 0 {
		return domain.PrepareResponse{}, directorydomain.ErrInvalidBusiness
	}
	if _, err := s.directory.EnsureActiveBusiness(ctx, businessID); err != nil {
		return domain.PrepareResponse{}, err
	}

	var locationID *snowflake.ID
	if raw := strings.TrimSpace(req.LocationID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id == 0 {
			return domain.PrepareResponse{}, directorydomain.ErrInvalidLocation
		}
		if err := s.directory.EnsureLocation(ctx, businessID, id); err != nil {
			return domain.PrepareResponse{}, err
		}
		locationID = &id
	}

	rewards := []domain.SelectedReward{}
	if mode == domain.ModeRedemption {
		rewards, err = s.snapshotRewards(ctx, businessID, req.Rewards)
		if err != nil {
			return domain.PrepareResponse{}, err
		}
	}

	if err := ctx.Err(); err != nil {
		return domain.PrepareResponse{}, err
	}

	cfg := s.protocol.Get()
	var (
		issued  qrtokendomain.IssuedToken
		account ledgerdomain.LoyaltyAccount
		session domain.ScanSession
		qrPNG   string
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.ledger.EnsureAccountTx(ctx, tx, businessID, p.UserID)
		if err != nil {
			return err
		}
		// closed accounts report suspended to the consumer as well
		if account.Status != ledgerdomain.AccountStatusActive {
			return ledgerdomain.ErrAccountSuspended
		}

		issued, err = s.tokens.IssueTx(ctx, tx, p.UserID, qrtokendomain.PurposeScanSession, cfg.SessionTTL)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		session = domain.ScanSession{
			ID:                 s.genID.Generate(),
			TokenID:            issued.TokenID,
			ConsumerUserID:     p.UserID,
			LoyaltyAccountID:   account.ID,
			AccountBusinessID:  account.BusinessID,
			BusinessLocationID: locationID,
			Mode:               mode,
			Status:             domain.StatusPrepared,
			SelectedRewards:    datatypes.JSONSlice[domain.SelectedReward](rewards),
			CreatedAt:          now,
			ExpiresAt:          issued.ExpiresAt,
			UpdatedAt:          now,
		}
		if err := s.repo.Insert(ctx, tx, &session); err != nil {
			return err
		}

		qrPNG, err = s.qr.Base64PNG(issued.Value)
		if err != nil {
			return err
		}

		return s.audit.Record(ctx, tx, auditdomain.Entry{
			BusinessID: businessID,
			Action:     auditdomain.ActionScanSessionPrepared,
			TargetType: auditdomain.TargetTypeScanSession,
			TargetID:   session.ID.String(),
			Metadata: map[string]any{
				"mode":       string(mode),
				"token_id":   issued.TokenID.String(),
				"total_cost": session.TotalCost(),
			},
		})
	})
	if err != nil {
		return domain.PrepareResponse{}, err
	}

	s.metrics.RecordSessionPrepared(ctx, string(mode))
	s.log.Info("scan session prepared",
		zap.String("scan_session_id", session.ID.String()),
		zap.String("token_id", issued.TokenID.String()),
		zap.String("business_id", businessID.String()),
		zap.String("mode", string(mode)),
	)

	return domain.PrepareResponse{
		Token:           issued.Value,
		QRCodePNG:       qrPNG,
		Mode:            mode,
		ExpiresAt:       issued.ExpiresAt,
		CurrentBalance:  account.PointsBalance,
		SelectedRewards: rewardLines(session.SelectedRewards),
		TotalCost:       session.TotalCost(),
	}, nil
}

func (s *Service) snapshotRewards(ctx context.Context, businessID snowflake.ID, selections []domain.RewardSelection) ([]domain.SelectedReward, error) {
	if len(selections) == 0 {
		return nil, domain.ErrNoRewardsSelected
	}
	rewards := make([]domain.SelectedReward, 0, len(selections))
	for _, selection := range selections {
		quantity := selection.Quantity
		if quantity == 0 {
			quantity = 1
		}
		if quantity < 0 || quantity > domain.MaxRewardQuantity {
			return nil, domain.ErrInvalidQuantity
		}
		tierID, err := snowflake.ParseString(strings.TrimSpace(selection.RewardTierID))
		if err != nil || tierID == 0 {
			return nil, rewardtierdomain.ErrInactiveRewardTier
		}
		tier, err := s.rewardTiers.ResolveForRedemption(ctx, businessID, tierID)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, domain.SelectedReward{
			RewardTierID:          tier.ID,
			Name:                  tier.Name,
			Quantity:              quantity,
			RequiredPointsPerUnit: tier.RequiredPoints,
		})
	}
	return rewards, nil
}

// Process is the business-side read of a scanned token. The first read moves
// the session to SCANNED; later reads return the same view.
func (s *Service) Process(ctx context.Context, tokenValue string) (domain.ProcessResponse, error) {
	resp, err := s.process(ctx, tokenValue)
	s.metrics.RecordScan(ctx, Outcome(err))
	return resp, err
}

func (s *Service) process(ctx context.Context, tokenValue string) (domain.ProcessResponse, error) {
	p, err := principal.BusinessMember(ctx)
	if err != nil {
		return domain.ProcessResponse{}, err
	}
	if err := s.limiter.AllowScan(ctx, p.BusinessID); err != nil {
		return domain.ProcessResponse{}, err
	}

	session, err := s.LoadForConfirmation(ctx, nil, tokenValue, p.BusinessID)
	if err != nil {
		return domain.ProcessResponse{}, err
	}

	if session.Status == domain.StatusPrepared {
		now := s.clock.Now()
		marked, err := s.repo.MarkScanned(ctx, s.db, session.ID, p.BusinessID, now)
		if err != nil {
			return domain.ProcessResponse{}, err
		}
		if marked {
			session.Status = domain.StatusScanned
			session.BusinessID = &p.BusinessID
			session.ScannedAt = &now
			if err := s.audit.Record(ctx, nil, auditdomain.Entry{
				BusinessID: p.BusinessID,
				Action:     auditdomain.ActionScanSessionScanned,
				TargetType: auditdomain.TargetTypeScanSession,
				TargetID:   session.ID.String(),
				Metadata:   map[string]any{"mode": string(session.Mode)},
			}); err != nil {
				s.log.Warn("scan audit failed", zap.String("scan_session_id", session.ID.String()), zap.Error(err))
			}
		} else {
			// raced with another read or a close
			session, err = s.LoadForConfirmation(ctx, nil, tokenValue, p.BusinessID)
			if err != nil {
				return domain.ProcessResponse{}, err
			}
		}
	}

	account, err := s.ledger.GetAccount(ctx, session.LoyaltyAccountID)
	if err != nil {
		return domain.ProcessResponse{}, err
	}
	displayName, err := s.directory.ConsumerDisplayName(ctx, session.ConsumerUserID)
	if err != nil {
		return domain.ProcessResponse{}, err
	}

	s.log.Debug("scan session processed",
		zap.String("scan_session_id", session.ID.String()),
		zap.String("business_id", p.BusinessID.String()),
		zap.String("member_id", p.MemberID.String()),
	)

	return domain.ProcessResponse{
		SessionID:           session.ID.String(),
		LoyaltyAccountID:    session.LoyaltyAccountID.String(),
		Mode:                session.Mode,
		ConsumerDisplayName: displayName,
		CurrentBalance:      account.PointsBalance,
		SelectedRewards:     rewardLines(session.SelectedRewards),
		TotalCost:           session.TotalCost(),
		ExpiresAt:           session.ExpiresAt,
		AllowedActions: domain.AllowedActions{
			CanConfirmAccrual:    session.Mode == domain.ModeAccrual,
			CanConfirmRedemption: session.Mode == domain.ModeRedemption,
		},
	}, nil
}

// LoadForConfirmation resolves the session behind a token and checks, in
// order: token exists, session not expired, token usable, session open,
// account belongs to businessID.
func (s *Service) LoadForConfirmation(ctx context.Context, db *gorm.DB, tokenValue string, businessID snowflake.ID) (domain.ScanSession, error) {
	if db == nil {
		db = s.db
	}
	token, session, err := s.resolve(ctx, db, tokenValue)
	if err != nil {
		return domain.ScanSession{}, err
	}

	now := s.clock.Now()
	if session.Expired(now) || session.Status == domain.StatusExpired {
		return domain.ScanSession{}, domain.ErrSessionExpired
	}
	if err := token.CheckUsable(now); err != nil {
		return domain.ScanSession{}, err
	}
	if session.Closed() {
		return domain.ScanSession{}, domain.ErrSessionAlreadyClosed
	}
	if session.AccountBusinessID != businessID {
		return domain.ScanSession{}, domain.ErrBusinessMismatch
	}
	return session, nil
}

func (s *Service) resolve(ctx context.Context, db *gorm.DB, tokenValue string) (qrtokendomain.QrToken, domain.ScanSession, error) {
	token, err := s.tokens.Inspect(ctx, db, tokenValue)
	if err != nil {
		return qrtokendomain.QrToken{}, domain.ScanSession{}, err
	}
	if token.Purpose != qrtokendomain.PurposeScanSession {
		return qrtokendomain.QrToken{}, domain.ScanSession{}, qrtokendomain.ErrTokenNotFound
	}
	session, err := s.repo.FindByTokenID(ctx, db, token.ID)
	if err != nil {
		return qrtokendomain.QrToken{}, domain.ScanSession{}, err
	}
	if session == nil {
		return qrtokendomain.QrToken{}, domain.ScanSession{}, domain.ErrSessionNotFound
	}
	return token, *session, nil
}

// Cancel lets the consumer withdraw an open session. The token is revoked so
// a copy of the QR code is useless afterwards.
func (s *Service) Cancel(ctx context.Context, tokenValue string) error {
	p, err := principal.Consumer(ctx)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		token, session, err := s.resolve(ctx, tx, tokenValue)
		if err != nil {
			return err
		}
		if session.ConsumerUserID != p.UserID {
			return qrtokendomain.ErrTokenNotFound
		}

		now := s.clock.Now()
		if session.Expired(now) || session.Status == domain.StatusExpired {
			return domain.ErrSessionExpired
		}
		if err := token.CheckUsable(now); err != nil {
			return err
		}
		if session.Closed() {
			return domain.ErrSessionAlreadyClosed
		}

		if err := s.tokens.Revoke(ctx, tx, token.ID); err != nil {
			return err
		}
		if err := s.CloseTx(ctx, tx, session.ID, domain.StatusCancelled, 0, now); err != nil {
			return err
		}

		s.log.Info("scan session cancelled", zap.String("scan_session_id", session.ID.String()))
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			BusinessID: session.AccountBusinessID,
			Action:     auditdomain.ActionScanSessionCancelled,
			TargetType: auditdomain.TargetTypeScanSession,
			TargetID:   session.ID.String(),
		})
	})
}

// CloseTx moves an open session to a terminal status inside tx. Only one
// caller can close a session.
func (s *Service) CloseTx(ctx context.Context, tx *gorm.DB, sessionID snowflake.ID, status domain.Status, memberID snowflake.ID, now time.Time) error {
	switch status {
	case domain.StatusConfirmedAccrual, domain.StatusConfirmedRedemption, domain.StatusExpired, domain.StatusCancelled:
	default:
		return domain.ErrInvalidCloseStatus
	}
	if tx == nil {
		tx = s.db
	}

	update := domain.CloseUpdate{SessionID: sessionID, Status: status, ClosedAt: now}
	if memberID != 0 {
		update.MemberID = &memberID
	}
	closed, err := s.repo.Close(ctx, tx, update)
	if err != nil {
		return err
	}
	if !closed {
		return domain.ErrSessionAlreadyClosed
	}
	return nil
}

// ExpireStale marks open sessions whose expiry passed as EXPIRED. Expiry is
// also enforced on every read, so this only keeps the table tidy.
func (s *Service) ExpireStale(ctx context.Context, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = s.protocol.Get().SweepBatchSize
	}
	ids, err := s.repo.ListStaleIDs(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	expired, err := s.repo.ExpireByIDs(ctx, s.db, ids, now)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.log.Info("expired stale scan sessions", zap.Int64("count", expired))
	}
	return expired, nil
}

func rewardLines(rewards []domain.SelectedReward) []domain.RewardLine {
	lines := make([]domain.RewardLine, 0, len(rewards))
	for _, reward := range rewards {
		lines = append(lines, domain.RewardLine{
			RewardTierID:          reward.RewardTierID.String(),
			Name:                  reward.Name,
			Quantity:              reward.Quantity,
			RequiredPointsPerUnit: reward.RequiredPointsPerUnit,
			Cost:                  reward.Cost(),
		})
	}
	return lines
}

// Outcome maps scan protocol errors to metric outcome labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return obsmetrics.OutcomeSuccess
	case errors.Is(err, principal.ErrUnauthenticated),
		errors.Is(err, principal.ErrNotConsumer),
		errors.Is(err, principal.ErrNotBusinessStaff):
		return obsmetrics.OutcomeUnauthorized
	case errors.Is(err, qrtokendomain.ErrTokenNotFound),
		errors.Is(err, qrtokendomain.ErrTokenExpired),
		errors.Is(err, qrtokendomain.ErrTokenRevoked),
		errors.Is(err, qrtokendomain.ErrTokenAlreadyConsumed),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrSessionExpired),
		errors.Is(err, domain.ErrSessionAlreadyClosed),
		errors.Is(err, domain.ErrBusinessMismatch):
		return obsmetrics.OutcomeRescanRequired
	case errors.Is(err, ledgerdomain.ErrConcurrencyConflict),
		errors.Is(err, ratelimit.ErrRateLimited):
		return obsmetrics.OutcomeConflict
	case errors.Is(err, ledgerdomain.ErrAccountSuspended),
		errors.Is(err, ledgerdomain.ErrAccountClosed),
		errors.Is(err, ledgerdomain.ErrInsufficientPoints):
		return obsmetrics.OutcomeLedgerRejected
	case errors.Is(err, domain.ErrInvalidMode),
		errors.Is(err, domain.ErrNoRewardsSelected),
		errors.Is(err, domain.ErrInvalidQuantity):
		return obsmetrics.OutcomeValidation
	default:
		return obsmetrics.OutcomeInternal
	}
}
