package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"github.com/smallbiznis/loyalty/internal/principal"
	"github.com/smallbiznis/loyalty/pkg/db"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
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
	metrics  *obsmetrics.Metrics
	backoff  func(attempt int) time.Duration
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ledger.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		protocol: p.Protocol,
		repo:     p.Repo,
		metrics:  p.Metrics,
		backoff:  jitteredBackoff,
	}
}

// jitteredBackoff waits 10-40ms between balance retries.
func jitteredBackoff(int) time.Duration {
	return time.Duration(10+rand.IntN(31)) * time.Millisecond
}

func (s *Service) EnsureAccount(ctx context.Context, businessID, consumerID snowflake.ID) (domain.LoyaltyAccount, error) {
	return s.EnsureAccountTx(ctx, s.db, businessID, consumerID)
}

// EnsureAccountTx returns the account for the pair, creating it with a zero
// balance when absent. Concurrent callers converge on the same row.
func (s *Service) EnsureAccountTx(ctx context.Context, tx *gorm.DB, businessID, consumerID snowflake.ID) (domain.LoyaltyAccount, error) {
	if businessID == 0 {
		return domain.LoyaltyAccount{}, domain.ErrInvalidBusiness
	}
	if consumerID == 0 {
		return domain.LoyaltyAccount{}, domain.ErrInvalidConsumer
	}

	existing, err := s.repo.FindAccount(ctx, tx, businessID, consumerID)
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	now := s.clock.Now()
	account := domain.LoyaltyAccount{
		ID:             s.genID.Generate(),
		BusinessID:     businessID,
		ConsumerUserID: consumerID,
		Status:         domain.AccountStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.InsertAccountIfAbsent(ctx, tx, &account); err != nil && !db.IsDuplicateKeyErr(err) {
		return domain.LoyaltyAccount{}, err
	}

	created, err := s.repo.FindAccount(ctx, tx, businessID, consumerID)
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}
	if created == nil {
		return domain.LoyaltyAccount{}, domain.ErrAccountNotFound
	}
	if created.ID == account.ID {
		s.log.Info("loyalty account created",
			zap.String("loyalty_account_id", created.ID.String()),
			zap.String("business_id", businessID.String()),
		)
	}
	return *created, nil
}

func (s *Service) GetAccount(ctx context.Context, accountID snowflake.ID) (domain.LoyaltyAccount, error) {
	account, err := s.repo.FindAccountByID(ctx, s.db, accountID)
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}
	if account == nil {
		return domain.LoyaltyAccount{}, domain.ErrAccountNotFound
	}
	return *account, nil
}

func (s *Service) FindAccount(ctx context.Context, businessID, consumerID snowflake.ID) (domain.LoyaltyAccount, error) {
	account, err := s.repo.FindAccount(ctx, s.db, businessID, consumerID)
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}
	if account == nil {
		return domain.LoyaltyAccount{}, domain.ErrAccountNotFound
	}
	return *account, nil
}

func (s *Service) AccrueTx(ctx context.Context, tx *gorm.DB, entry domain.AccrualEntry) (domain.MutationResult, error) {
	if entry.Points <= 0 {
		return domain.MutationResult{}, domain.ErrInvalidPoints
	}
	return s.mutate(ctx, tx, mutation{
		accountID:     entry.AccountID,
		txType:        domain.TransactionTypeAccrual,
		delta:         entry.Points,
		lifetimeDelta: entry.Points,
		scanSessionID: optionalID(entry.ScanSessionID),
		note:          optionalString(entry.Note),
		reference:     optionalString(entry.Reference),
		metadata:      entry.Metadata,
	})
}

func (s *Service) RedeemTx(ctx context.Context, tx *gorm.DB, entry domain.RedemptionEntry) (domain.MutationResult, error) {
	if entry.Cost <= 0 {
		return domain.MutationResult{}, domain.ErrInvalidPoints
	}
	return s.mutate(ctx, tx, mutation{
		accountID:     entry.AccountID,
		txType:        domain.TransactionTypeRedemption,
		delta:         -entry.Cost,
		scanSessionID: optionalID(entry.ScanSessionID),
		rewardTierID:  optionalID(entry.RewardTierID),
		metadata:      entry.Metadata,
	})
}

// Adjust applies an owner correction to an account of the caller's business.
// Positive adjustments do not count toward lifetime points.
func (s *Service) Adjust(ctx context.Context, req domain.AdjustRequest) (domain.MutationResult, error) {
	p, err := principal.BusinessMember(ctx)
	if err != nil {
		return domain.MutationResult{}, err
	}
	if req.PointsDelta == 0 {
		return domain.MutationResult{}, domain.ErrInvalidPoints
	}
	note := strings.TrimSpace(req.Note)

	var result domain.MutationResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.mutate(ctx, tx, mutation{
			accountID:      req.AccountID,
			businessID:     p.BusinessID,
			txType:         domain.TransactionTypeAdjustment,
			delta:          req.PointsDelta,
			note:           optionalString(note),
			metadata:       map[string]any{"adjusted_by_member_id": p.MemberID.String()},
			allowSuspended: true,
		})
		return err
	})
	if err != nil {
		return domain.MutationResult{}, err
	}

	s.log.Info("loyalty account adjusted",
		zap.String("loyalty_account_id", req.AccountID.String()),
		zap.String("business_id", p.BusinessID.String()),
		zap.Int64("points_delta", req.PointsDelta),
	)
	return result, nil
}

type mutation struct {
	accountID     snowflake.ID
	businessID    snowflake.ID
	txType        domain.TransactionType
	delta         int64
	lifetimeDelta int64
	scanSessionID *snowflake.ID
	rewardTierID  *snowflake.ID
	note          *string
	reference     *string
	metadata      map[string]any
	// adjustments may correct suspended accounts
	allowSuspended bool
}

// mutate reads the account, validates the change and writes it with a
// version compare-and-swap, retrying on lost races. The ledger line is
// inserted in the same transaction as the winning update.
func (s *Service) mutate(ctx context.Context, tx *gorm.DB, m mutation) (domain.MutationResult, error) {
	limit := s.protocol.Get().BalanceRetryLimit

	for attempt := 1; ; attempt++ {
		account, err := s.repo.FindAccountByID(ctx, tx, m.accountID)
		if err != nil {
			return domain.MutationResult{}, err
		}
		if account == nil || (m.businessID != 0 && account.BusinessID != m.businessID) {
			return domain.MutationResult{}, domain.ErrAccountNotFound
		}
		if err := checkWritable(account.Status, m.allowSuspended); err != nil {
			return domain.MutationResult{}, err
		}

		newBalance := account.PointsBalance + m.delta
		if newBalance < 0 {
			return domain.MutationResult{}, domain.ErrInsufficientPoints
		}

		now := s.clock.Now()
		lastAccrual := account.LastAccrualAt
		if m.txType == domain.TransactionTypeAccrual {
			lastAccrual = &now
		}
		swapped, err := s.repo.CompareAndSwapBalance(ctx, tx, domain.BalanceUpdate{
			AccountID:       account.ID,
			ExpectedVersion: account.Version,
			MinBalance:      max(-m.delta, 0),
			PointsBalance:   newBalance,
			LifetimePoints:  account.LifetimePoints + m.lifetimeDelta,
			LastAccrualAt:   lastAccrual,
			UpdatedAt:       now,
		})
		if err != nil {
			return domain.MutationResult{}, err
		}

		if swapped {
			txn := domain.PointsTransaction{
				ID:               s.genID.Generate(),
				LoyaltyAccountID: account.ID,
				BusinessID:       account.BusinessID,
				ConsumerUserID:   account.ConsumerUserID,
				Type:             m.txType,
				PointsDelta:      m.delta,
				OccurredAt:       now,
				ScanSessionID:    m.scanSessionID,
				RewardTierID:     m.rewardTierID,
				Note:             m.note,
				Reference:        m.reference,
				Metadata:         datatypes.JSONMap(m.metadata),
				CreatedAt:        now,
			}
			if err := s.repo.InsertTransaction(ctx, tx, &txn); err != nil {
				if db.IsDuplicateKeyErr(err) && m.scanSessionID != nil {
					return domain.MutationResult{}, domain.ErrSessionAlreadyApplied
				}
				return domain.MutationResult{}, err
			}
			return domain.MutationResult{
				AccountID:         account.ID,
				TransactionID:     txn.ID,
				PointsDelta:       m.delta,
				NewBalance:        newBalance,
				NewLifetimePoints: account.LifetimePoints + m.lifetimeDelta,
			}, nil
		}

		s.metrics.RecordBalanceConflict(ctx, string(m.txType))
		if attempt >= limit {
			s.log.Warn("balance update gave up after retries",
				zap.String("loyalty_account_id", m.accountID.String()),
				zap.String("type", string(m.txType)),
				zap.Int("attempts", attempt),
			)
			return domain.MutationResult{}, domain.ErrConcurrencyConflict
		}
		if err := sleep(ctx, s.backoff(attempt)); err != nil {
			return domain.MutationResult{}, err
		}
	}
}

func checkWritable(status domain.AccountStatus, allowSuspended bool) error {
	switch status {
	case domain.AccountStatusActive:
		return nil
	case domain.AccountStatusSuspended:
		if allowSuspended {
			return nil
		}
		return domain.ErrAccountSuspended
	case domain.AccountStatusClosed:
		return domain.ErrAccountClosed
	default:
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
}

// SetStatus moves an account of the caller's business between ACTIVE and
// SUSPENDED, or closes it. CLOSED is terminal.
func (s *Service) SetStatus(ctx context.Context, accountID snowflake.ID, status domain.AccountStatus) (domain.LoyaltyAccount, error) {
	p, err := principal.BusinessMember(ctx)
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}
	status = domain.AccountStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	switch status {
	case domain.AccountStatusActive, domain.AccountStatusSuspended, domain.AccountStatusClosed:
	default:
		return domain.LoyaltyAccount{}, domain.ErrInvalidStatus
	}

	limit := s.protocol.Get().BalanceRetryLimit
	for attempt := 1; ; attempt++ {
		account, err := s.repo.FindAccountByID(ctx, s.db, accountID)
		if err != nil {
			return domain.LoyaltyAccount{}, err
		}
		if account == nil || account.BusinessID != p.BusinessID {
			return domain.LoyaltyAccount{}, domain.ErrAccountNotFound
		}
		if account.Status == status {
			return *account, nil
		}
		if account.Status == domain.AccountStatusClosed {
			return domain.LoyaltyAccount{}, domain.ErrInvalidStatusTransition
		}

		now := s.clock.Now()
		swapped, err := s.repo.CompareAndSwapStatus(ctx, s.db, account.ID, account.Version, status, now)
		if err != nil {
			return domain.LoyaltyAccount{}, err
		}
		if swapped {
			s.log.Info("loyalty account status changed",
				zap.String("loyalty_account_id", account.ID.String()),
				zap.String("from", string(account.Status)),
				zap.String("to", string(status)),
			)
			account.Status = status
			account.Version++
			account.UpdatedAt = now
			return *account, nil
		}
		if attempt >= limit {
			return domain.LoyaltyAccount{}, domain.ErrConcurrencyConflict
		}
		if err := sleep(ctx, s.backoff(attempt)); err != nil {
			return domain.LoyaltyAccount{}, err
		}
	}
}

func (s *Service) ListTransactions(ctx context.Context, accountID snowflake.ID, page pagination.Pagination) (domain.ListTransactionsResponse, error) {
	page = page.Normalize()
	filter := domain.TransactionFilter{AccountID: accountID, Limit: page.PageSize + 1}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return domain.ListTransactionsResponse{}, err
		}
		beforeID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListTransactionsResponse{}, pagination.ErrInvalidPageToken
		}
		beforeTime, err := time.Parse(time.RFC3339Nano, cursor.OccurredAt)
		if err != nil {
			return domain.ListTransactionsResponse{}, pagination.ErrInvalidPageToken
		}
		beforeTime = beforeTime.UTC()
		filter.BeforeTime = &beforeTime
		filter.BeforeID = beforeID
	}

	items, err := s.repo.ListTransactions(ctx, s.db, filter)
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, page.PageSize, func(txn *domain.PointsTransaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:         txn.ID.String(),
			OccurredAt: txn.OccurredAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > page.PageSize {
		items = items[:page.PageSize]
	}

	txns := make([]domain.PointsTransaction, 0, len(items))
	for _, item := range items {
		txns = append(txns, *item)
	}
	return domain.ListTransactionsResponse{PageInfo: pageInfo, Transactions: txns}, nil
}

// Reconcile compares the cached balance with the ledger sum.
func (s *Service) Reconcile(ctx context.Context, accountID snowflake.ID) (domain.ReconcileResult, error) {
	var result domain.ReconcileResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.FindAccountByID(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return domain.ErrAccountNotFound
		}
		sum, count, err := s.repo.SumTransactions(ctx, tx, accountID)
		if err != nil {
			return err
		}
		result = domain.ReconcileResult{
			AccountID:        account.ID,
			PointsBalance:    account.PointsBalance,
			LedgerSum:        sum,
			TransactionCount: count,
			Consistent:       sum == account.PointsBalance,
			CheckedAt:        s.clock.Now(),
		}
		return nil
	})
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	if !result.Consistent {
		s.log.Error("loyalty account balance drift",
			zap.String("loyalty_account_id", accountID.String()),
			zap.Int64("points_balance", result.PointsBalance),
			zap.Int64("ledger_sum", result.LedgerSum),
		)
	}
	return result, nil
}

func (s *Service) FindDrift(ctx context.Context, limit int) ([]domain.ReconcileResult, error) {
	if limit <= 0 {
		limit = pagination.MaxPageSize
	}
	results, err := s.repo.FindDriftedAccounts(ctx, s.db, limit)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	for i := range results {
		results[i].CheckedAt = now
	}
	return results, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func optionalID(id snowflake.ID) *snowflake.ID {
	if id == 0 {
		return nil
	}
	return &id
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
