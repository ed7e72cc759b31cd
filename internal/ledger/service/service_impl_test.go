package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/ledger/domain"
	"github.com/smallbiznis/loyalty/internal/ledger/repository"
	"github.com/smallbiznis/loyalty/internal/principal"
	"github.com/smallbiznis/loyalty/pkg/db"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ledgerFixture struct {
	svc        *Service
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	businessID snowflake.ID
	consumerID snowflake.ID
}

func setupLedger(t *testing.T, repo domain.Repository) ledgerFixture {
	t.Helper()
	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.LoyaltyAccount{}, &domain.PointsTransaction{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	if repo == nil {
		repo = repository.Provide()
	}

	svc := New(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		Protocol: config.NewStaticProtocolConfigHolder(config.DefaultProtocolConfig()),
		Repo:     repo,
	}).(*Service)
	svc.backoff = func(int) time.Duration { return 0 }

	return ledgerFixture{
		svc:        svc,
		db:         conn,
		node:       node,
		clock:      fake,
		businessID: node.Generate(),
		consumerID: node.Generate(),
	}
}

func (f ledgerFixture) ownerCtx() context.Context {
	return principal.WithPrincipal(context.Background(), principal.Principal{
		UserID:     f.node.Generate(),
		Kind:       principal.KindBusinessMember,
		BusinessID: f.businessID,
		MemberID:   f.node.Generate(),
		Role:       principal.RoleOwner,
	})
}

func (f ledgerFixture) accrue(t *testing.T, accountID snowflake.ID, points int64) (domain.MutationResult, error) {
	t.Helper()
	var result domain.MutationResult
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = f.svc.AccrueTx(context.Background(), tx, domain.AccrualEntry{
			AccountID:     accountID,
			Points:        points,
			ScanSessionID: f.node.Generate(),
		})
		return err
	})
	return result, err
}

func (f ledgerFixture) redeem(t *testing.T, accountID snowflake.ID, cost int64) (domain.MutationResult, error) {
	t.Helper()
	var result domain.MutationResult
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = f.svc.RedeemTx(context.Background(), tx, domain.RedemptionEntry{
			AccountID:     accountID,
			Cost:          cost,
			ScanSessionID: f.node.Generate(),
			RewardTierID:  f.node.Generate(),
		})
		return err
	})
	return result, err
}

func assertLedgerConsistent(t *testing.T, f ledgerFixture, accountID snowflake.ID) {
	t.Helper()
	result, err := f.svc.Reconcile(context.Background(), accountID)
	require.NoError(t, err)
	assert.True(t, result.Consistent, "balance %d vs ledger %d", result.PointsBalance, result.LedgerSum)
	assert.GreaterOrEqual(t, result.PointsBalance, int64(0))
}

func TestEnsureAccountIsIdempotent(t *testing.T) {
	f := setupLedger(t, nil)
	ctx := context.Background()

	first, err := f.svc.EnsureAccount(ctx, f.businessID, f.consumerID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusActive, first.Status)
	assert.Zero(t, first.PointsBalance)

	second, err := f.svc.EnsureAccount(ctx, f.businessID, f.consumerID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, f.db.Model(&domain.LoyaltyAccount{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	_, err = f.svc.EnsureAccount(ctx, 0, f.consumerID)
	assert.ErrorIs(t, err, domain.ErrInvalidBusiness)
}

func TestAccrueAndRedeemKeepLedgerInvariant(t *testing.T) {
	f := setupLedger(t, nil)
	account, err := f.svc.EnsureAccount(context.Background(), f.businessID, f.consumerID)
	require.NoError(t, err)

	accrued, err := f.accrue(t, account.ID, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 10, accrued.NewBalance)
	assert.EqualValues(t, 10, accrued.NewLifetimePoints)

	redeemed, err := f.redeem(t, account.ID, 6)
	require.NoError(t, err)
	assert.EqualValues(t, 4, redeemed.NewBalance)
	assert.EqualValues(t, -6, redeemed.PointsDelta)

	accrued, err = f.accrue(t, account.ID, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 9, accrued.NewBalance)
	assert.EqualValues(t, 15, accrued.NewLifetimePoints)

	stored, err := f.svc.GetAccount(context.Background(), account.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stored.Version)
	require.NotNil(t, stored.LastAccrualAt)
	assertLedgerConsistent(t, f, account.ID)
}

func TestRedeemInsufficientPointsWritesNothing(t *testing.T) {
	f := setupLedger(t, nil)
	account, err := f.svc.EnsureAccount(context.Background(), f.businessID, f.consumerID)
	require.NoError(t, err)
	_, err = f.accrue(t, account.ID, 4)
	require.NoError(t, err)

	_, err = f.redeem(t, account.ID, 6)
	assert.ErrorIs(t, err, domain.ErrInsufficientPoints)

	var count int64
	require.NoError(t, f.db.Model(&domain.PointsTransaction{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assertLedgerConsistent(t, f, account.ID)
}

func TestAccrueRejectsInvalidPoints(t *testing.T) {
	f := setupLedger(t, nil)
	account, err := f.svc.EnsureAccount(context.Background(), f.businessID, f.consumerID)
	require.NoError(t, err)

	_, err = f.accrue(t, account.ID, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidPoints)
	_, err = f.accrue(t, account.ID, -5)
	assert.ErrorIs(t, err, domain.ErrInvalidPoints)
}

func TestStatusBlocksMutations(t *testing.T) {
	f := setupLedger(t, nil)
	ctx := f.ownerCtx()
	account, err := f.svc.EnsureAccount(ctx, f.businessID, f.consumerID)
	require.NoError(t, err)

	suspended, err := f.svc.SetStatus(ctx, account.ID, domain.AccountStatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusSuspended, suspended.Status)
	_, err = f.accrue(t, account.ID, 5)
	assert.ErrorIs(t, err, domain.ErrAccountSuspended)

	_, err = f.svc.SetStatus(ctx, account.ID, "active")
	require.NoError(t, err)
	_, err = f.accrue(t, account.ID, 5)
	require.NoError(t, err)

	_, err = f.svc.SetStatus(ctx, account.ID, domain.AccountStatusClosed)
	require.NoError(t, err)
	_, err = f.redeem(t, account.ID, 1)
	assert.ErrorIs(t, err, domain.ErrAccountClosed)
	_, err = f.svc.SetStatus(ctx, account.ID, domain.AccountStatusActive)
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	_, err = f.svc.SetStatus(ctx, account.ID, "FROZEN")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestSetStatusScopedToCallerBusiness(t *testing.T) {
	f := setupLedger(t, nil)
	account, err := f.svc.EnsureAccount(context.Background(), f.node.Generate(), f.consumerID)
	require.NoError(t, err)

	_, err = f.svc.SetStatus(f.ownerCtx(), account.ID, domain.AccountStatusSuspended)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestSameScanSessionAppliesOnce(t *testing.T) {
	f := setupLedger(t, nil)
	account, err := f.svc.EnsureAccount(context.Background(), f.businessID, f.consumerID)
	require.NoError(t, err)
	sessionID := f.node.Generate()

	apply := func() error {
		return f.db.Transaction(func(tx *gorm.DB) error {
			_, err := f.svc.AccrueTx(context.Background(), tx, domain.AccrualEntry{AccountID: account.ID, Points: 3, ScanSessionID: sessionID})
			return err
		})
	}
	require.NoError(t, apply())
	assert.ErrorIs(t, apply(), domain.ErrSessionAlreadyApplied)

	stored, err := f.svc.GetAccount(context.Background(), account.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stored.PointsBalance)
	assertLedgerConsistent(t, f, account.ID)
}

// racingRepo simulates another writer committing between read and swap.
type racingRepo struct {
	domain.Repository
	conflicts int
	swaps     int
}

func (r *racingRepo) CompareAndSwapBalance(ctx context.Context, db *gorm.DB, update domain.BalanceUpdate) (bool, error) {
	r.swaps++
	if r.conflicts > 0 {
		r.conflicts--
		if err := db.Exec(`UPDATE loyalty_accounts SET version = version + 1 WHERE id = ?`, update.AccountID).Error; err != nil {
			return false, err
		}
	}
	return r.Repository.CompareAndSwapBalance(ctx, db, update)
}

func TestBalanceConflictIsRetried(t *testing.T) {
	repo := &racingRepo{Repository: repository.Provide(), conflicts: 2}
	f := setupLedger(t, repo)
	account, err := f.svc.EnsureAccount(context.Background(), f.businessID, f.consumerID)
	require.NoError(t, err)

	result, err := f.accrue(t, account.ID, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 7, result.NewBalance)
	assert.Equal(t, 3, repo.swaps)
	assertLedgerConsistent(t, f, account.ID)
}

func TestBalanceConflictGivesUpAfterLimit(t *testing.T) {
	repo := &racingRepo{Repository: repository.Provide(), conflicts: 100}
	f := setupLedger(t, repo)
	account, err := f.svc.EnsureAccount(context.Background(), f.businessID, f.consumerID)
	require.NoError(t, err)

	_, err = f.accrue(t, account.ID, 7)
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.Equal(t, config.DefaultProtocolConfig().BalanceRetryLimit, repo.swaps)

	stored, err := f.svc.GetAccount(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.PointsBalance)
	assertLedgerConsistent(t, f, account.ID)
}

func TestAdjust(t *testing.T) {
	f := setupLedger(t, nil)
	ctx := f.ownerCtx()
	account, err := f.svc.EnsureAccount(ctx, f.businessID, f.consumerID)
	require.NoError(t, err)
	_, err = f.accrue(t, account.ID, 10)
	require.NoError(t, err)

	result, err := f.svc.Adjust(ctx, domain.AdjustRequest{AccountID: account.ID, PointsDelta: 5, Note: "goodwill"})
	require.NoError(t, err)
	assert.EqualValues(t, 15, result.NewBalance)
	assert.EqualValues(t, 10, result.NewLifetimePoints)

	_, err = f.svc.Adjust(ctx, domain.AdjustRequest{AccountID: account.ID, PointsDelta: -20})
	assert.ErrorIs(t, err, domain.ErrInsufficientPoints)

	result, err = f.svc.Adjust(ctx, domain.AdjustRequest{AccountID: account.ID, PointsDelta: -15})
	require.NoError(t, err)
	assert.Zero(t, result.NewBalance)

	_, err = f.svc.Adjust(ctx, domain.AdjustRequest{AccountID: account.ID, PointsDelta: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidPoints)
	_, err = f.svc.Adjust(context.Background(), domain.AdjustRequest{AccountID: account.ID, PointsDelta: 1})
	assert.ErrorIs(t, err, principal.ErrUnauthenticated)

	other, err := f.svc.EnsureAccount(ctx, f.node.Generate(), f.consumerID)
	require.NoError(t, err)
	_, err = f.svc.Adjust(ctx, domain.AdjustRequest{AccountID: other.ID, PointsDelta: 1})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	assertLedgerConsistent(t, f, account.ID)
}

func TestListTransactionsPaginates(t *testing.T) {
	f := setupLedger(t, nil)
	account, err := f.svc.EnsureAccount(context.Background(), f.businessID, f.consumerID)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		f.clock.Advance(time.Second)
		_, err := f.accrue(t, account.ID, int64(i))
		require.NoError(t, err)
	}

	var seen []int64
	page := pagination.Pagination{PageSize: 2}
	for pages := 0; pages < 5; pages++ {
		resp, err := f.svc.ListTransactions(context.Background(), account.ID, page)
		require.NoError(t, err)
		for _, txn := range resp.Transactions {
			seen = append(seen, txn.PointsDelta)
		}
		if !resp.HasMore {
			break
		}
		page.PageToken = resp.NextPageToken
	}
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, seen)

	_, err = f.svc.ListTransactions(context.Background(), account.ID, pagination.Pagination{PageToken: "%%%"})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)
}

func TestFindDrift(t *testing.T) {
	f := setupLedger(t, nil)
	account, err := f.svc.EnsureAccount(context.Background(), f.businessID, f.consumerID)
	require.NoError(t, err)
	_, err = f.accrue(t, account.ID, 10)
	require.NoError(t, err)

	drift, err := f.svc.FindDrift(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, drift)

	require.NoError(t, f.db.Exec(`UPDATE loyalty_accounts SET points_balance = 99 WHERE id = ?`, account.ID).Error)
	drift, err = f.svc.FindDrift(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, account.ID, drift[0].AccountID)
	assert.EqualValues(t, 99, drift[0].PointsBalance)
	assert.EqualValues(t, 10, drift[0].LedgerSum)

	result, err := f.svc.Reconcile(context.Background(), account.ID)
	require.NoError(t, err)
	assert.False(t, result.Consistent)
}
