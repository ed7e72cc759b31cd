// Package loyaltytest wires the loyalty core against an in-memory database
// for package tests.
package loyaltytest

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	auditrepo "github.com/smallbiznis/loyalty/internal/audit/repository"
	auditservice "github.com/smallbiznis/loyalty/internal/audit/service"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	confirmationdomain "github.com/smallbiznis/loyalty/internal/confirmation/domain"
	confirmationservice "github.com/smallbiznis/loyalty/internal/confirmation/service"
	directorydomain "github.com/smallbiznis/loyalty/internal/directory/domain"
	directoryrepo "github.com/smallbiznis/loyalty/internal/directory/repository"
	directoryservice "github.com/smallbiznis/loyalty/internal/directory/service"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/loyalty/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/loyalty/internal/ledger/service"
	"github.com/smallbiznis/loyalty/internal/migration"
	"github.com/smallbiznis/loyalty/internal/principal"
	"github.com/smallbiznis/loyalty/internal/qrimage"
	qrtokendomain "github.com/smallbiznis/loyalty/internal/qrtoken/domain"
	qrtokenrepo "github.com/smallbiznis/loyalty/internal/qrtoken/repository"
	qrtokenservice "github.com/smallbiznis/loyalty/internal/qrtoken/service"
	"github.com/smallbiznis/loyalty/internal/ratelimit"
	rewardtierdomain "github.com/smallbiznis/loyalty/internal/rewardtier/domain"
	rewardtierrepo "github.com/smallbiznis/loyalty/internal/rewardtier/repository"
	rewardtierservice "github.com/smallbiznis/loyalty/internal/rewardtier/service"
	scansessiondomain "github.com/smallbiznis/loyalty/internal/scansession/domain"
	scansessionrepo "github.com/smallbiznis/loyalty/internal/scansession/repository"
	scansessionservice "github.com/smallbiznis/loyalty/internal/scansession/service"
	"github.com/smallbiznis/loyalty/pkg/db"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Epoch is the fake clock's starting instant.
var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type Harness struct {
	DB       *gorm.DB
	Node     *snowflake.Node
	Clock    *clock.FakeClock
	Protocol *config.ProtocolConfigHolder
	Limiter  *ratelimit.ScanLimiter

	Directory     directorydomain.Service
	RewardTiers   rewardtierdomain.Service
	Tokens        qrtokendomain.Service
	Ledger        ledgerdomain.Service
	Audit         auditdomain.Service
	Sessions      scansessiondomain.Service
	Confirmations confirmationdomain.Service
}

func New(t testing.TB) *Harness {
	return NewWithConfig(t, config.DefaultProtocolConfig())
}

func NewWithConfig(t testing.TB, cfg config.ProtocolConfig) *Harness {
	t.Helper()
	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, migration.Migrate(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	h := &Harness{
		DB:       conn,
		Node:     node,
		Clock:    clock.NewFakeClock(Epoch),
		Protocol: config.NewStaticProtocolConfigHolder(cfg),
	}
	log := zap.NewNop()

	h.Limiter = ratelimit.NewScanLimiter(ratelimit.ScanLimiterParams{Protocol: h.Protocol, Log: log})
	h.Directory = directoryservice.New(directoryservice.Params{DB: conn, Log: log, Repo: directoryrepo.Provide()})
	h.RewardTiers = rewardtierservice.New(rewardtierservice.Params{
		DB: conn, Log: log, GenID: node, Clock: h.Clock, Repo: rewardtierrepo.Provide(),
	})
	h.Tokens, err = qrtokenservice.New(qrtokenservice.Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Clock:    h.Clock,
		Config:   config.Config{QRTokenHashKey: "harness-hash-key"},
		Protocol: h.Protocol,
		Repo:     qrtokenrepo.Provide(),
	})
	require.NoError(t, err)
	h.Ledger = ledgerservice.New(ledgerservice.Params{
		DB: conn, Log: log, GenID: node, Clock: h.Clock, Protocol: h.Protocol, Repo: ledgerrepo.Provide(),
	})
	h.Audit = auditservice.NewService(auditservice.Params{
		DB: conn, Log: log, GenID: node, Clock: h.Clock, Repo: auditrepo.Provide(),
	})
	h.Sessions = scansessionservice.New(scansessionservice.Params{
		DB:          conn,
		Log:         log,
		GenID:       node,
		Clock:       h.Clock,
		Protocol:    h.Protocol,
		Repo:        scansessionrepo.Provide(),
		Tokens:      h.Tokens,
		Ledger:      h.Ledger,
		Directory:   h.Directory,
		RewardTiers: h.RewardTiers,
		Audit:       h.Audit,
		QR:          qrimage.New(),
		Limiter:     h.Limiter,
	})
	h.Confirmations = confirmationservice.New(confirmationservice.Params{
		DB:       conn,
		Log:      log,
		Clock:    h.Clock,
		Protocol: h.Protocol,
		Sessions: h.Sessions,
		Tokens:   h.Tokens,
		Ledger:   h.Ledger,
		Audit:    h.Audit,
	})
	return h
}

// Business is a seeded business with one program, one location and a staff
// and an owner member.
type Business struct {
	ID         snowflake.ID
	ProgramID  snowflake.ID
	LocationID snowflake.ID
	Staff      principal.Principal
	Owner      principal.Principal
}

func (b Business) StaffCtx() context.Context {
	return principal.WithPrincipal(context.Background(), b.Staff)
}

func (b Business) OwnerCtx() context.Context {
	return principal.WithPrincipal(context.Background(), b.Owner)
}

func (h *Harness) SeedBusiness(t testing.TB, name string) Business {
	t.Helper()
	now := h.Clock.Now()
	b := Business{
		ID:         h.Node.Generate(),
		ProgramID:  h.Node.Generate(),
		LocationID: h.Node.Generate(),
	}
	require.NoError(t, h.DB.Create(&directorydomain.Business{
		ID: b.ID, Name: name, Status: directorydomain.BusinessStatusActive, CreatedAt: now, UpdatedAt: now,
	}).Error)
	require.NoError(t, h.DB.Create(&directorydomain.BusinessLocation{
		ID: b.LocationID, BusinessID: b.ID, Name: name + " Central", IsActive: true, CreatedAt: now,
	}).Error)
	require.NoError(t, h.DB.Create(&rewardtierdomain.LoyaltyProgram{
		ID: b.ProgramID, BusinessID: b.ID, Name: name + " Rewards", IsActive: true, CreatedAt: now,
	}).Error)

	b.Staff = h.seedMember(t, b.ID, principal.RoleStaff)
	b.Owner = h.seedMember(t, b.ID, principal.RoleOwner)
	return b
}

func (h *Harness) seedMember(t testing.TB, businessID snowflake.ID, role string) principal.Principal {
	t.Helper()
	member := directorydomain.BusinessMember{
		ID:         h.Node.Generate(),
		BusinessID: businessID,
		UserID:     h.Node.Generate(),
		Role:       role,
		IsActive:   true,
		CreatedAt:  h.Clock.Now(),
	}
	require.NoError(t, h.DB.Create(&member).Error)
	return principal.Principal{
		UserID:     member.UserID,
		Kind:       principal.KindBusinessMember,
		BusinessID: businessID,
		MemberID:   member.ID,
		Role:       role,
	}
}

// SeedConsumer creates a consumer and returns a context authenticated as it.
func (h *Harness) SeedConsumer(t testing.TB, displayName string) (snowflake.ID, context.Context) {
	t.Helper()
	consumer := directorydomain.Consumer{ID: h.Node.Generate(), DisplayName: displayName, CreatedAt: h.Clock.Now()}
	require.NoError(t, h.DB.Create(&consumer).Error)
	ctx := principal.WithPrincipal(context.Background(), principal.Principal{
		UserID: consumer.ID,
		Kind:   principal.KindConsumer,
		Role:   principal.RoleConsumer,
	})
	return consumer.ID, ctx
}

func (h *Harness) SeedTier(t testing.TB, b Business, name string, requiredPoints int64) rewardtierdomain.RewardTier {
	t.Helper()
	now := h.Clock.Now()
	tier := rewardtierdomain.RewardTier{
		ID:             h.Node.Generate(),
		ProgramID:      b.ProgramID,
		BusinessID:     b.ID,
		Name:           name,
		RequiredPoints: requiredPoints,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, h.DB.Create(&tier).Error)
	return tier
}

// Fund gives the consumer's account a starting balance through a regular
// confirmed accrual so the ledger invariant holds.
func (h *Harness) Fund(t testing.TB, b Business, consumerCtx context.Context, points int64) {
	t.Helper()
	prepared, err := h.Sessions.Prepare(consumerCtx, scansessiondomain.PrepareRequest{
		BusinessID: b.ID.String(),
		Mode:       string(scansessiondomain.ModeAccrual),
	})
	require.NoError(t, err)
	_, err = h.Confirmations.ConfirmAccrual(b.StaffCtx(), confirmationdomain.AccrualRequest{
		Token:  prepared.Token,
		Points: points,
	})
	require.NoError(t, err)
}

// Account returns the consumer's account at the business.
func (h *Harness) Account(t testing.TB, b Business, consumerID snowflake.ID) ledgerdomain.LoyaltyAccount {
	t.Helper()
	account, err := h.Ledger.FindAccount(context.Background(), b.ID, consumerID)
	require.NoError(t, err)
	return account
}
