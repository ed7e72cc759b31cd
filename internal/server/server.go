package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	"github.com/smallbiznis/loyalty/internal/auth"
	"github.com/smallbiznis/loyalty/internal/authorization"
	"github.com/smallbiznis/loyalty/internal/config"
	confirmationdomain "github.com/smallbiznis/loyalty/internal/confirmation/domain"
	directorydomain "github.com/smallbiznis/loyalty/internal/directory/domain"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	"github.com/smallbiznis/loyalty/internal/observability"
	obsmiddleware "github.com/smallbiznis/loyalty/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	obstracing "github.com/smallbiznis/loyalty/internal/observability/tracing"
	rewardtierdomain "github.com/smallbiznis/loyalty/internal/rewardtier/domain"
	scansessiondomain "github.com/smallbiznis/loyalty/internal/scansession/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	RegisterValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(RequestContext())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	log             *zap.Logger
	authn           *auth.Authenticator
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	directorySvc    directorydomain.Service
	ledgerSvc       ledgerdomain.Service
	rewardTierSvc   rewardtierdomain.Service
	scanSessionSvc  scansessiondomain.Service
	confirmationSvc confirmationdomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Log             *zap.Logger
	Authn           *auth.Authenticator
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	DirectorySvc    directorydomain.Service
	LedgerSvc       ledgerdomain.Service
	RewardTierSvc   rewardtierdomain.Service
	ScanSessionSvc  scansessiondomain.Service
	ConfirmationSvc confirmationdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		log:             p.Log.Named("http.server"),
		authn:           p.Authn,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		directorySvc:    p.DirectorySvc,
		ledgerSvc:       p.LedgerSvc,
		rewardTierSvc:   p.RewardTierSvc,
		scanSessionSvc:  p.ScanSessionSvc,
		confirmationSvc: p.ConfirmationSvc,
	}

	svc.registerConsumerRoutes()
	svc.registerBusinessRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerConsumerRoutes() {
	consumer := s.engine.Group("/v1/consumer", s.authn.Middleware())

	// -------- Scan sessions --------
	consumer.POST("/scan-sessions", s.authorize(authorization.ObjectScanSession, authorization.ActionScanSessionPrepare), s.PrepareScanSession)
	consumer.DELETE("/scan-sessions/:token", s.authorize(authorization.ObjectScanSession, authorization.ActionScanSessionCancel), s.CancelScanSession)

	// -------- Loyalty accounts --------
	consumer.POST("/loyalty-accounts", s.authorize(authorization.ObjectLoyaltyAccount, authorization.ActionLoyaltyAccountJoin), s.JoinProgram)
	consumer.GET("/loyalty-accounts/:business_id", s.authorize(authorization.ObjectLoyaltyAccount, authorization.ActionLoyaltyAccountView), s.GetConsumerAccount)
}

func (s *Server) registerBusinessRoutes() {
	business := s.engine.Group("/v1/business", s.authn.Middleware())

	// -------- Scans --------
	business.POST("/scans", s.authorize(authorization.ObjectScanSession, authorization.ActionScanSessionProcess), s.ProcessScan)
	business.POST("/scans/accrual", s.authorize(authorization.ObjectScanSession, authorization.ActionScanSessionConfirmAccrual), s.ConfirmAccrual)
	business.POST("/scans/redemption", s.authorize(authorization.ObjectScanSession, authorization.ActionScanSessionConfirmRedemption), s.ConfirmRedemption)

	// -------- Loyalty accounts --------
	business.POST("/loyalty-accounts/:id/adjustments", s.authorize(authorization.ObjectLoyaltyAccount, authorization.ActionLoyaltyAccountAdjust), s.AdjustAccount)
	business.PATCH("/loyalty-accounts/:id/status", s.authorize(authorization.ObjectLoyaltyAccount, authorization.ActionLoyaltyAccountSetStatus), s.SetAccountStatus)
	business.GET("/loyalty-accounts/:id/reconcile", s.authorize(authorization.ObjectLoyaltyAccount, authorization.ActionLoyaltyAccountReconcile), s.ReconcileAccount)

	// -------- Reward tiers --------
	business.POST("/reward-tiers", s.authorize(authorization.ObjectRewardTier, authorization.ActionRewardTierCreate), s.CreateRewardTier)
	business.PATCH("/reward-tiers/:id", s.authorize(authorization.ObjectRewardTier, authorization.ActionRewardTierUpdate), s.UpdateRewardTier)

	// -------- Audit --------
	business.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

// recordAudit writes an audit row for a completed change. A failed write is
// logged and does not fail the request.
func (s *Server) recordAudit(c *gin.Context, entry auditdomain.Entry) {
	if s.auditSvc == nil {
		return
	}
	ctx := c.Request.Context()
	if err := s.auditSvc.Record(ctx, nil, entry); err != nil {
		obsmiddleware.WithContext(ctx, s.log).Warn("audit write failed",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}
