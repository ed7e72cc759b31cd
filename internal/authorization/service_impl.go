package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	"github.com/smallbiznis/loyalty/internal/principal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const consumerDomain = "consumers"

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, object string, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	p, ok := principal.FromContext(ctx)
	if !ok {
		return principal.ErrUnauthenticated
	}
	subject, roleName, domain, err := resolveActor(p)
	if err != nil {
		return err
	}

	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("subject", subject),
			zap.String("domain", domain),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, p, object, action)
		return ErrForbidden
	}
	return nil
}

func resolveActor(p principal.Principal) (string, string, string, error) {
	role := strings.ToLower(strings.TrimSpace(p.Role))
	switch p.Kind {
	case principal.KindConsumer:
		return fmt.Sprintf("user:%s", p.UserID), "role:" + principal.RoleConsumer, consumerDomain, nil
	case principal.KindBusinessMember:
		if p.BusinessID == 0 || (role != principal.RoleStaff && role != principal.RoleOwner) {
			return "", "", "", ErrInvalidActor
		}
		return fmt.Sprintf("member:%s", p.MemberID), "role:" + role, fmt.Sprintf("business:%s", p.BusinessID), nil
	default:
		return "", "", "", ErrInvalidActor
	}
}

// ensureGrouping keeps exactly one role link per subject and domain so a
// demoted member loses the old role on the next request.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]any, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
				return err
			}
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, p principal.Principal, object string, action string) {
	if s.auditSvc == nil || p.BusinessID == 0 {
		return
	}
	if err := s.auditSvc.Record(ctx, nil, auditdomain.Entry{
		BusinessID: p.BusinessID,
		Action:     auditdomain.ActionAuthorizationDenied,
		TargetType: auditdomain.TargetTypeAuthorization,
		TargetID:   object,
		Metadata: map[string]any{
			"object": object,
			"action": action,
			"role":   p.Role,
		},
	}); err != nil {
		s.log.Warn("audit authorization denial failed", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Consumer devices
		{"role:consumer", ObjectScanSession, ActionScanSessionPrepare},
		{"role:consumer", ObjectScanSession, ActionScanSessionCancel},
		{"role:consumer", ObjectLoyaltyAccount, ActionLoyaltyAccountJoin},
		{"role:consumer", ObjectLoyaltyAccount, ActionLoyaltyAccountView},
		{"role:consumer", ObjectRewardTier, ActionRewardTierView},

		// Staff devices
		{"role:staff", ObjectScanSession, ActionScanSessionProcess},
		{"role:staff", ObjectScanSession, ActionScanSessionConfirmAccrual},
		{"role:staff", ObjectScanSession, ActionScanSessionConfirmRedemption},
		{"role:staff", ObjectLoyaltyAccount, ActionLoyaltyAccountView},
		{"role:staff", ObjectRewardTier, ActionRewardTierView},

		// Owners
		{"role:owner", ObjectScanSession, ActionScanSessionProcess},
		{"role:owner", ObjectScanSession, ActionScanSessionConfirmAccrual},
		{"role:owner", ObjectScanSession, ActionScanSessionConfirmRedemption},
		{"role:owner", ObjectLoyaltyAccount, ActionLoyaltyAccountView},
		{"role:owner", ObjectLoyaltyAccount, ActionLoyaltyAccountAdjust},
		{"role:owner", ObjectLoyaltyAccount, ActionLoyaltyAccountSetStatus},
		{"role:owner", ObjectLoyaltyAccount, ActionLoyaltyAccountReconcile},
		{"role:owner", ObjectRewardTier, ActionRewardTierView},
		{"role:owner", ObjectRewardTier, ActionRewardTierCreate},
		{"role:owner", ObjectRewardTier, ActionRewardTierUpdate},
		{"role:owner", ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
