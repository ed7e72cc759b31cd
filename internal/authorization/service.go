package authorization

import (
	"context"
	"errors"
)

const (
	ObjectScanSession    = "scan_session"
	ObjectLoyaltyAccount = "loyalty_account"
	ObjectRewardTier     = "reward_tier"
	ObjectAuditLog       = "audit_log"
)

const (
	ActionScanSessionPrepare           = "scan_session.prepare"
	ActionScanSessionCancel            = "scan_session.cancel"
	ActionScanSessionProcess           = "scan_session.process"
	ActionScanSessionConfirmAccrual    = "scan_session.confirm_accrual"
	ActionScanSessionConfirmRedemption = "scan_session.confirm_redemption"

	ActionLoyaltyAccountJoin      = "loyalty_account.join"
	ActionLoyaltyAccountView      = "loyalty_account.view"
	ActionLoyaltyAccountAdjust    = "loyalty_account.adjust"
	ActionLoyaltyAccountSetStatus = "loyalty_account.set_status"
	ActionLoyaltyAccountReconcile = "loyalty_account.reconcile"

	ActionRewardTierView   = "reward_tier.view"
	ActionRewardTierCreate = "reward_tier.create"
	ActionRewardTierUpdate = "reward_tier.update"

	ActionAuditLogView = "audit_log.view"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

// Service decides whether the principal on ctx may perform action on object.
type Service interface {
	Authorize(ctx context.Context, object string, action string) error
}
