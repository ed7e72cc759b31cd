package migration

import (
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	directorydomain "github.com/smallbiznis/loyalty/internal/directory/domain"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	qrtokendomain "github.com/smallbiznis/loyalty/internal/qrtoken/domain"
	rewardtierdomain "github.com/smallbiznis/loyalty/internal/rewardtier/domain"
	scansessiondomain "github.com/smallbiznis/loyalty/internal/scansession/domain"
)

// Models lists every table of the loyalty core in dependency order.
func Models() []any {
	return []any{
		&directorydomain.Business{},
		&directorydomain.BusinessLocation{},
		&directorydomain.BusinessMember{},
		&directorydomain.Consumer{},
		&rewardtierdomain.LoyaltyProgram{},
		&rewardtierdomain.RewardTier{},
		&qrtokendomain.QrToken{},
		&ledgerdomain.LoyaltyAccount{},
		&ledgerdomain.PointsTransaction{},
		&scansessiondomain.ScanSession{},
		&auditdomain.AuditLog{},
	}
}
