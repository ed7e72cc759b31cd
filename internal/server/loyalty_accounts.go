package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	"github.com/smallbiznis/loyalty/internal/principal"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
)

type joinRequest struct {
	BusinessID string `json:"business_id" binding:"required,snowflake_id"`
}

type adjustmentRequest struct {
	PointsDelta int64  `json:"points_delta" binding:"required,ne=0"`
	Note        string `json:"note" binding:"required,max=255"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required,oneof=ACTIVE SUSPENDED CLOSED"`
}

// JoinProgram opens the consumer's account at a business. Joining twice
// returns the existing account.
func (s *Server) JoinProgram(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := principal.Consumer(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	businessID, err := parseIDParam(req.BusinessID, "business_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if _, err := s.directorySvc.EnsureActiveBusiness(ctx, businessID); err != nil {
		AbortWithError(c, err)
		return
	}
	account, err := s.ledgerSvc.EnsureAccount(ctx, businessID, p.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

// GetConsumerAccount returns the consumer's balance at one business and a
// page of its transactions.
func (s *Server) GetConsumerAccount(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := principal.Consumer(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	businessID, err := parseIDParam(c.Param("business_id"), "business_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	account, err := s.ledgerSvc.FindAccount(ctx, businessID, p.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	history, err := s.ledgerSvc.ListTransactions(ctx, account.ID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"account":      account,
			"transactions": history.Transactions,
		},
		"page_info": history.PageInfo,
	})
}

// AdjustAccount applies a manual owner correction to a balance.
func (s *Server) AdjustAccount(c *gin.Context) {
	ctx := c.Request.Context()
	account, ok := s.businessAccount(c)
	if !ok {
		return
	}

	var req adjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	result, err := s.ledgerSvc.Adjust(ctx, ledgerdomain.AdjustRequest{
		AccountID:   account.ID,
		PointsDelta: req.PointsDelta,
		Note:        req.Note,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, auditdomain.Entry{
		BusinessID: account.BusinessID,
		Action:     auditdomain.ActionAccountAdjusted,
		TargetType: auditdomain.TargetTypeLoyaltyAccount,
		TargetID:   account.ID.String(),
		Metadata: map[string]any{
			"transaction_id": result.TransactionID.String(),
			"points_delta":   req.PointsDelta,
			"new_balance":    result.NewBalance,
			"note":           req.Note,
		},
	})

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// SetAccountStatus suspends, closes or reactivates an account.
func (s *Server) SetAccountStatus(c *gin.Context) {
	ctx := c.Request.Context()
	account, ok := s.businessAccount(c)
	if !ok {
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	updated, err := s.ledgerSvc.SetStatus(ctx, account.ID, ledgerdomain.AccountStatus(req.Status))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if updated.Status != account.Status {
		s.recordAudit(c, auditdomain.Entry{
			BusinessID: account.BusinessID,
			Action:     auditdomain.ActionAccountStatusChanged,
			TargetType: auditdomain.TargetTypeLoyaltyAccount,
			TargetID:   account.ID.String(),
			Metadata: map[string]any{
				"from": string(account.Status),
				"to":   string(updated.Status),
			},
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": updated})
}

// ReconcileAccount compares the cached balance with the ledger sum.
func (s *Server) ReconcileAccount(c *gin.Context) {
	account, ok := s.businessAccount(c)
	if !ok {
		return
	}

	result, err := s.ledgerSvc.Reconcile(c.Request.Context(), account.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// businessAccount loads the :id account and hides accounts of other
// businesses behind a not found.
func (s *Server) businessAccount(c *gin.Context) (ledgerdomain.LoyaltyAccount, bool) {
	ctx := c.Request.Context()
	p, err := principal.BusinessMember(ctx)
	if err != nil {
		AbortWithError(c, err)
		return ledgerdomain.LoyaltyAccount{}, false
	}
	accountID, err := parseIDParam(c.Param("id"), "id")
	if err != nil {
		AbortWithError(c, err)
		return ledgerdomain.LoyaltyAccount{}, false
	}

	account, err := s.ledgerSvc.GetAccount(ctx, accountID)
	if err != nil {
		AbortWithError(c, err)
		return ledgerdomain.LoyaltyAccount{}, false
	}
	if account.BusinessID != p.BusinessID {
		AbortWithError(c, ledgerdomain.ErrAccountNotFound)
		return ledgerdomain.LoyaltyAccount{}, false
	}
	return account, true
}
