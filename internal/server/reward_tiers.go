package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	rewardtierdomain "github.com/smallbiznis/loyalty/internal/rewardtier/domain"
)

type updateRewardTierRequest struct {
	RequiredPoints *int64 `json:"required_points" binding:"omitempty,gt=0"`
	IsActive       *bool  `json:"is_active"`
}

func (s *Server) CreateRewardTier(c *gin.Context) {
	var req rewardtierdomain.CreateRewardTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	tier, err := s.rewardTierSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, auditdomain.Entry{
		BusinessID: tier.BusinessID,
		Action:     auditdomain.ActionRewardTierCreated,
		TargetType: auditdomain.TargetTypeRewardTier,
		TargetID:   tier.ID.String(),
		Metadata: map[string]any{
			"name":            tier.Name,
			"required_points": tier.RequiredPoints,
		},
	})

	c.JSON(http.StatusCreated, gin.H{"data": tier})
}

// UpdateRewardTier reprices or toggles a tier. Sessions prepared earlier
// keep the price they snapshotted.
func (s *Server) UpdateRewardTier(c *gin.Context) {
	ctx := c.Request.Context()
	tierID, err := parseIDParam(c.Param("id"), "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateRewardTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	if req.RequiredPoints == nil && req.IsActive == nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	before, err := s.rewardTierSvc.Get(ctx, tierID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	tier := before
	if req.RequiredPoints != nil {
		if tier, err = s.rewardTierSvc.UpdateRequiredPoints(ctx, tierID, *req.RequiredPoints); err != nil {
			AbortWithError(c, err)
			return
		}
	}
	if req.IsActive != nil {
		if tier, err = s.rewardTierSvc.SetActive(ctx, tierID, *req.IsActive); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	s.recordAudit(c, auditdomain.Entry{
		BusinessID: tier.BusinessID,
		Action:     auditdomain.ActionRewardTierUpdated,
		TargetType: auditdomain.TargetTypeRewardTier,
		TargetID:   tier.ID.String(),
		Metadata: map[string]any{
			"required_points_before": before.RequiredPoints,
			"required_points":        tier.RequiredPoints,
			"is_active_before":       before.IsActive,
			"is_active":              tier.IsActive,
		},
	})

	c.JSON(http.StatusOK, gin.H{"data": tier})
}
