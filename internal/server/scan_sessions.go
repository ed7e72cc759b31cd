package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	confirmationdomain "github.com/smallbiznis/loyalty/internal/confirmation/domain"
	scansessiondomain "github.com/smallbiznis/loyalty/internal/scansession/domain"
)

type scanRequest struct {
	Token string `json:"token" binding:"required"`
}

// PrepareScanSession issues a QR token for the consumer's next visit.
func (s *Server) PrepareScanSession(c *gin.Context) {
	var req scansessiondomain.PrepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	resp, err := s.scanSessionSvc.Prepare(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

// CancelScanSession revokes a token the consumer no longer wants to show.
func (s *Server) CancelScanSession(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		AbortWithError(c, newValidationError("token", "invalid_token", "token is required"))
		return
	}

	if err := s.scanSessionSvc.Cancel(c.Request.Context(), token); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ProcessScan resolves a scanned token into what the staff app shows.
func (s *Server) ProcessScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	resp, err := s.scanSessionSvc.Process(c.Request.Context(), req.Token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ConfirmAccrual(c *gin.Context) {
	var req confirmationdomain.AccrualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	resp, err := s.confirmationSvc.ConfirmAccrual(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ConfirmRedemption(c *gin.Context) {
	var req confirmationdomain.RedemptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	resp, err := s.confirmationSvc.ConfirmRedemption(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
