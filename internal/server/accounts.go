package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clearhold/clearhold/internal/accounts"
	"github.com/clearhold/clearhold/internal/idgen"
	"github.com/clearhold/clearhold/internal/ledger"
	"github.com/clearhold/clearhold/internal/logging"
)

// createAccount handles POST /v1/accounts.
func (s *Server) createAccount(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		IdentityVerified bool  `json:"identityVerified"`
		DailyLimitCents  int64 `json:"dailyLimitCents"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.DailyLimitCents < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "dailyLimitCents must not be negative",
		})
		return
	}

	account := &accounts.Account{
		ID:               idgen.WithPrefix("acct"),
		IdentityVerified: req.IdentityVerified,
		DailyLimitCents:  req.DailyLimitCents,
		CreatedAt:        time.Now(),
	}
	if err := s.accountStore.Create(ctx, account); err != nil {
		logging.L(ctx).Error("failed to create account", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create account",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"account": account})
}

// getAccount handles GET /v1/accounts/:accountId.
func (s *Server) getAccount(c *gin.Context) {
	account, err := s.accountStore.Get(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Account not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load account",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

// getBalance handles GET /v1/accounts/:accountId/balance.
func (s *Server) getBalance(c *gin.Context) {
	balance, err := s.balances.Balance(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Account has no balance record",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load balance",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// getLedgerHistory handles GET /v1/accounts/:accountId/ledger.
func (s *Server) getLedgerHistory(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	entries, err := s.balances.History(c.Request.Context(), c.Param("accountId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load ledger history",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// recordDeposit handles POST /admin/deposits. In production this is
// driven by the payments pipeline; the endpoint exists for operations
// and local development.
func (s *Server) recordDeposit(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		AccountID   string `json:"accountId" binding:"required"`
		AmountCents int64  `json:"amountCents" binding:"required"`
		Reference   string `json:"reference"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "accountId and amountCents are required",
		})
		return
	}

	if err := s.balances.Credit(ctx, req.AccountID, req.AmountCents, req.Reference); err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "amountCents must be positive",
			})
			return
		}
		logging.L(ctx).Error("failed to record deposit", "error", err, "account_id", req.AccountID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to record deposit",
		})
		return
	}

	balance, err := s.balances.Balance(ctx, req.AccountID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "credited"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "credited", "balance": balance})
}

// listSecurityEvents handles GET /admin/accounts/:accountId/security-events.
func (s *Server) listSecurityEvents(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	events, err := s.auditLog.ListByAccount(c.Request.Context(), c.Param("accountId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load security events",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > 200 {
		return 200
	}
	return n
}
