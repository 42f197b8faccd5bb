package payouts

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clearhold/clearhold/internal/validation"
)

// Handler provides HTTP endpoints for withdrawals and payout methods.
type Handler struct {
	coordinator *Coordinator
}

func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// RegisterRoutes sets up the withdrawal and payout-method routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/withdrawals", h.RequestWithdrawal)
	r.GET("/withdrawals/:id", h.GetWithdrawal)
	r.GET("/accounts/:accountId/withdrawals", h.ListWithdrawals)
	r.POST("/payout-methods", h.AddMethod)
	r.GET("/accounts/:accountId/payout-methods", h.ListMethods)
	r.POST("/payout-methods/:id/verify", h.VerifyMethod)
}

// RegisterAdminRoutes sets up the manual-review queue routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/review-queue", h.ReviewQueue)
	r.POST("/withdrawals/:id/approve", h.ApproveWithdrawal)
	r.POST("/withdrawals/:id/reject", h.RejectWithdrawal)
}

type withdrawalRequestBody struct {
	AccountID      string `json:"account_id" binding:"required"`
	AmountCents    int64  `json:"amount_cents" binding:"required"`
	Currency       string `json:"currency" binding:"required"`
	PayoutMethodID string `json:"payout_method_id" binding:"required"`
	Urgency        string `json:"urgency"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

// RequestWithdrawal handles POST /v1/withdrawals
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var body withdrawalRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	urgency := Urgency(body.Urgency)
	if urgency == "" {
		urgency = UrgencyStandard
	}

	result, err := h.coordinator.RequestWithdrawal(c.Request.Context(), Request{
		AccountID:      body.AccountID,
		AmountCents:    body.AmountCents,
		Currency:       body.Currency,
		PayoutMethodID: body.PayoutMethodID,
		Urgency:        urgency,
		IdempotencyKey: body.IdempotencyKey,
		SourceIP:       c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
	})
	if err != nil {
		status, code := classify(err)
		c.JSON(status, gin.H{
			"error":   code,
			"message": err.Error(),
		})
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"withdrawal": result.Withdrawal,
		"duplicate":  result.Duplicate,
	})
}

// GetWithdrawal handles GET /v1/withdrawals/:id
func (h *Handler) GetWithdrawal(c *gin.Context) {
	w, err := h.coordinator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Withdrawal not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load withdrawal",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

// ListWithdrawals handles GET /v1/accounts/:accountId/withdrawals
func (h *Handler) ListWithdrawals(c *gin.Context) {
	ws, err := h.coordinator.ListByAccount(c.Request.Context(), c.Param("accountId"), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list withdrawals",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": ws, "count": len(ws)})
}

type addMethodBody struct {
	AccountID string `json:"account_id" binding:"required"`
	Rail      string `json:"rail" binding:"required"`
	Display   string `json:"display"`
}

// AddMethod handles POST /v1/payout-methods
func (h *Handler) AddMethod(c *gin.Context) {
	var body addMethodBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	m, err := h.coordinator.AddMethod(c.Request.Context(), body.AccountID, body.Rail, body.Display)
	if err != nil {
		status, code := classify(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payout_method": m})
}

// ListMethods handles GET /v1/accounts/:accountId/payout-methods
func (h *Handler) ListMethods(c *gin.Context) {
	methods, err := h.coordinator.ListMethods(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list payout methods",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout_methods": methods, "count": len(methods)})
}

// VerifyMethod handles POST /v1/payout-methods/:id/verify
func (h *Handler) VerifyMethod(c *gin.Context) {
	if err := h.coordinator.VerifyMethod(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, ErrMethodNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Payout method not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to verify payout method",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

// ReviewQueue handles GET /admin/review-queue
func (h *Handler) ReviewQueue(c *gin.Context) {
	ws, err := h.coordinator.ReviewQueue(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list review queue",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": ws, "count": len(ws)})
}

// ApproveWithdrawal handles POST /admin/withdrawals/:id/approve
func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	w, err := h.coordinator.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Withdrawal not found",
			})
			return
		}
		status, code := classify(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

type rejectBody struct {
	Reason string `json:"reason" binding:"required"`
}

// RejectWithdrawal handles POST /admin/withdrawals/:id/reject
func (h *Handler) RejectWithdrawal(c *gin.Context) {
	var body rejectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "A rejection reason is required",
		})
		return
	}

	reason := validation.SanitizeString(body.Reason, validation.MaxReasonLength)
	w, err := h.coordinator.Reject(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Withdrawal not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to reject withdrawal",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

// classify maps coordinator errors to HTTP status and error codes.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, ErrDailyLimitExceeded):
		return http.StatusUnprocessableEntity, "daily_limit_exceeded"
	case errors.Is(err, ErrProcessorUnavailable):
		return http.StatusServiceUnavailable, "processor_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func queryLimit(c *gin.Context) int {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}
	return limit
}
