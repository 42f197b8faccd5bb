package contracts

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clearhold/clearhold/internal/validation"
)

// Handler exposes contract operations over HTTP.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/contracts", h.Create)
	r.GET("/contracts/:id", h.Get)
	r.GET("/accounts/:accountId/contracts", h.ListByAccount)
}

func (h *Handler) Create(c *gin.Context) {
	var req struct {
		ClientAccountID   string `json:"client_account_id" binding:"required"`
		ProviderAccountID string `json:"provider_account_id" binding:"required"`
		Title             string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "client_account_id, provider_account_id, and title are required",
		})
		return
	}

	// Titles show up verbatim in notifications and audit rows.
	title := validation.SanitizeString(req.Title, validation.MaxReasonLength)

	contract, err := h.service.Create(c.Request.Context(), req.ClientAccountID, req.ProviderAccountID, title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to create contract",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"contract": contract})
}

func (h *Handler) Get(c *gin.Context) {
	contract, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "contract not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to load contract",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

func (h *Handler) ListByAccount(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	list, err := h.service.ListByAccount(c.Request.Context(), c.Param("accountId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to list contracts",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contracts": list, "count": len(list)})
}
