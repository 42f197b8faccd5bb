package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for escrow payments. Transitions are
// webhook-driven; these routes only create and read records.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrow-payments", h.Create)
	r.GET("/escrow-payments/:id", h.Get)
	r.GET("/contracts/:id/escrow-payments", h.ListByContract)
}

// Create handles POST /v1/escrow-payments
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	e, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create escrow payment",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"escrow_payment": e})
}

// Get handles GET /v1/escrow-payments/:id
func (h *Handler) Get(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow payment not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load escrow payment",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow_payment": e})
}

// ListByContract handles GET /v1/contracts/:id/escrow-payments
func (h *Handler) ListByContract(c *gin.Context) {
	payments, err := h.service.ListByContract(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list escrow payments",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow_payments": payments, "count": len(payments)})
}
