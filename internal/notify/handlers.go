package notify

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clearhold/clearhold/internal/pagination"
)

// Handler exposes notification reads over HTTP.
type Handler struct {
	service *Service
	hub     *Hub
}

func NewHandler(service *Service, hub *Hub) *Handler {
	return &Handler{service: service, hub: hub}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/accounts/:accountId/notifications", h.List)
	r.POST("/notifications/:id/read", h.MarkRead)
}

// RegisterStreamRoute mounts the websocket event stream.
func (h *Handler) RegisterStreamRoute(r gin.IRouter) {
	r.GET("/ws", func(c *gin.Context) {
		h.hub.HandleWebSocket(c.Writer, c.Request)
	})
}

func (h *Handler) List(c *gin.Context) {
	limit := queryLimit(c, 50)
	before, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "malformed pagination cursor"})
		return
	}

	list, next, err := h.service.ListByAccount(c.Request.Context(), c.Param("accountId"), before, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list notifications"})
		return
	}

	resp := gin.H{"notifications": list, "count": len(list)}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) MarkRead(c *gin.Context) {
	err := h.service.MarkRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "notification not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to mark notification read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

func queryLimit(c *gin.Context, def int) int {
	raw := c.Query("limit")
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
