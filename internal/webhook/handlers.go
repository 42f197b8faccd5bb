package webhook

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clearhold/clearhold/internal/audit"
	"github.com/clearhold/clearhold/internal/logging"
)

// SignatureHeader carries the processor's delivery signature.
const SignatureHeader = "Stripe-Signature"

// Handler exposes the inbound webhook endpoint.
type Handler struct {
	processor *Processor
	auditLog  audit.Store
}

func NewHandler(processor *Processor) *Handler {
	return &Handler{processor: processor}
}

// WithAuditLog records rejected deliveries to the security trail.
func (h *Handler) WithAuditLog(s audit.Store) *Handler {
	h.auditLog = s
	return h
}

// RegisterRoutes sets up the webhook route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/processor", h.Receive)
}

// Receive handles POST /webhooks/processor
func (h *Handler) Receive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Unable to read request body",
		})
		return
	}

	result, err := h.processor.Ingest(c.Request.Context(), body, c.GetHeader(SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingSecret):
			// Operator misconfiguration, not the sender's fault.
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "webhook_misconfigured",
				"message": "Webhook secret is not configured",
			})
		case errors.Is(err, ErrMissingSignature),
			errors.Is(err, ErrBadSignature),
			errors.Is(err, ErrStaleTimestamp),
			errors.Is(err, ErrMalformedPayload):
			h.recordRejection(c, err)
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "verification_failed",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "handler_failed",
				"message": "Event processing failed; delivery will be retried",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":  result.Received,
		"duplicate": result.Duplicate,
		"handled":   result.Handled,
		"event_id":  result.EventID,
	})
}

func (h *Handler) recordRejection(c *gin.Context, cause error) {
	if h.auditLog == nil {
		return
	}
	event := &audit.SecurityEvent{
		Type:      audit.EventWebhookRejected,
		SourceIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Metadata:  map[string]string{"cause": cause.Error()},
	}
	if err := h.auditLog.Append(c.Request.Context(), event); err != nil {
		logging.L(c.Request.Context()).Warn("webhook rejection audit write failed", "error", err)
	}
}
