// Package validation provides input guards applied ahead of handler
// binding: request body caps, resource identifier checks, and string
// sanitization for free-text fields that end up in audit rows and
// notifications.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize caps request bodies. Nothing on this API legitimately
// sends more than a small JSON document.
const MaxRequestSize = 1 << 20 // 1MB

// MaxReasonLength bounds operator- or processor-supplied free text.
const MaxReasonLength = 500

// Resource identifiers are prefix_token, the shape idgen produces.
var resourceIDRegex = regexp.MustCompile(`^[a-z]+_[A-Za-z0-9_]{1,64}$`)

// RequestSizeMiddleware rejects bodies larger than maxSize.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidResourceID reports whether s looks like a platform identifier.
func IsValidResourceID(s string) bool {
	return resourceIDRegex.MatchString(s)
}

// ResourceIDParamMiddleware rejects malformed identifiers in the named
// URL parameter before the handler hits a store.
func ResourceIDParamMiddleware(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param(param)
		if id != "" && !IsValidResourceID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": "malformed resource identifier",
			})
			return
		}
		c.Next()
	}
}

// SanitizeString trims, bounds, and strips null bytes from free text.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}
