package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getRequestID extracts request ID from context
func getRequestID(c *gin.Context) string {
	if reqID, exists := c.Get("request_id"); exists {
		if id, ok := reqID.(string); ok {
			return id
		}
	}
	return ""
}

// respondOK sends {ok: true} merged with fields
func respondOK(c *gin.Context, fields gin.H) {
	body := gin.H{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// respondFailure reports a processing error with HTTP 200 so webhook
// providers do not treat it as a delivery failure
func respondFailure(c *gin.Context, err error) {
	c.JSON(http.StatusOK, gin.H{
		"ok":    false,
		"error": err.Error(),
	})
}

// respondBadRequest sends a 400 for malformed client input
func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"ok":         false,
		"error":      message,
		"request_id": getRequestID(c),
	})
}
