package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campus-live/backend/pkg/response"
)

// WebhookTokenHeader carries the shared secret of provider callbacks.
const WebhookTokenHeader = "X-Webhook-Token"

// WebhookToken rejects callbacks without the shared secret. An empty token
// disables the check.
func WebhookToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader(WebhookTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			response.Abort(c, http.StatusUnauthorized, "invalid webhook token")
			return
		}
		c.Next()
	}
}
