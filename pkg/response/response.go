// Package response writes the JSON envelope every endpoint of the live API
// answers with.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the envelope. A failed request carries a message and no data.
type Body struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JSON writes a successful envelope.
func JSON(c *gin.Context, status int, data any) {
	c.JSON(status, Body{Success: true, Data: data})
}

// OK writes a 200 envelope.
func OK(c *gin.Context, data any) {
	JSON(c, http.StatusOK, data)
}

// Abort writes a failed envelope and stops the handler chain, so it is safe
// to call from middleware.
func Abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Body{Error: msg})
}
