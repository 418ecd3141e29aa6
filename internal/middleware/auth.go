package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/campus-live/backend/internal/auth"
	"github.com/campus-live/backend/internal/models"
	"github.com/campus-live/backend/pkg/response"
)

// Gin context keys set by JWT.
const (
	ContextUserID   = "user_id"
	ContextUserRole = "user_role"
)

// TokenValidator checks a bearer token. *auth.JWTService implements it.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// JWT rejects requests without a valid bearer token and stores the caller
// id and role on the context.
func JWT(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			response.Abort(c, http.StatusUnauthorized, "missing or malformed bearer token")
			return
		}
		claims, err := v.Validate(token)
		if err != nil {
			_ = c.Error(err)
			response.Abort(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Next()
	}
}

// bearer extracts the token of an "Authorization: Bearer <token>" header.
// The scheme is case-insensitive.
func bearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireRole lets only the given roles through. It must run after JWT.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := Role(c)
		switch {
		case role == "":
			response.Abort(c, http.StatusUnauthorized, "missing user context")
		case !slices.Contains(roles, role):
			response.Abort(c, http.StatusForbidden, "insufficient permissions")
		default:
			c.Next()
		}
	}
}

// Role returns the caller role set by JWT, or "" when unauthenticated.
func Role(c *gin.Context) models.Role {
	role, _ := c.Value(ContextUserRole).(models.Role)
	return role
}

// UserID returns the caller id set by JWT, or uuid.Nil.
func UserID(c *gin.Context) uuid.UUID {
	id, _ := c.Value(ContextUserID).(uuid.UUID)
	return id
}
