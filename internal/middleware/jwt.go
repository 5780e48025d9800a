package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/screenrec/pkg/response"
)

const (
	// ContextUserID is the key for the logged-in user ID in gin context.
	ContextUserID = "user_id"
)

// SessionChecker reports whether the agent holds a usable login.
type SessionChecker interface {
	Valid() bool
	UserID() string
}

// RequireSession rejects requests while the stored JWT is missing or expired. The agent
// attaches the stored token to remote calls itself, so callers send no Authorization header.
func RequireSession(sessions SessionChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !sessions.Valid() {
			response.Unauthorized(c, "not logged in or session expired")
			c.Abort()
			return
		}
		c.Set(ContextUserID, sessions.UserID())
		c.Next()
	}
}
