package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/authd/internal/models"
	appErrors "github.com/noah-isme/authd/pkg/errors"
	"github.com/noah-isme/authd/pkg/response"
)

// ContextAdminKey is the gin context key storing the validated admin session.
const ContextAdminKey = "adminSession"

type sessionValidator interface {
	Validate(ctx context.Context, raw string) (*models.ValidatedSession, error)
}

// RequireAdmin validates the refresh cookie and checks the account against
// the admin allowlist.
func RequireAdmin(validator sessionValidator, cookieName string, isAdmin func(email string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(cookieName)
		if err != nil || raw == "" {
			response.Abort(c, appErrors.Clone(appErrors.ErrMissingRefreshToken, ""))
			return
		}

		session, err := validator.Validate(c.Request.Context(), raw)
		if err != nil {
			response.Abort(c, err)
			return
		}
		if isAdmin == nil || !isAdmin(session.User.Email) {
			response.Abort(c, appErrors.Clone(appErrors.ErrForbidden, ""))
			return
		}

		c.Set(ContextAdminKey, session)
		c.Next()
	}
}

// AdminFromContext returns the session stored by RequireAdmin, or nil.
func AdminFromContext(c *gin.Context) *models.ValidatedSession {
	value, exists := c.Get(ContextAdminKey)
	if !exists {
		return nil
	}
	session, _ := value.(*models.ValidatedSession)
	return session
}
