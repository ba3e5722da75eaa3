package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/authd/pkg/errors"
	"github.com/noah-isme/authd/pkg/response"
	"github.com/noah-isme/authd/pkg/token"
)

// ContextClaimsKey is the gin context key storing verified access token claims.
const ContextClaimsKey = "accessClaims"

type bearerVerifier interface {
	VerifyAccessToken(ctx context.Context, raw string) (*token.Claims, error)
}

// JWT protects routes by requiring a valid bearer access token.
func JWT(verifier bearerVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Abort(c, appErrors.Clone(appErrors.ErrMissingBearerToken, ""))
			return
		}

		claims, err := verifier.VerifyAccessToken(c.Request.Context(), raw)
		if err != nil {
			response.Abort(c, err)
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Next()
	}
}

// ClaimsFromContext returns claims stored by JWT, or nil.
func ClaimsFromContext(c *gin.Context) *token.Claims {
	value, exists := c.Get(ContextClaimsKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*token.Claims)
	return claims
}

func bearerToken(header string) (string, bool) {
	scheme, raw, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
