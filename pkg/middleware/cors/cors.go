package cors

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/authd/pkg/errors"
	"github.com/noah-isme/authd/pkg/response"
)

// ErrInvalidOrigin is returned by NormalizeOrigin for anything that is not a
// bare http(s) scheme://host[:port].
var ErrInvalidOrigin = errors.New("invalid origin")

// OriginPolicy decides whether a cross-origin caller may talk to the API.
type OriginPolicy interface {
	Allowed(ctx context.Context, origin string) bool
}

// StaticPolicy allows a fixed set of origins.
type StaticPolicy map[string]struct{}

// NewStaticPolicy builds a StaticPolicy, skipping entries that do not normalise.
func NewStaticPolicy(origins []string) StaticPolicy {
	p := make(StaticPolicy, len(origins))
	for _, raw := range origins {
		if origin, err := NormalizeOrigin(raw); err == nil {
			p[origin] = struct{}{}
		}
	}
	return p
}

// Allowed implements OriginPolicy.
func (p StaticPolicy) Allowed(_ context.Context, origin string) bool {
	_, ok := p[origin]
	return ok
}

// New returns a CORS middleware consulting policy for cross-origin requests.
// Same-origin requests pass untouched; preflights end with 204. Cross-origin
// requests from a disallowed origin are rejected before the handler runs
// unless the method is safe.
func New(policy OriginPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Origin")
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""

		if raw == "" || sameOrigin(c.Request, raw) {
			if preflight {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Add("Vary", "Origin")

		origin, err := NormalizeOrigin(raw)
		allowed := err == nil && policy != nil && policy.Allowed(c.Request.Context(), origin)
		if allowed {
			h.Set("Access-Control-Allow-Origin", raw)
			h.Set("Access-Control-Allow-Credentials", "true")
			if preflight {
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With, X-Request-ID, X-Signup-Secret")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Max-Age", "600")
			}
		}

		if preflight {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		if !allowed && !safeMethod(c.Request.Method) {
			response.Abort(c, appErrors.Clone(appErrors.ErrForbidden, "origin not allowed"))
			return
		}

		c.Next()
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// NormalizeOrigin lower-cases scheme and host and strips a trailing slash.
func NormalizeOrigin(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", ErrInvalidOrigin
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", ErrInvalidOrigin
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", ErrInvalidOrigin
	}

	return scheme + "://" + strings.ToLower(u.Host), nil
}

func sameOrigin(r *http.Request, raw string) bool {
	origin, err := NormalizeOrigin(raw)
	if err != nil {
		return false
	}
	return origin == requestScheme(r)+"://"+strings.ToLower(r.Host)
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return "http"
}
