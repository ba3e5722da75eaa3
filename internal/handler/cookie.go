package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/authd/pkg/config"
)

// RefreshCookie describes the HttpOnly cookie carrying the refresh token.
type RefreshCookie struct {
	Name     string
	Domain   string
	SameSite http.SameSite
	Secure   bool
	Now      func() time.Time
}

// NewRefreshCookie derives cookie attributes from configuration.
func NewRefreshCookie(cfg *config.Config) RefreshCookie {
	sameSite := http.SameSiteLaxMode
	switch cfg.Session.CookieSameSite {
	case "none":
		sameSite = http.SameSiteNoneMode
	case "strict":
		sameSite = http.SameSiteStrictMode
	}
	return RefreshCookie{
		Name:     cfg.Session.CookieName,
		Domain:   cfg.Session.CookieDomain,
		SameSite: sameSite,
		Secure:   cfg.CookieSecure(),
	}
}

func (rc RefreshCookie) read(c *gin.Context) string {
	value, err := c.Cookie(rc.Name)
	if err != nil {
		return ""
	}
	return value
}

func (rc RefreshCookie) set(c *gin.Context, value string, expiresAt time.Time) {
	now := time.Now
	if rc.Now != nil {
		now = rc.Now
	}
	maxAge := int(expiresAt.Sub(now()).Seconds())
	if maxAge <= 0 {
		rc.clear(c)
		return
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     rc.Name,
		Value:    value,
		Path:     "/",
		Domain:   rc.Domain,
		Expires:  expiresAt.UTC(),
		MaxAge:   maxAge,
		Secure:   rc.Secure,
		HttpOnly: true,
		SameSite: rc.SameSite,
	})
}

func (rc RefreshCookie) clear(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     rc.Name,
		Value:    "",
		Path:     "/",
		Domain:   rc.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		Secure:   rc.Secure,
		HttpOnly: true,
		SameSite: rc.SameSite,
	})
}
