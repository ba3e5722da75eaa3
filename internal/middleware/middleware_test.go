package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/authd/internal/models"
	"github.com/noah-isme/authd/internal/service"
	appErrors "github.com/noah-isme/authd/pkg/errors"
	"github.com/noah-isme/authd/pkg/ratelimit"
	"github.com/noah-isme/authd/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

type stubVerifier struct {
	claims *token.Claims
	err    error
	seen   string
}

func (s *stubVerifier) VerifyAccessToken(ctx context.Context, raw string) (*token.Claims, error) {
	s.seen = raw
	return s.claims, s.err
}

func TestJWT(t *testing.T) {
	claims := &token.Claims{SessionID: "sid-1", RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}

	cases := []struct {
		name     string
		header   string
		verifier *stubVerifier
		status   int
		code     string
	}{
		{name: "missing", header: "", verifier: &stubVerifier{claims: claims}, status: http.StatusUnauthorized, code: "missing_bearer_token"},
		{name: "wrong scheme", header: "Basic abc", verifier: &stubVerifier{claims: claims}, status: http.StatusUnauthorized, code: "missing_bearer_token"},
		{name: "empty token", header: "Bearer   ", verifier: &stubVerifier{claims: claims}, status: http.StatusUnauthorized, code: "missing_bearer_token"},
		{name: "invalid", header: "Bearer abc", verifier: &stubVerifier{err: appErrors.Clone(appErrors.ErrInvalidToken, "")}, status: http.StatusUnauthorized, code: "invalid_token"},
		{name: "valid", header: "bearer good-token", verifier: &stubVerifier{claims: claims}, status: http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/me", JWT(tc.verifier), func(c *gin.Context) {
				got := ClaimsFromContext(c)
				c.JSON(http.StatusOK, gin.H{"sub": got.Subject})
			})

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.code != "" {
				assert.Equal(t, tc.code, decodeError(t, rec).Error.Code)
				return
			}
			assert.Equal(t, "good-token", tc.verifier.seen)
			assert.JSONEq(t, `{"sub":"user-1"}`, rec.Body.String())
		})
	}
}

type failingLimiter struct{}

func (failingLimiter) Check(ctx context.Context, route, ip string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

func TestRateLimit(t *testing.T) {
	limiter, err := ratelimit.NewMemory(map[string]ratelimit.Rule{"login": {Limit: 2, Window: time.Minute}}, 0)
	require.NoError(t, err)

	calls := 0
	r := gin.New()
	r.POST("/login", RateLimit(limiter, "login", service.NewMetricsService(), nil), func(c *gin.Context) {
		calls++
		c.Status(http.StatusOK)
	})
	r.POST("/open", RateLimit(limiter, "unconfigured", nil, nil), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "198.51.100.4:5555"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	first := do("/login")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusOK, do("/login").Code)

	limited := do("/login")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "rate_limited", decodeError(t, limited).Error.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))
	assert.Equal(t, 2, calls)

	open := do("/open")
	assert.Equal(t, http.StatusOK, open.Code)
	assert.Empty(t, open.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	r := gin.New()
	r.POST("/login", RateLimit(failingLimiter{}, "login", nil, nil), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type stubSessionValidator struct {
	session *models.ValidatedSession
	err     error
}

func (s stubSessionValidator) Validate(ctx context.Context, raw string) (*models.ValidatedSession, error) {
	return s.session, s.err
}

func TestRequireAdmin(t *testing.T) {
	admin := &models.ValidatedSession{User: &models.User{ID: "u-1", Email: "root@example.com"}, SessionID: "s-1"}
	user := &models.ValidatedSession{User: &models.User{ID: "u-2", Email: "user@example.com"}, SessionID: "s-2"}
	isAdmin := func(email string) bool { return email == "root@example.com" }

	cases := []struct {
		name      string
		cookie    string
		validator stubSessionValidator
		status    int
		code      string
	}{
		{name: "no cookie", validator: stubSessionValidator{session: admin}, status: http.StatusUnauthorized, code: "missing_refresh_token"},
		{name: "invalid cookie", cookie: "bad", validator: stubSessionValidator{err: appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")}, status: http.StatusUnauthorized, code: "invalid_refresh_token"},
		{name: "not admin", cookie: "ok", validator: stubSessionValidator{session: user}, status: http.StatusForbidden, code: "forbidden"},
		{name: "admin", cookie: "ok", validator: stubSessionValidator{session: admin}, status: http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/admin", RequireAdmin(tc.validator, "authd_refresh", isAdmin), func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"id": AdminFromContext(c).User.ID})
			})

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "authd_refresh", Value: tc.cookie})
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.code != "" {
				assert.Equal(t, tc.code, decodeError(t, rec).Error.Code)
			}
		})
	}
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (r *recordingAudit) Record(ctx context.Context, entry *models.AuditLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func TestAuditRecordsSuccessfulWrites(t *testing.T) {
	recorder := &recordingAudit{}
	admin := &models.ValidatedSession{User: &models.User{ID: "u-1"}}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextAdminKey, admin)
		c.Next()
	})
	r.DELETE("/cors-origins/:id", Audit(recorder, models.AuditActionCORSOriginDelete, models.AuditResourceCORSOrigin), func(c *gin.Context) {
		if c.Param("id") == "missing" {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusNoContent)
	})

	for _, id := range []string{"abc", "missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/cors-origins/"+id, nil))
	}

	require.Len(t, recorder.entries, 1)
	entry := recorder.entries[0]
	assert.Equal(t, models.AuditActionCORSOriginDelete, entry.Action)
	assert.Equal(t, "abc", *entry.ResourceID)
	assert.Equal(t, "u-1", *entry.UserID)
	require.NotNil(t, entry.NewValues)
	assert.Contains(t, *entry.NewValues, `"/cors-origins/:id"`)
}

func TestMetricsLabelsUnmatchedRoutes(t *testing.T) {
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/health", "/wp-admin.php"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	paths := map[string]bool{}
	for _, family := range families {
		if family.GetName() != "http_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "path" {
					paths[label.GetValue()] = true
				}
			}
		}
	}
	assert.True(t, paths["/health"])
	assert.True(t, paths[unmatchedRoute])
	assert.False(t, paths["/wp-admin.php"])
}
