package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v4"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/authd/internal/middleware"
	"github.com/noah-isme/authd/internal/models"
	"github.com/noah-isme/authd/internal/service"
	"github.com/noah-isme/authd/pkg/config"
	"github.com/noah-isme/authd/pkg/discovery"
	"github.com/noah-isme/authd/pkg/logger"
	"github.com/noah-isme/authd/pkg/middleware/cors"
	"github.com/noah-isme/authd/pkg/middleware/requestid"
	"github.com/noah-isme/authd/pkg/ratelimit"
	"github.com/noah-isme/authd/pkg/token"
)

// RouterAuthService is everything the routes need from the auth service.
type RouterAuthService interface {
	authService
	sessionRevoker
	VerifyAccessToken(ctx context.Context, raw string) (*token.Claims, error)
	Validate(ctx context.Context, raw string) (*models.ValidatedSession, error)
}

// RouterCORSService serves both the CORS middleware and the admin API.
type RouterCORSService interface {
	corsAdminService
	cors.OriginPolicy
}

type auditRecorder interface {
	Record(ctx context.Context, entry *models.AuditLog)
}

// RouterDeps wires the HTTP surface.
type RouterDeps struct {
	Config    *config.Config
	Logger    *zap.Logger
	Auth      RouterAuthService
	CORS      RouterCORSService
	Users     userAdminService
	Audit     auditRecorder
	Limiter   ratelimit.Limiter
	Metrics   *service.MetricsService
	DB        pinger
	Keys      jose.JSONWebKeySet
	Discovery discovery.Document
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps RouterDeps) (*gin.Engine, error) {
	cfg := deps.Config
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	r.Use(gin.Recovery())
	r.Use(requestid.Middleware())
	r.Use(logger.GinMiddleware(log))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(cors.New(deps.CORS))

	ops := NewMetricsHandler(deps.Metrics, deps.DB)
	r.GET("/health", ops.Health)
	r.GET("/ready", ops.Ready)
	r.GET("/metrics", ops.Prometheus)

	keys := NewKeysHandler(deps.Keys, deps.Discovery, cfg.JWT.JWKSMaxAge, cfg.JWT.JWKSRevalidate, cfg.Discovery.CacheTTL)
	r.GET("/.well-known/jwks.json", keys.JWKS)
	r.GET(discovery.WellKnownPath, keys.Discovery)

	api := r.Group(cfg.APIPrefix)

	authHandler := NewAuthHandler(deps.Auth, NewRefreshCookie(cfg))
	limit := func(route string) gin.HandlerFunc {
		return middleware.RateLimit(deps.Limiter, route, deps.Metrics, log)
	}
	auth := api.Group("/auth")
	auth.POST("/signup", limit(config.RouteSignup), authHandler.Signup)
	auth.POST("/login", limit(config.RouteLogin), authHandler.Login)
	auth.POST("/refresh", limit(config.RouteRefresh), authHandler.Refresh)
	auth.POST("/logout", limit(config.RouteLogout), authHandler.Logout)
	auth.GET("/me", middleware.JWT(deps.Auth), authHandler.Me)
	auth.GET("/jwks", keys.JWKS)

	adminHandler := NewAdminHandler(deps.CORS, deps.Users, deps.Auth)
	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(deps.Audit, action, resource)
	}
	admin := api.Group("/admin", middleware.RequireAdmin(deps.Auth, cfg.Session.CookieName, cfg.IsAdmin))
	admin.GET("/cors-origins", adminHandler.ListCORSOrigins)
	admin.POST("/cors-origins", audit(models.AuditActionCORSOriginCreate, models.AuditResourceCORSOrigin), adminHandler.CreateCORSOrigin)
	admin.DELETE("/cors-origins/:id", audit(models.AuditActionCORSOriginDelete, models.AuditResourceCORSOrigin), adminHandler.DeleteCORSOrigin)
	admin.GET("/users", adminHandler.ListUsers)
	admin.PATCH("/users/:id", audit(models.AuditActionUserUpdate, models.AuditResourceUser), adminHandler.UpdateUser)
	admin.DELETE("/users/:id", audit(models.AuditActionUserDelete, models.AuditResourceUser), adminHandler.DeleteUser)
	admin.GET("/users/:id/sessions", adminHandler.ListUserSessions)
	admin.DELETE("/sessions/:id", audit(models.AuditActionSessionRevoke, models.AuditResourceSession), adminHandler.RevokeSession)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r, nil
}
