package main

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/authd/api/swagger"
	"github.com/noah-isme/authd/internal/handler"
	"github.com/noah-isme/authd/internal/models"
	"github.com/noah-isme/authd/internal/repository"
	"github.com/noah-isme/authd/internal/service"
	"github.com/noah-isme/authd/pkg/cache"
	"github.com/noah-isme/authd/pkg/config"
	"github.com/noah-isme/authd/pkg/database"
	"github.com/noah-isme/authd/pkg/discovery"
	"github.com/noah-isme/authd/pkg/jobs"
	"github.com/noah-isme/authd/pkg/logger"
	"github.com/noah-isme/authd/pkg/password"
	"github.com/noah-isme/authd/pkg/ratelimit"
	"github.com/noah-isme/authd/pkg/token"
)

// @title authd
// @version 1.0.0
// @description Email and password authentication with rotating refresh sessions
// @BasePath /api/v1
// @schemes http https

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.AutoMigrate {
		if err := database.Migrate(cfg.Database.URL(), database.MigrateUp); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logr.Info("migrations applied")
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	signer, err := signingKey(cfg, logr)
	if err != nil {
		return err
	}
	issuer, err := token.NewIssuer(signer, token.IssuerConfig{
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		KeyID:    cfg.JWT.KeyID,
		TTL:      cfg.JWT.AccessTTL,
	})
	if err != nil {
		return fmt.Errorf("access token issuer: %w", err)
	}
	verifier := token.NewVerifier(token.NewStaticKeySource(issuer.KeySet()), token.VerifierConfig{
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		Leeway:   cfg.JWT.Leeway,
	})

	hasher, err := password.New(password.Params{
		MemoryKB:    cfg.Password.MemoryKB,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
	})
	if err != nil {
		return fmt.Errorf("password hasher: %w", err)
	}

	limiter, closeLimiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	validate := validator.New()
	metrics := service.NewMetricsService()

	users := repository.NewUserRepository(db, cfg.Database.QueryTimeout)
	sessions := repository.NewSessionRepository(db, cfg.Database.QueryTimeout)
	origins := repository.NewCORSOriginRepository(db, cfg.Database.QueryTimeout)

	audit := service.NewAuditService(repository.NewAuditRepository(db, cfg.Database.QueryTimeout), logr)
	audit.Start(ctx)
	defer audit.Stop()

	corsSvc := service.NewCORSService(origins, cfg.CORS.AllowedOrigins, validate, metrics, logr)
	authSvc := service.NewAuthService(service.AuthDeps{
		Users:     users,
		Sessions:  sessions,
		Hasher:    hasher,
		Issuer:    issuer,
		Verifier:  verifier,
		Audit:     audit,
		Metrics:   metrics,
		Validator: validate,
		Logger:    logr,
	}, service.AuthConfig{
		RefreshTTL:    cfg.Session.RefreshTTL,
		SignupEnabled: cfg.Signup.Enabled,
		SignupSecret:  cfg.Signup.Secret,
	})
	userSvc := service.NewUserService(users, sessions, hasher, validate, logr)

	if cfg.Session.SweepInterval > 0 {
		sweeper := service.NewSessionSweeper(sessions, cfg.Session.Retention, metrics, logr)
		periodic := jobs.NewPeriodic("session-sweep", cfg.Session.SweepInterval, sweeper.Sweep, logr)
		periodic.Start(ctx)
		defer periodic.Stop()
	}

	router, err := handler.NewRouter(handler.RouterDeps{
		Config:    cfg,
		Logger:    logr,
		Auth:      authSvc,
		CORS:      corsSvc,
		Users:     userSvc,
		Audit:     audit,
		Limiter:   limiter,
		Metrics:   metrics,
		DB:        db,
		Keys:      issuer.KeySet(),
		Discovery: discoveryDocument(cfg),
	})
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	return serve(ctx, cfg, router, logr)
}

func serve(ctx context.Context, cfg *config.Config, router http.Handler, logr *zap.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func signingKey(cfg *config.Config, logr *zap.Logger) (crypto.Signer, error) {
	if cfg.JWT.PrivateKey != "" {
		signer, err := token.LoadSigningKey(cfg.JWT.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("load JWT_PRIVATE_KEY: %w", err)
		}
		return signer, nil
	}

	signer, generated, err := token.LoadOrGenerateSigningKey(cfg.JWT.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load signing key file: %w", err)
	}
	if generated {
		logr.Warn("generated a new signing key", zap.String("path", cfg.JWT.KeyFile))
	}
	return signer, nil
}

func newLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, func(), error) {
	rules := make(map[string]ratelimit.Rule, len(cfg.RateLimit.Routes))
	for route, rule := range cfg.RateLimit.Routes {
		rules[route] = ratelimit.Rule{Limit: rule.Limit, Window: rule.Window}
	}

	if cfg.RateLimit.Backend == config.RateLimitBackendRedis {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return ratelimit.NewRedis(client, rules), func() { _ = client.Close() }, nil
	}

	limiter, err := ratelimit.NewMemory(rules, cfg.RateLimit.MaxKeys)
	if err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}
	return limiter, func() {}, nil
}

func discoveryDocument(cfg *config.Config) discovery.Document {
	auth := cfg.APIPrefix + "/auth"
	return discovery.Document{
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
		JWKSURI:           strings.TrimSuffix(cfg.JWT.Issuer, "/") + "/.well-known/jwks.json",
		TokenType:         models.TokenTypeBearer,
		RefreshCookieName: cfg.Session.CookieName,
		Endpoints: discovery.Endpoints{
			Signup:  auth + "/signup",
			Login:   auth + "/login",
			Refresh: auth + "/refresh",
			Logout:  auth + "/logout",
			Me:      auth + "/me",
		},
	}
}
