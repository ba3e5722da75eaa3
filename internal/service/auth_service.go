package service

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/authd/internal/models"
	"github.com/noah-isme/authd/internal/repository"
	appErrors "github.com/noah-isme/authd/pkg/errors"
	"github.com/noah-isme/authd/pkg/refreshtoken"
	"github.com/noah-isme/authd/pkg/token"
)

type authUserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

type authSessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	Rotate(ctx context.Context, sessionID, nextHash string, nextExpiresAt, now time.Time, meta models.SessionMeta) (*models.RotateResult, error)
	RevokeByID(ctx context.Context, id string, revokedAt time.Time) (bool, error)
}

type credentialHasher interface {
	Hash(password string) (string, error)
	Verify(encoded, password string) bool
	NeedsRehash(encoded string) bool
	DummyVerify(password string)
}

type accessTokenIssuer interface {
	Issue(userID, sessionID string) (*token.Issued, error)
}

type accessTokenVerifier interface {
	Verify(ctx context.Context, raw string) (*token.Claims, error)
}

type auditRecorder interface {
	Record(ctx context.Context, entry *models.AuditLog)
}

// Auth event names used for metrics.
const (
	eventSignup  = "signup"
	eventLogin   = "login"
	eventRefresh = "refresh"
	eventLogout  = "logout"
)

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	RefreshTTL    time.Duration
	SignupEnabled bool
	SignupSecret  string
	Now           func() time.Time
}

// AuthDeps groups the collaborators of AuthService. Audit, Metrics, Validator
// and Logger are optional.
type AuthDeps struct {
	Users     authUserStore
	Sessions  authSessionStore
	Hasher    credentialHasher
	Issuer    accessTokenIssuer
	Verifier  accessTokenVerifier
	Audit     auditRecorder
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
}

// AuthService provides authentication use cases.
type AuthService struct {
	users     authUserStore
	sessions  authSessionStore
	hasher    credentialHasher
	issuer    accessTokenIssuer
	verifier  accessTokenVerifier
	audit     auditRecorder
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthDeps, config AuthConfig) *AuthService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.RefreshTTL <= 0 {
		config.RefreshTTL = 30 * 24 * time.Hour
	}
	return &AuthService{
		users:     deps.Users,
		sessions:  deps.Sessions,
		hasher:    deps.Hasher,
		issuer:    deps.Issuer,
		verifier:  deps.Verifier,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		validator: deps.Validator,
		logger:    deps.Logger,
		config:    config,
	}
}

// Signup registers a user and opens their first session.
func (s *AuthService) Signup(ctx context.Context, req models.SignupRequest, meta models.SessionMeta) (*models.AuthResult, error) {
	if !s.config.SignupEnabled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "signup is disabled")
	}
	if s.config.SignupSecret != "" &&
		subtle.ConstantTimeCompare([]byte(req.Secret), []byte(s.config.SignupSecret)) != 1 {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "signup secret is invalid")
	}

	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, appErrors.ErrInvalidInput.Status, "invalid signup payload")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}

	now := s.now()
	user := &models.User{Email: req.Email, PasswordHash: hash, CreatedAt: now, UpdatedAt: now}
	if err := s.users.Create(ctx, user); err != nil {
		s.metrics.RecordAuthEvent(eventSignup, OutcomeFailure)
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrEmailTaken, "")
		}
		return nil, appErrors.Internal(err, "failed to create user")
	}

	result, err := s.startSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordAuthEvent(eventSignup, OutcomeSuccess)
	s.record(ctx, models.AuditActionSignup, models.AuditResourceUser, user.ID, user.ID, meta, nil)
	return &result.AuthResult, nil
}

// Login authenticates credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest, meta models.SessionMeta) (*models.AuthResult, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, appErrors.ErrInvalidInput.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.hasher.DummyVerify(req.Password)
			return nil, s.loginFailed(ctx, "", meta)
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}

	if !s.hasher.Verify(user.PasswordHash, req.Password) {
		return nil, s.loginFailed(ctx, user.ID, meta)
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, req.Password)
	}

	result, err := s.startSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordAuthEvent(eventLogin, OutcomeSuccess)
	s.record(ctx, models.AuditActionLogin, models.AuditResourceSession, user.ID, result.sessionID, meta, nil)
	return &result.AuthResult, nil
}

// Refresh rotates the presented refresh token into a successor session.
func (s *AuthService) Refresh(ctx context.Context, raw string, meta models.SessionMeta) (*models.RefreshResult, error) {
	session, user, err := s.resolve(ctx, raw, meta)
	if err != nil {
		s.metrics.RecordAuthEvent(eventRefresh, OutcomeFailure)
		return nil, err
	}

	secret, err := refreshtoken.GenerateSecret()
	if err != nil {
		return nil, appErrors.Internal(err, "failed to generate refresh token")
	}

	now := s.now()
	rotated, err := s.sessions.Rotate(ctx, session.ID, refreshtoken.HashSecret(secret), now.Add(s.config.RefreshTTL), now, meta)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to rotate session")
	}
	if rotated == nil {
		s.metrics.RecordAuthEvent(eventRefresh, OutcomeFailure)
		return nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
	}

	issued, err := s.issuer.Issue(user.ID, rotated.Next.ID)
	if err != nil {
		s.discardSession(ctx, rotated.Next.ID)
		return nil, appErrors.Internal(err, "failed to issue access token")
	}

	s.metrics.RecordAuthEvent(eventRefresh, OutcomeSuccess)
	s.record(ctx, models.AuditActionRefresh, models.AuditResourceSession, user.ID, rotated.Next.ID, meta,
		map[string]string{"previousSessionId": rotated.PreviousID})

	return &models.RefreshResult{
		Response: models.RefreshResponse{
			AccessToken: issued.Token,
			TokenType:   models.TokenTypeBearer,
			ExpiresIn:   issued.ExpiresIn,
		},
		Refresh: models.RefreshCredential{
			Token:     refreshtoken.Build(rotated.Next.ID, secret),
			ExpiresAt: rotated.Next.ExpiresAt,
		},
	}, nil
}

// Logout revokes the session named by the refresh token. It never fails:
// missing, malformed and already revoked tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, raw string, meta models.SessionMeta) *models.LogoutResponse {
	resp := &models.LogoutResponse{Success: true}

	parts, ok := refreshtoken.Parse(raw)
	if !ok {
		return resp
	}

	revoked, err := s.sessions.RevokeByID(ctx, parts.SessionID, s.now())
	if err != nil {
		s.logger.Warn("failed to revoke session on logout", zap.String("session_id", parts.SessionID), zap.Error(err))
		s.metrics.RecordAuthEvent(eventLogout, OutcomeFailure)
		return resp
	}
	if revoked {
		s.metrics.RecordAuthEvent(eventLogout, OutcomeSuccess)
		s.record(ctx, models.AuditActionLogout, models.AuditResourceSession, "", parts.SessionID, meta, nil)
	}
	return resp
}

// Validate runs the refresh checks without rotating. Reuse detection still
// applies.
func (s *AuthService) Validate(ctx context.Context, raw string) (*models.ValidatedSession, error) {
	session, user, err := s.resolve(ctx, raw, models.SessionMeta{})
	if err != nil {
		return nil, err
	}
	return &models.ValidatedSession{User: user, SessionID: session.ID}, nil
}

// VerifyAccessToken checks a bearer token.
func (s *AuthService) VerifyAccessToken(ctx context.Context, raw string) (*token.Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, appErrors.Clone(appErrors.ErrMissingBearerToken, "")
	}
	claims, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
	}
	return claims, nil
}

// Me describes the bearer of verified claims.
func (s *AuthService) Me(ctx context.Context, claims *token.Claims) (*models.MeResponse, error) {
	if claims == nil || claims.Subject == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
	}
	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}
	return &models.MeResponse{User: user.Info(), SessionID: claims.SessionID}, nil
}

// RevokeSession revokes a session from the admin surface.
func (s *AuthService) RevokeSession(ctx context.Context, id string) error {
	if !isUUID(id) {
		return appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return appErrors.Internal(err, "failed to fetch session")
	}
	if session == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	if _, err := s.sessions.RevokeByID(ctx, id, s.now()); err != nil {
		return appErrors.Internal(err, "failed to revoke session")
	}
	return nil
}

// resolve is the read path shared by Refresh and Validate. A wrong secret for
// an active session revokes that session.
func (s *AuthService) resolve(ctx context.Context, raw string, meta models.SessionMeta) (*models.Session, *models.User, error) {
	if raw == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrMissingRefreshToken, "")
	}
	parts, ok := refreshtoken.Parse(raw)
	if !ok {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
	}

	session, err := s.sessions.FindByID(ctx, parts.SessionID)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to fetch session")
	}
	if session == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
	}

	now := s.now()
	if !session.Active(now) {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
	}

	if !refreshtoken.VerifySecret(parts.Secret, session.RefreshTokenHash) {
		s.metrics.RecordRefreshReuse()
		revoked, err := s.sessions.RevokeByID(ctx, session.ID, now)
		if err != nil {
			s.logger.Warn("failed to revoke session after secret mismatch", zap.String("session_id", session.ID), zap.Error(err))
		}
		s.logger.Warn("refresh token reuse detected", zap.String("session_id", session.ID), zap.Bool("revoked", revoked))
		s.record(ctx, models.AuditActionRefreshReuseDetected, models.AuditResourceSession, session.UserID, session.ID, meta, nil)
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
		}
		return nil, nil, appErrors.Internal(err, "failed to fetch user")
	}
	return session, user, nil
}

// discardSession revokes a session whose credential never reached the client.
func (s *AuthService) discardSession(ctx context.Context, id string) {
	if _, err := s.sessions.RevokeByID(context.WithoutCancel(ctx), id, s.now()); err != nil {
		s.logger.Warn("failed to revoke undelivered session", zap.String("session_id", id), zap.Error(err))
	}
}

type sessionStart struct {
	models.AuthResult
	sessionID string
}

func (s *AuthService) startSession(ctx context.Context, user *models.User, meta models.SessionMeta) (*sessionStart, error) {
	secret, err := refreshtoken.GenerateSecret()
	if err != nil {
		return nil, appErrors.Internal(err, "failed to generate refresh token")
	}

	now := s.now()
	session := &models.Session{
		UserID:           user.ID,
		RefreshTokenHash: refreshtoken.HashSecret(secret),
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.config.RefreshTTL),
		IPAddress:        meta.IP,
		UserAgent:        meta.UserAgent,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, appErrors.Internal(err, "failed to create session")
	}

	issued, err := s.issuer.Issue(user.ID, session.ID)
	if err != nil {
		s.discardSession(ctx, session.ID)
		return nil, appErrors.Internal(err, "failed to issue access token")
	}

	return &sessionStart{
		AuthResult: models.AuthResult{
			Response: models.AuthResponse{
				User:        user.Info(),
				AccessToken: issued.Token,
				TokenType:   models.TokenTypeBearer,
				ExpiresIn:   issued.ExpiresIn,
			},
			Refresh: models.RefreshCredential{
				Token:     refreshtoken.Build(session.ID, secret),
				ExpiresAt: session.ExpiresAt,
			},
		},
		sessionID: session.ID,
	}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, userID string, meta models.SessionMeta) error {
	s.metrics.RecordAuthEvent(eventLogin, OutcomeFailure)
	s.record(ctx, models.AuditActionLoginFailed, models.AuditResourceUser, userID, userID, meta, nil)
	return appErrors.Clone(appErrors.ErrInvalidCredentials, "")
}

func (s *AuthService) rehash(ctx context.Context, user *models.User, password string) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("failed to rehash password", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, s.now()); err != nil {
		s.logger.Warn("failed to store rehashed password", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	user.PasswordHash = hash
}

func (s *AuthService) record(ctx context.Context, action, resource, userID, resourceID string, meta models.SessionMeta, values any) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     strPtr(userID),
		Action:     action,
		Resource:   resource,
		ResourceID: strPtr(resourceID),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
		CreatedAt:  s.now(),
	}
	if values != nil {
		entry.NewValues = auditValues(values)
	}
	s.audit.Record(ctx, entry)
}

func (s *AuthService) now() time.Time {
	return s.config.Now().UTC()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
