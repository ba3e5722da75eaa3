package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/authd/internal/middleware"
	"github.com/noah-isme/authd/internal/models"
	appErrors "github.com/noah-isme/authd/pkg/errors"
	"github.com/noah-isme/authd/pkg/response"
	"github.com/noah-isme/authd/pkg/token"
)

// SignupSecretHeader carries the optional signup gate secret.
const SignupSecretHeader = "X-Signup-Secret"

type authService interface {
	Signup(ctx context.Context, req models.SignupRequest, meta models.SessionMeta) (*models.AuthResult, error)
	Login(ctx context.Context, req models.LoginRequest, meta models.SessionMeta) (*models.AuthResult, error)
	Refresh(ctx context.Context, raw string, meta models.SessionMeta) (*models.RefreshResult, error)
	Logout(ctx context.Context, raw string, meta models.SessionMeta) *models.LogoutResponse
	Me(ctx context.Context, claims *token.Claims) (*models.MeResponse, error)
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service authService
	cookie  RefreshCookie
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc authService, cookie RefreshCookie) *AuthHandler {
	return &AuthHandler{service: svc, cookie: cookie}
}

// Signup godoc
// @Summary Register account
// @Description Create an account and start a session. Sets the refresh cookie.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param X-Signup-Secret header string false "Signup secret when registration is gated"
// @Param payload body models.SignupRequest true "Signup payload"
// @Success 201 {object} models.AuthResponse
// @Failure 400 {object} response.ErrorEnvelope
// @Failure 403 {object} response.ErrorEnvelope
// @Failure 409 {object} response.ErrorEnvelope
// @Failure 429 {object} response.ErrorEnvelope
// @Router /auth/signup [post]
func (h *AuthHandler) Signup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidJSON.Code, http.StatusBadRequest, appErrors.ErrInvalidJSON.Message))
		return
	}
	req.Secret = c.GetHeader(SignupSecretHeader)

	res, err := h.service.Signup(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.cookie.set(c, res.Refresh.Token, res.Refresh.ExpiresAt)
	response.Created(c, res.Response)
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate user by email and password. Sets the refresh cookie.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} models.AuthResponse
// @Failure 400 {object} response.ErrorEnvelope
// @Failure 401 {object} response.ErrorEnvelope
// @Failure 429 {object} response.ErrorEnvelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidJSON.Code, http.StatusBadRequest, appErrors.ErrInvalidJSON.Message))
		return
	}

	res, err := h.service.Login(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.cookie.set(c, res.Refresh.Token, res.Refresh.ExpiresAt)
	response.JSON(c, http.StatusOK, res.Response)
}

// Refresh godoc
// @Summary Refresh access token
// @Description Rotate the refresh cookie and issue a new access token
// @Tags Authentication
// @Produce json
// @Success 200 {object} models.RefreshResponse
// @Failure 401 {object} response.ErrorEnvelope
// @Failure 429 {object} response.ErrorEnvelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	res, err := h.service.Refresh(c.Request.Context(), h.cookie.read(c), requestMeta(c))
	if err != nil {
		// Only client errors clear the cookie.
		if appErrors.FromError(err).Status < http.StatusInternalServerError {
			h.cookie.clear(c)
		}
		response.Error(c, err)
		return
	}

	h.cookie.set(c, res.Refresh.Token, res.Refresh.ExpiresAt)
	response.JSON(c, http.StatusOK, res.Response)
}

// Logout godoc
// @Summary Logout current session
// @Description Revoke the session named by the refresh cookie and clear it
// @Tags Authentication
// @Produce json
// @Success 200 {object} models.LogoutResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	res := h.service.Logout(c.Request.Context(), h.cookie.read(c), requestMeta(c))
	h.cookie.clear(c)
	response.JSON(c, http.StatusOK, res)
}

// Me godoc
// @Summary Get current user
// @Description Returns the bearer's account and session id
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.MeResponse
// @Failure 401 {object} response.ErrorEnvelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrMissingBearerToken, ""))
		return
	}

	res, err := h.service.Me(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res)
}
