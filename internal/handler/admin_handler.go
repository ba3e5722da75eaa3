package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/authd/internal/models"
	appErrors "github.com/noah-isme/authd/pkg/errors"
	"github.com/noah-isme/authd/pkg/response"
)

type corsAdminService interface {
	List(ctx context.Context) ([]models.CORSOrigin, error)
	Add(ctx context.Context, req models.CORSOriginRequest) (*models.CORSOrigin, error)
	Remove(ctx context.Context, id string) error
}

type userAdminService interface {
	List(ctx context.Context, filter models.UserFilter) (*models.UserList, error)
	Update(ctx context.Context, id string, req models.UpdateUserRequest) (*models.UserInfo, error)
	Delete(ctx context.Context, id string) error
	ListSessions(ctx context.Context, id string) ([]models.Session, error)
}

type sessionRevoker interface {
	RevokeSession(ctx context.Context, id string) error
}

// AdminHandler serves the admin surface. Callers are gated by
// middleware.RequireAdmin.
type AdminHandler struct {
	cors     corsAdminService
	users    userAdminService
	sessions sessionRevoker
}

func NewAdminHandler(cors corsAdminService, users userAdminService, sessions sessionRevoker) *AdminHandler {
	return &AdminHandler{cors: cors, users: users, sessions: sessions}
}

// ListCORSOrigins godoc
// @Summary List allowed origins
// @Tags Admin
// @Produce json
// @Success 200 {array} models.CORSOrigin
// @Failure 401 {object} response.ErrorEnvelope
// @Failure 403 {object} response.ErrorEnvelope
// @Router /admin/cors-origins [get]
func (h *AdminHandler) ListCORSOrigins(c *gin.Context) {
	origins, err := h.cors.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, origins)
}

// CreateCORSOrigin godoc
// @Summary Allow an origin
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body models.CORSOriginRequest true "Origin"
// @Success 201 {object} models.CORSOrigin
// @Failure 400 {object} response.ErrorEnvelope
// @Failure 403 {object} response.ErrorEnvelope
// @Router /admin/cors-origins [post]
func (h *AdminHandler) CreateCORSOrigin(c *gin.Context) {
	var req models.CORSOriginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidJSON.Code, http.StatusBadRequest, appErrors.ErrInvalidJSON.Message))
		return
	}
	origin, err := h.cors.Add(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, origin)
}

// DeleteCORSOrigin godoc
// @Summary Remove an allowed origin
// @Tags Admin
// @Param id path string true "Origin ID"
// @Success 204
// @Failure 404 {object} response.ErrorEnvelope
// @Router /admin/cors-origins/{id} [delete]
func (h *AdminHandler) DeleteCORSOrigin(c *gin.Context) {
	if err := h.cors.Remove(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListUsers godoc
// @Summary List users
// @Tags Admin
// @Produce json
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Param search query string false "Email substring"
// @Success 200 {object} models.UserList
// @Failure 403 {object} response.ErrorEnvelope
// @Router /admin/users [get]
func (h *AdminHandler) ListUsers(c *gin.Context) {
	var filter models.UserFilter
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("pageSize", "20")); err == nil {
		filter.PageSize = size
	}
	filter.Search = c.Query("search")

	list, err := h.users.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list)
}

// UpdateUser godoc
// @Summary Change a user's email or password
// @Description Revokes every session of the user
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body models.UpdateUserRequest true "Changes"
// @Success 200 {object} models.UserInfo
// @Failure 400 {object} response.ErrorEnvelope
// @Failure 404 {object} response.ErrorEnvelope
// @Failure 409 {object} response.ErrorEnvelope
// @Router /admin/users/{id} [patch]
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	var req models.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidJSON.Code, http.StatusBadRequest, appErrors.ErrInvalidJSON.Message))
		return
	}
	user, err := h.users.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user)
}

// DeleteUser godoc
// @Summary Delete a user
// @Tags Admin
// @Param id path string true "User ID"
// @Success 204
// @Failure 404 {object} response.ErrorEnvelope
// @Router /admin/users/{id} [delete]
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListUserSessions godoc
// @Summary List a user's active sessions
// @Tags Admin
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {array} models.Session
// @Failure 404 {object} response.ErrorEnvelope
// @Router /admin/users/{id}/sessions [get]
func (h *AdminHandler) ListUserSessions(c *gin.Context) {
	sessions, err := h.users.ListSessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions)
}

// RevokeSession godoc
// @Summary Revoke a session
// @Tags Admin
// @Param id path string true "Session ID"
// @Success 204
// @Failure 404 {object} response.ErrorEnvelope
// @Router /admin/sessions/{id} [delete]
func (h *AdminHandler) RevokeSession(c *gin.Context) {
	if err := h.sessions.RevokeSession(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
