package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/authd/internal/models"
	"github.com/noah-isme/authd/internal/repository"
	appErrors "github.com/noah-isme/authd/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateEmail(ctx context.Context, id, email string, updatedAt time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

type userSessionRepository interface {
	RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) (int64, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.Session, error)
}

type passwordHasher interface {
	Hash(password string) (string, error)
}

// UserService handles admin user management.
type UserService struct {
	repo      userRepository
	sessions  userSessionRepository
	hasher    passwordHasher
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, sessions userSessionRepository, hasher passwordHasher, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, sessions: sessions, hasher: hasher, validator: validate, logger: logger, now: time.Now}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) (*models.UserList, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	infos := make([]models.UserInfo, 0, len(users))
	for i := range users {
		infos = append(infos, users[i].Info())
	}

	return &models.UserList{
		Users: infos,
		Pagination: models.Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalCount: total,
		},
	}, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	if !isUUID(id) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	return user, nil
}

// Update changes a user's email and/or password. Any change revokes all of the
// user's sessions.
func (s *UserService) Update(ctx context.Context, id string, req models.UpdateUserRequest) (*models.UserInfo, error) {
	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		req.Email = &email
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, appErrors.ErrInvalidInput.Status, "invalid update payload")
	}
	if req.Email == nil && req.Password == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "email or password is required")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if req.Email != nil && *req.Email != user.Email {
		if err := s.repo.UpdateEmail(ctx, id, *req.Email, now); err != nil {
			switch {
			case errors.Is(err, repository.ErrDuplicate):
				return nil, appErrors.Clone(appErrors.ErrEmailTaken, "")
			case errors.Is(err, sql.ErrNoRows):
				return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
			}
			return nil, appErrors.Internal(err, "failed to update email")
		}
		user.Email = *req.Email
	}

	if req.Password != nil {
		hash, err := s.hasher.Hash(*req.Password)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to hash password")
		}
		if err := s.repo.UpdatePassword(ctx, id, hash, now); err != nil {
			return nil, appErrors.Internal(err, "failed to update password")
		}
	}

	revoked, err := s.sessions.RevokeAllForUser(ctx, id, now)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to revoke sessions")
	}
	s.logger.Info("user credentials updated", zap.String("user_id", id), zap.Int64("sessions_revoked", revoked))

	info := user.Info()
	return &info, nil
}

// Delete removes a user. Their sessions go with them.
func (s *UserService) Delete(ctx context.Context, id string) error {
	if !isUUID(id) {
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Internal(err, "failed to delete user")
	}
	return nil
}

// ListSessions returns the user's active sessions.
func (s *UserService) ListSessions(ctx context.Context, id string) ([]models.Session, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListActiveByUser(ctx, id, s.now().UTC())
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list sessions")
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	return sessions, nil
}

// isUUID reports whether id can name a row; every primary key is a UUID.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
