package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/authd/internal/models"
	"github.com/noah-isme/authd/internal/repository"
	appErrors "github.com/noah-isme/authd/pkg/errors"
	"github.com/noah-isme/authd/pkg/middleware/cors"
)

type corsOriginStore interface {
	List(ctx context.Context) ([]models.CORSOrigin, error)
	Create(ctx context.Context, origin *models.CORSOrigin) error
	Delete(ctx context.Context, id string) error
}

// CORSService manages the cross-origin allowlist and caches it for the CORS
// middleware. The cache loads lazily and is dropped on every admin write.
type CORSService struct {
	store     corsOriginStore
	static    cors.StaticPolicy
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger

	mu      sync.RWMutex
	loaded  bool
	origins map[string]struct{}
}

// NewCORSService merges static origins from configuration into the stored set.
func NewCORSService(store corsOriginStore, static []string, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *CORSService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CORSService{
		store:     store,
		static:    cors.NewStaticPolicy(static),
		validator: validate,
		metrics:   metrics,
		logger:    logger,
	}
}

// Allowed implements cors.OriginPolicy. origin must already be normalised.
func (s *CORSService) Allowed(ctx context.Context, origin string) bool {
	if s.static.Allowed(ctx, origin) {
		return true
	}

	s.mu.RLock()
	if s.loaded {
		_, ok := s.origins[origin]
		s.mu.RUnlock()
		s.metrics.RecordCacheOperation(true)
		return ok
	}
	s.mu.RUnlock()

	origins, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("failed to load cors origins", zap.Error(err))
		return false
	}
	_, ok := origins[origin]
	return ok
}

func (s *CORSService) load(ctx context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.origins, nil
	}

	s.metrics.RecordCacheOperation(false)
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	origins := make(map[string]struct{}, len(records))
	for _, record := range records {
		origins[record.Origin] = struct{}{}
	}
	s.origins = origins
	s.loaded = true
	return origins, nil
}

// Invalidate drops the cached allowlist.
func (s *CORSService) Invalidate() {
	s.mu.Lock()
	s.loaded = false
	s.origins = nil
	s.mu.Unlock()
}

// List returns stored origins.
func (s *CORSService) List(ctx context.Context) ([]models.CORSOrigin, error) {
	origins, err := s.store.List(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list cors origins")
	}
	if origins == nil {
		origins = []models.CORSOrigin{}
	}
	return origins, nil
}

// Add stores a normalised origin.
func (s *CORSService) Add(ctx context.Context, req models.CORSOriginRequest) (*models.CORSOrigin, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, appErrors.ErrInvalidInput.Status, "invalid cors origin payload")
	}
	origin, err := cors.NormalizeOrigin(req.Origin)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, appErrors.ErrInvalidInput.Status, "origin must be scheme://host[:port]")
	}

	record := &models.CORSOrigin{Origin: origin}
	if err := s.store.Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrInvalidInput, "origin is already allowed")
		}
		return nil, appErrors.Internal(err, "failed to create cors origin")
	}

	s.Invalidate()
	return record, nil
}

// Remove deletes an origin by id.
func (s *CORSService) Remove(ctx context.Context, id string) error {
	if !isUUID(id) {
		return appErrors.Clone(appErrors.ErrNotFound, "cors origin not found")
	}
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "cors origin not found")
		}
		return appErrors.Internal(err, "failed to delete cors origin")
	}
	s.Invalidate()
	return nil
}
