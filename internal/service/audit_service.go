package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/authd/internal/models"
	"github.com/noah-isme/authd/pkg/jobs"
)

type auditStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

const auditWriteTimeout = 3 * time.Second

// AuditService writes audit entries off the request path. When the queue is
// unavailable entries are written inline so none are silently lost.
type AuditService struct {
	store  auditStore
	queue  *jobs.Queue[*models.AuditLog]
	logger *zap.Logger
}

// NewAuditService starts no goroutines; call Start to enable async writes.
func NewAuditService(store auditStore, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuditService{store: store, logger: logger}
	s.queue = jobs.NewQueue("audit", s.write, jobs.QueueConfig{
		Workers:    2,
		BufferSize: 256,
		MaxRetries: 2,
		Logger:     logger,
	})
	return s
}

// Start launches the background writers.
func (s *AuditService) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.queue.Start(ctx)
}

// Stop flushes pending entries.
func (s *AuditService) Stop() {
	if s == nil {
		return
	}
	s.queue.Stop()
}

// Record stores entry asynchronously when possible. Failures are logged.
func (s *AuditService) Record(ctx context.Context, entry *models.AuditLog) {
	if s == nil || s.store == nil || entry == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	err := s.queue.Enqueue(entry)
	if err == nil {
		return
	}
	if !errors.Is(err, jobs.ErrQueueClosed) && !errors.Is(err, jobs.ErrQueueFull) {
		s.logger.Warn("audit enqueue failed", zap.Error(err))
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := s.store.Create(writeCtx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}

func (s *AuditService) write(ctx context.Context, entry *models.AuditLog) error {
	writeCtx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()
	return s.store.Create(writeCtx, entry)
}

// auditValues renders v as the JSON stored in new_values.
func auditValues(v any) *string {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(raw)
	return &s
}

func strPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
