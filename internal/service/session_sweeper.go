package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type sessionSweepStore interface {
	DeleteInactive(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionSweeper purges sessions that expired or were revoked before the
// retention cutoff. Correctness never depends on it running.
type SessionSweeper struct {
	store     sessionSweepStore
	retention time.Duration
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

func NewSessionSweeper(store sessionSweepStore, retention time.Duration, metrics *MetricsService, logger *zap.Logger) *SessionSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionSweeper{store: store, retention: retention, metrics: metrics, logger: logger, now: time.Now}
}

// Sweep runs one purge pass.
func (s *SessionSweeper) Sweep(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.retention)
	deleted, err := s.store.DeleteInactive(ctx, cutoff)
	if err != nil {
		return err
	}
	s.metrics.RecordSessionsSwept(deleted)
	if deleted > 0 {
		s.logger.Info("swept inactive sessions", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	}
	return nil
}
