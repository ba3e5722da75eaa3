package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/authd/internal/models"
)

const sessionColumns = `id, user_id, refresh_token_hash, created_at, expires_at, revoked_at, replaced_by_session_id, ip_address, user_agent`

const insertSession = `INSERT INTO sessions (id, user_id, refresh_token_hash, created_at, expires_at, ip_address, user_agent)
VALUES (:id, :user_id, :refresh_token_hash, :created_at, :expires_at, :ip_address, :user_agent)`

// SessionRepository persists refresh sessions.
type SessionRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB, timeout time.Duration) *SessionRepository {
	return &SessionRepository{db: db, timeout: timeout}
}

// Create inserts a new active session, assigning id and created_at when empty.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	prepareSession(session, time.Now().UTC())
	if _, err := r.db.NamedExecContext(ctx, insertSession, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns the session or nil when it does not exist.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &session, nil
}

// Rotate replaces an active session with a successor in one transaction.
//
// The successor is inserted first and the current row is then closed with a
// conditional update that re-checks the active predicate. If that update
// matches no row another rotation won, so the successor is deleted and Rotate
// returns nil. A nil result with a nil error means the session could not be
// rotated.
func (r *SessionRepository) Rotate(ctx context.Context, sessionID, nextHash string, nextExpiresAt, now time.Time, meta models.SessionMeta) (*models.RotateResult, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin rotate tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var current models.Session
	const load = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	if err := tx.GetContext(ctx, &current, load, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !current.Active(now) {
		return nil, nil
	}

	next := &models.Session{
		UserID:           current.UserID,
		RefreshTokenHash: nextHash,
		CreatedAt:        now,
		ExpiresAt:        nextExpiresAt,
		IPAddress:        meta.IP,
		UserAgent:        meta.UserAgent,
	}
	prepareSession(next, now)
	if _, err := tx.NamedExecContext(ctx, insertSession, next); err != nil {
		return nil, fmt.Errorf("insert successor: %w", err)
	}

	const closeCurrent = `UPDATE sessions SET revoked_at = $2, replaced_by_session_id = $3
WHERE id = $1 AND revoked_at IS NULL AND replaced_by_session_id IS NULL AND expires_at > $2`
	res, err := tx.ExecContext(ctx, closeCurrent, sessionID, now, next.ID)
	if err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("close session rows: %w", err)
	}

	if affected == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, next.ID); err != nil {
			return nil, fmt.Errorf("discard successor: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit lost rotation: %w", err)
		}
		committed = true
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rotation: %w", err)
	}
	committed = true

	return &models.RotateResult{PreviousID: sessionID, Next: next}, nil
}

// RevokeByID marks the session revoked. It reports false when the session was
// missing or already revoked.
func (r *SessionRepository) RevokeByID(ctx context.Context, id string, revokedAt time.Time) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	const query = `UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, revokedAt)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke session rows: %w", err)
	}
	return n > 0, nil
}

// RevokeAllForUser revokes every unrevoked session of the user.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	const query = `UPDATE sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, userID, revokedAt)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	return res.RowsAffected()
}

// DeleteInactive purges sessions that expired or were revoked before cutoff.
func (r *SessionRepository) DeleteInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	const query = `DELETE FROM sessions WHERE expires_at < $1 OR revoked_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete inactive sessions: %w", err)
	}
	return res.RowsAffected()
}

// ListActiveByUser returns the user's active sessions, newest first.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.Session, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	const query = `SELECT ` + sessionColumns + ` FROM sessions
WHERE user_id = $1 AND revoked_at IS NULL AND replaced_by_session_id IS NULL AND expires_at > $2
ORDER BY created_at DESC`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, userID, now); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func prepareSession(s *models.Session, now time.Time) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
}
