package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/authd/internal/models"
)

// CORSOriginRepository stores the admin-managed origin allowlist.
type CORSOriginRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewCORSOriginRepository(db *sqlx.DB, timeout time.Duration) *CORSOriginRepository {
	return &CORSOriginRepository{db: db, timeout: timeout}
}

// List returns every approved origin.
func (r *CORSOriginRepository) List(ctx context.Context) ([]models.CORSOrigin, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	const query = `SELECT id, origin, created_at, updated_at FROM cors_origins ORDER BY origin ASC`
	var origins []models.CORSOrigin
	if err := r.db.SelectContext(ctx, &origins, query); err != nil {
		return nil, fmt.Errorf("list cors origins: %w", err)
	}
	return origins, nil
}

// Create inserts an origin; an existing origin yields ErrDuplicate.
func (r *CORSOriginRepository) Create(ctx context.Context, origin *models.CORSOrigin) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	if origin.ID == "" {
		origin.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	origin.CreatedAt = now
	origin.UpdatedAt = now

	const query = `INSERT INTO cors_origins (id, origin, created_at, updated_at) VALUES (:id, :origin, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, origin); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create cors origin: %w", err)
	}
	return nil
}

// Delete removes an origin by id, returning sql.ErrNoRows when absent.
func (r *CORSOriginRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM cors_origins WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete cors origin: %w", err)
	}
	return requireRow(res)
}
