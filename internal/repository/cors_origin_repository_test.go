package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/authd/internal/models"
)

func TestCORSOriginList(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCORSOriginRepository(db, time.Second)

	now := time.Now()
	mock.ExpectQuery("SELECT id, origin, created_at, updated_at FROM cors_origins").
		WillReturnRows(sqlmock.NewRows([]string{"id", "origin", "created_at", "updated_at"}).
			AddRow("o1", "https://app.example.com", now, now))

	origins, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, origins, 1)
	assert.Equal(t, "https://app.example.com", origins[0].Origin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCORSOriginCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCORSOriginRepository(db, time.Second)

	mock.ExpectExec("INSERT INTO cors_origins").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.CORSOrigin{Origin: "https://app.example.com"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCORSOriginDeleteMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCORSOriginRepository(db, time.Second)

	mock.ExpectExec("DELETE FROM cors_origins").WithArgs("o1").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "o1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db, time.Second)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &models.AuditLog{Action: models.AuditActionLogin, Resource: models.AuditResourceSession}
	require.NoError(t, repo.Create(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
