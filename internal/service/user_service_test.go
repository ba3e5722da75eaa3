package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/authd/internal/models"
	"github.com/noah-isme/authd/internal/repository"
	"github.com/noah-isme/authd/pkg/password"
)

type userFixture struct {
	svc      *UserService
	users    *mockUserRepo
	sessions *mockSessionRepo
	hasher   *password.Hasher
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()
	hasher, err := password.New(password.Params{MemoryKB: 8 * 1024, Time: 1, Parallelism: 1})
	require.NoError(t, err)
	f := &userFixture{users: newMockUserRepo(), sessions: newMockSessionRepo(), hasher: hasher}
	f.svc = NewUserService(f.users, f.sessions, hasher, nil, nil)
	return f
}

func (f *userFixture) seed(t *testing.T, email string) *models.User {
	t.Helper()
	hash, err := f.hasher.Hash("password123")
	require.NoError(t, err)
	user := &models.User{Email: email, PasswordHash: hash, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.users.Create(context.Background(), user))
	require.NoError(t, f.sessions.Create(context.Background(), &models.Session{UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}))
	return user
}

func TestUserServiceList(t *testing.T) {
	f := newUserFixture(t)
	f.seed(t, "a@example.com")
	f.seed(t, "b@example.com")

	list, err := f.svc.List(context.Background(), models.UserFilter{PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, list.Users, 2)
	assert.Equal(t, 1, list.Pagination.Page)
	assert.Equal(t, 100, list.Pagination.PageSize)
	assert.Equal(t, 2, list.Pagination.TotalCount)

	f.users.listErr = errors.New("boom")
	_, err = f.svc.List(context.Background(), models.UserFilter{})
	assertCode(t, err, "internal_error")
}

func TestUserServiceUpdateRevokesSessions(t *testing.T) {
	f := newUserFixture(t)
	user := f.seed(t, "old@example.com")
	ctx := context.Background()

	email := "  New@Example.com "
	pw := "another-password"
	info, err := f.svc.Update(ctx, user.ID, models.UpdateUserRequest{Email: &email, Password: &pw})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", info.Email)

	stored := f.users.get(user.ID)
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$argon2id$"))
	assert.True(t, f.hasher.Verify(stored.PasswordHash, pw))

	active, err := f.svc.ListSessions(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestUserServiceUpdateErrors(t *testing.T) {
	f := newUserFixture(t)
	first := f.seed(t, "first@example.com")
	f.seed(t, "second@example.com")
	ctx := context.Background()

	_, err := f.svc.Update(ctx, first.ID, models.UpdateUserRequest{})
	assertCode(t, err, "invalid_input")

	bad := "not-an-email"
	_, err = f.svc.Update(ctx, first.ID, models.UpdateUserRequest{Email: &bad})
	assertCode(t, err, "invalid_input")

	short := "short"
	_, err = f.svc.Update(ctx, first.ID, models.UpdateUserRequest{Password: &short})
	assertCode(t, err, "invalid_input")

	taken := "second@example.com"
	_, err = f.svc.Update(ctx, first.ID, models.UpdateUserRequest{Email: &taken})
	assertCode(t, err, "email_taken")

	fresh := "fresh@example.com"
	_, err = f.svc.Update(ctx, "missing", models.UpdateUserRequest{Email: &fresh})
	assertCode(t, err, "not_found")
}

func TestUserServiceDelete(t *testing.T) {
	f := newUserFixture(t)
	user := f.seed(t, "bye@example.com")
	ctx := context.Background()

	require.NoError(t, f.svc.Delete(ctx, user.ID))
	assertCode(t, f.svc.Delete(ctx, user.ID), "not_found")

	_, err := f.svc.ListSessions(ctx, user.ID)
	assertCode(t, err, "not_found")
}

func TestAdminLookupsRejectNonUUIDWithoutQuerying(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	db := sqlx.NewDb(raw, "postgres")

	sessions := repository.NewSessionRepository(db, time.Second)
	users := NewUserService(repository.NewUserRepository(db, time.Second), sessions, nil, nil, nil)
	origins := NewCORSService(repository.NewCORSOriginRepository(db, time.Second), nil, nil, nil, nil)
	auth := NewAuthService(AuthDeps{Sessions: sessions}, AuthConfig{})
	ctx := context.Background()

	for _, id := range []string{"42", "not-a-uuid", "'; DROP TABLE users; --"} {
		_, err := users.Get(ctx, id)
		assertCode(t, err, "not_found")
		assertCode(t, users.Delete(ctx, id), "not_found")
		_, err = users.ListSessions(ctx, id)
		assertCode(t, err, "not_found")
		assertCode(t, origins.Remove(ctx, id), "not_found")
		assertCode(t, auth.RevokeSession(ctx, id), "not_found")
	}

	require.NoError(t, mock.ExpectationsWereMet())
}
