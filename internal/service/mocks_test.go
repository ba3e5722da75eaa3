package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/authd/internal/models"
	"github.com/noah-isme/authd/internal/repository"
)

type mockUserRepo struct {
	mu        sync.Mutex
	users     map[string]*models.User
	createErr error
	listErr   error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*models.User)}
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			found := *u
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	found := *u
	return &found, nil
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var users []models.User
	for _, u := range m.users {
		if filter.Search == "" || strings.Contains(u.Email, filter.Search) {
			users = append(users, *u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, len(users), nil
}

func (m *mockUserRepo) UpdateEmail(ctx context.Context, id, email string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	for otherID, other := range m.users {
		if otherID != id && other.Email == email {
			return repository.ErrDuplicate
		}
	}
	u.Email = email
	u.UpdatedAt = updatedAt
	return nil
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = updatedAt
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.users, id)
	return nil
}

func (m *mockUserRepo) get(id string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

// mockSessionRepo applies the same compare-and-swap as the Postgres store.
type mockSessionRepo struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	createErr error
	findErr   error
	revokeErr error
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*models.Session)}
}

func (m *mockSessionRepo) Create(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	stored := *session
	m.sessions[session.ID] = &stored
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	found := *s
	return &found, nil
}

func (m *mockSessionRepo) Rotate(ctx context.Context, sessionID, nextHash string, nextExpiresAt, now time.Time, meta models.SessionMeta) (*models.RotateResult, error) {
	m.mu.Lock()
	current, ok := m.sessions[sessionID]
	if !ok || !current.Active(now) {
		m.mu.Unlock()
		return nil, nil
	}
	next := &models.Session{
		ID:               uuid.NewString(),
		UserID:           current.UserID,
		RefreshTokenHash: nextHash,
		CreatedAt:        now,
		ExpiresAt:        nextExpiresAt,
		IPAddress:        meta.IP,
		UserAgent:        meta.UserAgent,
	}
	m.sessions[next.ID] = next
	m.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !current.Active(now) {
		delete(m.sessions, next.ID)
		return nil, nil
	}
	revokedAt := now
	nextID := next.ID
	current.RevokedAt = &revokedAt
	current.ReplacedBySessionID = &nextID

	result := *next
	return &models.RotateResult{PreviousID: sessionID, Next: &result}, nil
}

func (m *mockSessionRepo) RevokeByID(ctx context.Context, id string, revokedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revokeErr != nil {
		return false, m.revokeErr
	}
	s, ok := m.sessions[id]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	at := revokedAt
	s.RevokedAt = &at
	return true, nil
}

func (m *mockSessionRepo) RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			at := revokedAt
			s.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *mockSessionRepo) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.Active(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *mockSessionRepo) DeleteInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(cutoff) || (s.RevokedAt != nil && s.RevokedAt.Before(cutoff)) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *mockSessionRepo) get(id string) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	found := *s
	return &found
}

func (m *mockSessionRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *mockSessionRepo) activeCount(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.Active(now) {
			n++
		}
	}
	return n
}

type mockAuditRecorder struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (m *mockAuditRecorder) Record(ctx context.Context, entry *models.AuditLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

func (m *mockAuditRecorder) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

type mockAuditStore struct {
	mu      sync.Mutex
	entries []*models.AuditLog
	err     error
	calls   int
}

func (m *mockAuditStore) Create(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.entries = append(m.entries, log)
	return nil
}

func (m *mockAuditStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type mockCORSOriginRepo struct {
	mu        sync.Mutex
	origins   []models.CORSOrigin
	listCalls int
	listErr   error
}

func (m *mockCORSOriginRepo) List(ctx context.Context) ([]models.CORSOrigin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]models.CORSOrigin(nil), m.origins...), nil
}

func (m *mockCORSOriginRepo) Create(ctx context.Context, origin *models.CORSOrigin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.origins {
		if existing.Origin == origin.Origin {
			return repository.ErrDuplicate
		}
	}
	origin.ID = uuid.NewString()
	m.origins = append(m.origins, *origin)
	return nil
}

func (m *mockCORSOriginRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.origins {
		if existing.ID == id {
			m.origins = append(m.origins[:i], m.origins[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}
