package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/authd/internal/models"
	"github.com/noah-isme/authd/pkg/discovery"
	"github.com/noah-isme/authd/pkg/token"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestKeygenWritesLoadableKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.pem")

	_, stderr, err := execute(t, "keygen", "--alg", "es256", "--out", path)
	require.NoError(t, err)

	signer, err := token.LoadSigningKey(path)
	require.NoError(t, err)
	alg, err := token.Algorithm(signer.Public())
	require.NoError(t, err)
	assert.Equal(t, token.AlgES256, alg)

	kid, err := token.Thumbprint(signer.Public())
	require.NoError(t, err)
	assert.Contains(t, stderr, kid)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestKeygenRejectsUnknownAlgorithm(t *testing.T) {
	_, _, err := execute(t, "keygen", "--alg", "HS256", "--out", filepath.Join(t.TempDir(), "k.pem"))
	require.Error(t, err)
}

func TestTokenVerifyUsesDiscovery(t *testing.T) {
	signer, err := token.GenerateKey(token.AlgES256)
	require.NoError(t, err)
	issuer, err := token.NewIssuer(signer, token.IssuerConfig{Issuer: "https://auth.test", Audience: "authd-test", TTL: time.Minute})
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc(discovery.WellKnownPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"issuer":"https://auth.test","audience":"authd-test","jwksUri":"` + srv.URL + `/.well-known/jwks.json","tokenType":"Bearer"}`))
	})
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(issuer.KeySet())
	})

	issued, err := issuer.Issue("user-1", "session-1")
	require.NoError(t, err)

	stdout, _, err := execute(t, "--server", srv.URL, "token", "verify", "--discovery", "always", issued.Token)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"sid": "session-1"`)
	assert.Contains(t, stdout, `"sub": "user-1"`)

	_, _, err = execute(t, "--server", srv.URL, "token", "verify", "--discovery", "always", issued.Token+"x")
	require.Error(t, err)
}

type fakeLister struct {
	users []models.User
	calls int
	err   error
}

func (f *fakeLister) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	f.calls++
	if f.err != nil {
		return nil, 0, f.err
	}
	start := (filter.Page - 1) * filter.PageSize
	if start >= len(f.users) {
		return nil, len(f.users), nil
	}
	end := start + filter.PageSize
	if end > len(f.users) {
		end = len(f.users)
	}
	return f.users[start:end], len(f.users), nil
}

func TestExportUsersPagesThroughEveryAccount(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{}
	for i := 0; i < exportPageSize+5; i++ {
		lister.users = append(lister.users, models.User{ID: string(rune('a'+i%26)) + "-id", Email: "u@example.com", CreatedAt: created, UpdatedAt: created})
	}

	var buf bytes.Buffer
	n, err := exportUsers(context.Background(), lister, "", &buf)
	require.NoError(t, err)
	assert.Equal(t, exportPageSize+5, n)
	assert.Equal(t, 2, lister.calls)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, exportPageSize+6)
	assert.Equal(t, []string{"id", "email", "created_at", "updated_at"}, records[0])
	assert.Equal(t, "2024-03-01T12:00:00Z", records[1][2])
}

func TestExportUsersPropagatesListErrors(t *testing.T) {
	_, err := exportUsers(context.Background(), &fakeLister{err: errors.New("db down")}, "", &bytes.Buffer{})
	require.Error(t, err)
}
