package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var remoteDoc = Document{
	Issuer:    "https://auth.example.com",
	Audience:  "example-api",
	JWKSURI:   "https://auth.example.com/.well-known/jwks.json",
	TokenType: "Bearer",
}

var staticDoc = Document{
	Issuer:  "https://static.example.com",
	JWKSURI: "https://static.example.com/jwks",
}

func serveDocument(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != WellKnownPath {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(remoteDoc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("ALWAYS")
	require.NoError(t, err)
	assert.Equal(t, ModeAlways, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeOpportunistic, m)

	_, err = ParseMode("sometimes")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestResolveAlwaysCaches(t *testing.T) {
	var hits atomic.Int32
	srv := serveDocument(t, &hits)

	r, err := NewResolver(Config{BaseURL: srv.URL + "/", Mode: ModeAlways, CacheTTL: time.Minute})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		doc, err := r.Resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, remoteDoc.Issuer, doc.Issuer)
	}
	assert.EqualValues(t, 1, hits.Load())

	current := time.Now().Add(2 * time.Minute)
	r.now = func() time.Time { return current }
	_, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
}

func TestResolveAlwaysFailsWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r, err := NewResolver(Config{BaseURL: srv.URL, Mode: ModeAlways, Static: staticDoc})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background())
	assert.Error(t, err)
}

func TestResolveOpportunisticFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r, err := NewResolver(Config{BaseURL: srv.URL, Mode: ModeOpportunistic, Static: staticDoc})
	require.NoError(t, err)

	doc, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, staticDoc.Issuer, doc.Issuer)
}

func TestResolveNeverSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := serveDocument(t, &hits)

	r, err := NewResolver(Config{BaseURL: srv.URL, Mode: ModeNever, Static: staticDoc})
	require.NoError(t, err)

	doc, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, staticDoc, *doc)
	assert.EqualValues(t, 0, hits.Load())
}

func TestResolveRejectsIncompleteDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"issuer":"x"}`))
	}))
	defer srv.Close()

	r, err := NewResolver(Config{BaseURL: srv.URL, Mode: ModeAlways})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background())
	assert.Error(t, err)
}
