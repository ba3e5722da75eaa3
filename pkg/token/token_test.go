package token

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	rsaOnce sync.Once
	rsaKey  *rsa.PrivateKey
)

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	rsaOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		rsaKey = key
	})
	return rsaKey
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newPair(t *testing.T, c *clock) (*Issuer, *Verifier) {
	t.Helper()
	issuer, err := NewIssuer(testRSAKey(t), IssuerConfig{
		Issuer:   "https://auth.example.com",
		Audience: "example-api",
		TTL:      15 * time.Minute,
		Now:      c.now,
	})
	require.NoError(t, err)

	verifier := NewVerifier(NewStaticKeySource(issuer.KeySet()), VerifierConfig{
		Issuer:   "https://auth.example.com",
		Audience: "example-api",
		Leeway:   30 * time.Second,
		Now:      c.now,
	})
	return issuer, verifier
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	c := &clock{t: time.Now()}
	issuer, verifier := newPair(t, c)

	issued, err := issuer.Issue("user-1", "session-1")
	require.NoError(t, err)
	assert.Equal(t, 900, issued.ExpiresIn)
	assert.NotEmpty(t, issued.ID)

	claims, err := verifier.Verify(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "session-1", claims.SessionID)
	assert.Equal(t, issued.ID, claims.ID)

	parsed, _, err := jwt.NewParser().ParseUnverified(issued.Token, &Claims{})
	require.NoError(t, err)
	assert.Equal(t, issuer.KeyID(), parsed.Header["kid"])
	assert.Equal(t, AlgRS256, parsed.Header["alg"])
}

func TestVerifyExpired(t *testing.T) {
	c := &clock{t: time.Now()}
	issuer, verifier := newPair(t, c)

	issued, err := issuer.Issue("user-1", "session-1")
	require.NoError(t, err)

	c.t = c.t.Add(15*time.Minute + 10*time.Second)
	_, err = verifier.Verify(context.Background(), issued.Token)
	require.NoError(t, err, "within leeway")

	c.t = c.t.Add(time.Minute)
	_, err = verifier.Verify(context.Background(), issued.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejects(t *testing.T) {
	c := &clock{t: time.Now()}
	issuer, verifier := newPair(t, c)

	issued, err := issuer.Issue("user-1", "session-1")
	require.NoError(t, err)

	otherAudience := NewVerifier(NewStaticKeySource(issuer.KeySet()), VerifierConfig{
		Issuer: "https://auth.example.com", Audience: "other", Now: c.now,
	})
	_, err = otherAudience.Verify(context.Background(), issued.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	otherIssuer := NewVerifier(NewStaticKeySource(issuer.KeySet()), VerifierConfig{
		Issuer: "https://evil.example.com", Audience: "example-api", Now: c.now,
	})
	_, err = otherIssuer.Verify(context.Background(), issued.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	parts := strings.Split(issued.Token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	_, err = verifier.Verify(context.Background(), tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = verifier.Verify(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsEmptySubject(t *testing.T) {
	c := &clock{t: time.Now()}
	issuer, verifier := newPair(t, c)

	issued, err := issuer.Issue("", "session-1")
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), issued.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnexpectedAlgorithm(t *testing.T) {
	c := &clock{t: time.Now()}
	issuer, verifier := newPair(t, c)

	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "https://auth.example.com",
		Audience:  jwt.ClaimStrings{"example-api"},
		ExpiresAt: jwt.NewNumericDate(c.t.Add(time.Minute)),
	}}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = issuer.KeyID()
	signed, err := tok.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnknownKey(t *testing.T) {
	c := &clock{t: time.Now()}
	issuer, _ := newPair(t, c)

	issued, err := issuer.Issue("user-1", "session-1")
	require.NoError(t, err)

	empty := NewVerifier(NewStaticKeySource(jose.JSONWebKeySet{}), VerifierConfig{
		Issuer: "https://auth.example.com", Audience: "example-api", Now: c.now,
	})
	_, err = empty.Verify(context.Background(), issued.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestES256(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	issuer, err := NewIssuer(key, IssuerConfig{Issuer: "iss", Audience: "aud", KeyID: "ec-1", TTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, AlgES256, issuer.Algorithm())
	assert.Equal(t, "ec-1", issuer.KeyID())

	issued, err := issuer.Issue("user-1", "session-1")
	require.NoError(t, err)

	verifier := NewVerifier(NewStaticKeySource(issuer.KeySet()), VerifierConfig{Issuer: "iss", Audience: "aud"})
	claims, err := verifier.Verify(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "session-1", claims.SessionID)
}

func TestNewIssuerRejectsWeakKeys(t *testing.T) {
	p384, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	_, err = NewIssuer(p384, IssuerConfig{TTL: time.Minute})
	assert.ErrorIs(t, err, ErrInvalidKey)

	small, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	_, err = NewIssuer(small, IssuerConfig{TTL: time.Minute})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeySetPublishesPublicMaterialOnly(t *testing.T) {
	c := &clock{t: time.Now()}
	issuer, _ := newPair(t, c)

	raw, err := json.Marshal(issuer.KeySet())
	require.NoError(t, err)

	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.Keys, 1)

	key := doc.Keys[0]
	assert.Equal(t, "RSA", key["kty"])
	assert.Equal(t, "sig", key["use"])
	assert.Equal(t, AlgRS256, key["alg"])
	assert.Equal(t, issuer.KeyID(), key["kid"])
	for _, private := range []string{"d", "p", "q", "dp", "dq", "qi"} {
		assert.NotContains(t, key, private)
	}
}

func TestLoadOrGenerateSigningKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.pem")

	first, created, err := LoadOrGenerateSigningKey(path)
	require.NoError(t, err)
	assert.True(t, created)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, created, err := LoadOrGenerateSigningKey(path)
	require.NoError(t, err)
	assert.False(t, created)

	a, err := Thumbprint(first.Public())
	require.NoError(t, err)
	b, err := Thumbprint(second.Public())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLoadSigningKeyInlinePEM(t *testing.T) {
	key, err := GenerateKey(AlgES256)
	require.NoError(t, err)
	encoded, err := EncodePrivateKey(key)
	require.NoError(t, err)

	loaded, err := LoadSigningKey(string(encoded))
	require.NoError(t, err)
	assert.True(t, key.Public().(*ecdsa.PublicKey).Equal(loaded.Public()))

	_, err = LoadSigningKey("-----BEGIN NOTHING-----")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestRemoteKeySet(t *testing.T) {
	c := &clock{t: time.Now()}
	issuer, _ := newPair(t, c)

	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(issuer.KeySet())
	}))
	defer srv.Close()

	remote := NewRemoteKeySet(RemoteKeySetConfig{URL: srv.URL, Timeout: time.Second})
	verifier := NewVerifier(remote, VerifierConfig{
		Issuer: "https://auth.example.com", Audience: "example-api", Now: c.now,
	})

	issued, err := issuer.Issue("user-1", "session-1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		claims, err := verifier.Verify(context.Background(), issued.Token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.Subject)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits)
}

func TestRemoteKeySetTimeout(t *testing.T) {
	c := &clock{t: time.Now()}
	issuer, _ := newPair(t, c)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	verifier := NewVerifier(
		NewRemoteKeySet(RemoteKeySetConfig{URL: srv.URL, Timeout: 50 * time.Millisecond}),
		VerifierConfig{Issuer: "https://auth.example.com", Audience: "example-api", Now: c.now},
	)

	issued, err := issuer.Issue("user-1", "session-1")
	require.NoError(t, err)

	start := time.Now()
	_, err = verifier.Verify(context.Background(), issued.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRemoteKeySetSharesFailedFetch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	remote := NewRemoteKeySet(RemoteKeySetConfig{URL: srv.URL, Timeout: time.Second, MinRefresh: time.Minute})

	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = remote.Lookup(context.Background(), "kid")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.Error(t, err)
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	_, err := remote.Lookup(context.Background(), "kid")
	assert.Error(t, err)
	assert.LessOrEqual(t, hits.Load(), int32(2))
}

func TestRemoteKeySetLookupHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	defer close(release)

	remote := NewRemoteKeySet(RemoteKeySetConfig{URL: srv.URL, Timeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := remote.Lookup(ctx, "kid")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
