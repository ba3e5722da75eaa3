package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"
)

const maxJWKSBytes = 1 << 20

// RemoteKeySetConfig configures a RemoteKeySet.
type RemoteKeySetConfig struct {
	URL string
	// Timeout bounds a single fetch.
	Timeout time.Duration
	// CacheTTL is how long a fetched set is served before refetching.
	CacheTTL time.Duration
	// MinRefresh throttles refetches triggered by an unknown kid.
	MinRefresh time.Duration
	Client     *http.Client
}

// RemoteKeySet fetches a JWKS over HTTP and caches it. Fetch failures and
// timeouts surface as lookup errors, which Verifier reports as ErrInvalidToken.
// Concurrent callers share one in-flight fetch, and a failed fetch is not
// retried for MinRefresh.
type RemoteKeySet struct {
	cfg    RemoteKeySetConfig
	client *http.Client
	group  singleflight.Group

	mu        sync.Mutex
	set       jose.JSONWebKeySet
	fetchedAt time.Time
	failedAt  time.Time
	failErr   error
}

func NewRemoteKeySet(cfg RemoteKeySetConfig) *RemoteKeySet {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.MinRefresh <= 0 {
		cfg.MinRefresh = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &RemoteKeySet{cfg: cfg, client: client}
}

// Lookup implements KeySource.
func (r *RemoteKeySet) Lookup(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	r.mu.Lock()
	now := time.Now()
	age := now.Sub(r.fetchedAt)
	if !r.fetchedAt.IsZero() && age < r.cfg.CacheTTL {
		key, err := lookup(r.set, kid)
		if err == nil || age < r.cfg.MinRefresh {
			r.mu.Unlock()
			return key, err
		}
	}
	if !r.failedAt.IsZero() && now.Sub(r.failedAt) < r.cfg.MinRefresh {
		err := r.failErr
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	ch := r.group.DoChan("jwks", func() (any, error) {
		return r.refresh()
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return lookup(res.Val.(jose.JSONWebKeySet), kid)
	}
}

// refresh is shared by every waiting caller and ignores their contexts.
func (r *RemoteKeySet) refresh() (jose.JSONWebKeySet, error) {
	set, err := r.fetch(context.Background())

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failedAt = time.Now()
		r.failErr = err
		return jose.JSONWebKeySet{}, err
	}
	r.set = set
	r.fetchedAt = time.Now()
	r.failedAt = time.Time{}
	r.failErr = nil
	return set, nil
}

func (r *RemoteKeySet) fetch(ctx context.Context) (jose.JSONWebKeySet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.URL, nil)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return jose.JSONWebKeySet{}, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&set); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("decode jwks: %w", err)
	}
	return set, nil
}
