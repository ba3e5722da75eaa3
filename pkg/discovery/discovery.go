// Package discovery publishes and resolves the service configuration
// document served at /.well-known/authd-configuration.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// WellKnownPath is where the document is served.
const WellKnownPath = "/.well-known/authd-configuration"

const maxDocumentBytes = 64 << 10

// Endpoints lists the auth routes a client calls.
type Endpoints struct {
	Signup  string `json:"signup"`
	Login   string `json:"login"`
	Refresh string `json:"refresh"`
	Logout  string `json:"logout"`
	Me      string `json:"me"`
}

// Document is the discovery payload.
type Document struct {
	Issuer            string    `json:"issuer"`
	Audience          string    `json:"audience"`
	JWKSURI           string    `json:"jwksUri"`
	TokenType         string    `json:"tokenType"`
	RefreshCookieName string    `json:"refreshCookieName"`
	Endpoints         Endpoints `json:"endpoints"`
}

// Mode controls how much a Resolver trusts the remote document.
type Mode string

const (
	// ModeAlways requires the discovered document.
	ModeAlways Mode = "always"
	// ModeOpportunistic prefers the discovered document and falls back to
	// static values when it cannot be fetched.
	ModeOpportunistic Mode = "opportunistic"
	// ModeNever uses static values only.
	ModeNever Mode = "never"
)

var ErrUnknownMode = errors.New("unknown discovery mode")

func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeAlways, ModeOpportunistic, ModeNever:
		return m, nil
	case "":
		return ModeOpportunistic, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownMode, raw)
	}
}

// Config configures a Resolver.
type Config struct {
	// BaseURL is the service origin; the well-known path is appended.
	BaseURL  string
	Mode     Mode
	Static   Document
	CacheTTL time.Duration
	Timeout  time.Duration
	Client   *http.Client
}

// Resolver fetches and caches the discovery document.
type Resolver struct {
	cfg    Config
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	cached    *Document
	fetchedAt time.Time
}

func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeOpportunistic
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeNever && cfg.BaseURL == "" {
		return nil, errors.New("discovery base url is required")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Resolver{cfg: cfg, client: client, now: time.Now}, nil
}

// Resolve returns the effective document for the configured mode.
func (r *Resolver) Resolve(ctx context.Context) (*Document, error) {
	if r.cfg.Mode == ModeNever {
		doc := r.cfg.Static
		return &doc, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && r.now().Sub(r.fetchedAt) < r.cfg.CacheTTL {
		doc := *r.cached
		return &doc, nil
	}

	doc, err := r.fetch(ctx)
	if err != nil {
		if r.cfg.Mode == ModeOpportunistic {
			static := r.cfg.Static
			return &static, nil
		}
		return nil, err
	}

	r.cached = doc
	r.fetchedAt = r.now()
	out := *doc
	return &out, nil
}

func (r *Resolver) fetch(ctx context.Context) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	url := strings.TrimRight(r.cfg.BaseURL, "/") + WellKnownPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch discovery document: unexpected status %d", resp.StatusCode)
	}

	var doc Document
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode discovery document: %w", err)
	}
	if doc.Issuer == "" || doc.JWKSURI == "" {
		return nil, errors.New("discovery document is missing issuer or jwksUri")
	}
	return &doc, nil
}
