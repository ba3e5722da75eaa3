package token

import (
	"context"
	"errors"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

var errUnknownKey = errors.New("unknown key id")

// KeySource resolves a key id to public key material.
type KeySource interface {
	Lookup(ctx context.Context, kid string) (*jose.JSONWebKey, error)
}

// StaticKeySource serves keys from an in-memory JWKS.
type StaticKeySource struct {
	set jose.JSONWebKeySet
}

func NewStaticKeySource(set jose.JSONWebKeySet) *StaticKeySource {
	return &StaticKeySource{set: set}
}

// Lookup implements KeySource.
func (s *StaticKeySource) Lookup(_ context.Context, kid string) (*jose.JSONWebKey, error) {
	return lookup(s.set, kid)
}

func lookup(set jose.JSONWebKeySet, kid string) (*jose.JSONWebKey, error) {
	for _, k := range set.Key(kid) {
		if k.Use == "" || k.Use == "sig" {
			key := k
			return &key, nil
		}
	}
	return nil, errUnknownKey
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
	Now      func() time.Time
}

// Verifier validates access tokens against a KeySource.
type Verifier struct {
	keys   KeySource
	parser *jwt.Parser
}

func NewVerifier(keys KeySource, cfg VerifierConfig) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{AlgRS256, AlgES256}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}
	return &Verifier{keys: keys, parser: jwt.NewParser(opts...)}
}

// Verify checks signature, algorithm, issuer, audience and time claims.
// Any failure, including key lookup, is reported as ErrInvalidToken.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errUnknownKey
		}
		jwk, err := v.keys.Lookup(ctx, kid)
		if err != nil {
			return nil, err
		}
		if jwk.Algorithm != "" && jwk.Algorithm != t.Method.Alg() {
			return nil, errUnknownKey
		}
		return jwk.Key, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
