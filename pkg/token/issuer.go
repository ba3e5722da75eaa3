package token

import (
	"crypto"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is the single outcome for every verification failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the access token claims. sid binds the token to a session.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Issued is a freshly signed access token.
type Issued struct {
	Token     string
	ID        string
	ExpiresIn int
	ExpiresAt time.Time
}

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	Issuer   string
	Audience string
	KeyID    string
	TTL      time.Duration
	Now      func() time.Time
}

// Issuer signs access tokens with a single active key.
type Issuer struct {
	key      crypto.Signer
	method   jwt.SigningMethod
	alg      string
	keyID    string
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewIssuer picks RS256 or ES256 from the key type. An empty KeyID falls back
// to the key's thumbprint.
func NewIssuer(key crypto.Signer, cfg IssuerConfig) (*Issuer, error) {
	if key == nil {
		return nil, ErrInvalidKey
	}
	alg, err := Algorithm(key.Public())
	if err != nil {
		return nil, err
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("access token ttl must be positive")
	}

	kid := cfg.KeyID
	if kid == "" {
		kid, err = Thumbprint(key.Public())
		if err != nil {
			return nil, err
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Issuer{
		key:      key,
		method:   jwt.GetSigningMethod(alg),
		alg:      alg,
		keyID:    kid,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		now:      now,
	}, nil
}

// Issue signs an access token for the user bound to sessionID.
func (i *Issuer) Issue(userID, sessionID string) (*Issued, error) {
	now := i.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(i.ttl)
	jti := uuid.NewString()

	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	tok := jwt.NewWithClaims(i.method, claims)
	tok.Header["kid"] = i.keyID

	signed, err := tok.SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	return &Issued{
		Token:     signed,
		ID:        jti,
		ExpiresIn: int(i.ttl / time.Second),
		ExpiresAt: expiresAt,
	}, nil
}

// KeySet returns the public half of the signing key as a JWKS.
func (i *Issuer) KeySet() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       i.key.Public(),
		KeyID:     i.keyID,
		Algorithm: i.alg,
		Use:       "sig",
	}}}
}

func (i *Issuer) KeyID() string     { return i.keyID }
func (i *Issuer) Algorithm() string { return i.alg }
