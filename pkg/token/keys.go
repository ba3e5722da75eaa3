package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
)

// ErrInvalidKey reports unusable key material.
var ErrInvalidKey = errors.New("invalid signing key")

// Supported signing algorithms.
const (
	AlgRS256 = "RS256"
	AlgES256 = "ES256"
)

const rsaKeyBits = 2048

// ParsePrivateKey decodes a PEM encoded RSA (PKCS#1 or PKCS#8) or P-256 EC key.
func ParsePrivateKey(pemBytes []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("%w: unsupported PEM block %q", ErrInvalidKey, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, ErrInvalidKey
	}
	if _, err := Algorithm(signer.Public()); err != nil {
		return nil, err
	}
	return signer, nil
}

// LoadSigningKey accepts inline PEM or a path to a PEM file.
func LoadSigningKey(pemOrPath string) (crypto.Signer, error) {
	pemOrPath = strings.TrimSpace(pemOrPath)
	if pemOrPath == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(pemOrPath, "-----BEGIN") {
		return ParsePrivateKey([]byte(strings.ReplaceAll(pemOrPath, `\n`, "\n")))
	}

	raw, err := os.ReadFile(pemOrPath)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	return ParsePrivateKey(raw)
}

// LoadOrGenerateSigningKey reads the key at path, or generates an RSA key and
// persists it there with 0600 permissions when the file does not exist.
func LoadOrGenerateSigningKey(path string) (crypto.Signer, bool, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		signer, err := ParsePrivateKey(raw)
		return signer, false, err
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("read signing key: %w", err)
	}

	signer, err := GenerateKey(AlgRS256)
	if err != nil {
		return nil, false, err
	}
	encoded, err := EncodePrivateKey(signer)
	if err != nil {
		return nil, false, err
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return nil, false, fmt.Errorf("save signing key: %w", err)
	}
	return signer, true, nil
}

// GenerateKey creates a fresh key for alg.
func GenerateKey(alg string) (crypto.Signer, error) {
	switch alg {
	case AlgRS256:
		return rsa.GenerateKey(rand.Reader, rsaKeyBits)
	case AlgES256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidKey, alg)
	}
}

// EncodePrivateKey renders signer as a PKCS#8 PEM block.
func EncodePrivateKey(signer crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return nil, fmt.Errorf("marshal signing key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// Algorithm maps a public key to its JWS algorithm.
func Algorithm(pub crypto.PublicKey) (string, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if k.N.BitLen() < rsaKeyBits {
			return "", fmt.Errorf("%w: RSA keys must be at least %d bits", ErrInvalidKey, rsaKeyBits)
		}
		return AlgRS256, nil
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return "", fmt.Errorf("%w: only P-256 EC keys are supported", ErrInvalidKey)
		}
		return AlgES256, nil
	default:
		return "", fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, pub)
	}
}

// Thumbprint returns the RFC 7638 SHA-256 thumbprint of pub, base64url encoded.
func Thumbprint(pub crypto.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: pub}
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}
