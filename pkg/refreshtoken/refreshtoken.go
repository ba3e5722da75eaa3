// Package refreshtoken encodes opaque refresh tokens of the form
// "<sessionID>.<secret>". Only the SHA-256 of the secret is ever stored.
package refreshtoken

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// SecretBytes is the amount of entropy in a refresh secret.
const SecretBytes = 32

const separator = "."

// Parts is a decoded refresh token.
type Parts struct {
	SessionID string
	Secret    string
}

// Build joins a session id and secret into a token.
func Build(sessionID, secret string) string {
	return sessionID + separator + secret
}

// Parse splits token into its parts. It reports false for anything Build
// could not have produced.
func Parse(token string) (Parts, bool) {
	id, secret, ok := strings.Cut(strings.TrimSpace(token), separator)
	if !ok || id == "" || secret == "" {
		return Parts{}, false
	}

	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != strings.ToLower(id) {
		return Parts{}, false
	}

	raw, err := base64.RawURLEncoding.DecodeString(secret)
	if err != nil || len(raw) != SecretBytes {
		return Parts{}, false
	}

	return Parts{SessionID: parsed.String(), Secret: secret}, true
}

// GenerateSecret returns SecretBytes of crypto/rand output, base64url encoded.
func GenerateSecret() (string, error) {
	buf := make([]byte, SecretBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generate refresh secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSecret returns the hex SHA-256 digest stored alongside a session.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// VerifySecret compares secret against a stored digest in constant time.
func VerifySecret(secret, storedHash string) bool {
	computed := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
