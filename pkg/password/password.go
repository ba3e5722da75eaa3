// Package password hashes and verifies user credentials with argon2id.
//
// Encoded hashes use the PHC string format
// $argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<hash>, so the cost
// parameters travel with every stored hash. Legacy bcrypt hashes are
// accepted by Verify and flagged by NeedsRehash.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	algorithmID = "argon2id"
	saltLength  = 16
	keyLength   = 32

	minMemoryKB uint32 = 8 * 1024
	maxMemoryKB uint32 = 1 << 20
	maxTime     uint32 = 64
)

var (
	// ErrInvalidParams is returned by New for cost parameters below the floor.
	ErrInvalidParams = errors.New("invalid argon2 parameters")

	errMalformed = errors.New("malformed hash")
)

// Params are the argon2id cost parameters.
type Params struct {
	MemoryKB    uint32
	Time        uint32
	Parallelism uint8
}

// DefaultParams matches the recommended interactive-login profile.
var DefaultParams = Params{MemoryKB: 64 * 1024, Time: 3, Parallelism: 2}

// Hasher hashes new passwords with fixed Params. Safe for concurrent use.
type Hasher struct {
	params Params

	dummyOnce sync.Once
	dummy     string
}

// New validates params and returns a Hasher.
func New(params Params) (*Hasher, error) {
	if params.MemoryKB < minMemoryKB || params.MemoryKB > maxMemoryKB {
		return nil, fmt.Errorf("%w: memory must be between %d and %d KiB", ErrInvalidParams, minMemoryKB, maxMemoryKB)
	}
	if params.Time < 1 || params.Time > maxTime {
		return nil, fmt.Errorf("%w: time must be between 1 and %d", ErrInvalidParams, maxTime)
	}
	if params.Parallelism < 1 {
		return nil, fmt.Errorf("%w: parallelism must be >= 1", ErrInvalidParams)
	}
	return &Hasher{params: params}, nil
}

// Hash derives an encoded argon2id hash using a fresh random salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKB, h.params.Parallelism, keyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.MemoryKB,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. Malformed or unknown
// encodings yield false.
func (h *Hasher) Verify(encoded, password string) bool {
	if isBcrypt(encoded) {
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
	}

	phc, err := decode(encoded)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), phc.salt, phc.params.Time, phc.params.MemoryKB, phc.params.Parallelism, uint32(len(phc.key)))
	return subtle.ConstantTimeCompare(computed, phc.key) == 1
}

// NeedsRehash reports whether encoded should be replaced by a fresh Hash,
// either because it is a legacy format or its parameters are weaker.
func (h *Hasher) NeedsRehash(encoded string) bool {
	phc, err := decode(encoded)
	if err != nil {
		return true
	}
	return phc.params.MemoryKB < h.params.MemoryKB ||
		phc.params.Time < h.params.Time ||
		phc.params.Parallelism < h.params.Parallelism ||
		len(phc.key) != keyLength
}

// DummyVerify performs a verification of equal cost against a throwaway
// hash. Callers use it when no stored hash exists so response timing does not
// reveal whether an account is registered.
func (h *Hasher) DummyVerify(password string) {
	h.dummyOnce.Do(func() {
		encoded, err := h.Hash("dummy-password-for-timing")
		if err == nil {
			h.dummy = encoded
		}
	})
	_ = h.Verify(h.dummy, password)
}

type phcHash struct {
	params Params
	salt   []byte
	key    []byte
}

func decode(encoded string) (*phcHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, errMalformed
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, errMalformed
	}

	params, err := decodeParams(parts[3])
	if err != nil {
		return nil, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < 8 {
		return nil, errMalformed
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) < 16 {
		return nil, errMalformed
	}

	return &phcHash{params: params, salt: salt, key: key}, nil
}

func decodeParams(raw string) (Params, error) {
	var (
		p    Params
		seen int
	)
	for _, pair := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return Params{}, errMalformed
		}
		switch name {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v == 0 || v > uint64(maxMemoryKB) {
				return Params{}, errMalformed
			}
			p.MemoryKB = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v == 0 || v > uint64(maxTime) {
				return Params{}, errMalformed
			}
			p.Time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v == 0 {
				return Params{}, errMalformed
			}
			p.Parallelism = uint8(v)
		default:
			return Params{}, errMalformed
		}
		seen++
	}
	if seen != 3 || p.MemoryKB == 0 || p.Time == 0 || p.Parallelism == 0 {
		return Params{}, errMalformed
	}
	return p, nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") || strings.HasPrefix(encoded, "$2b$") || strings.HasPrefix(encoded, "$2y$")
}
