// Package hashing provides the two digest algorithms used by the core:
// a memory-hard argon2id hasher for passwords and a fast salted SHA-256
// hasher for opaque bearer secrets.
package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Hasher hashes a plaintext and verifies a plaintext against a stored
// encoding. Verify returns false for malformed input, never an error.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, stored string) bool
}

// Params are the tunable argon2id cost parameters.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Validate enforces the minimum costs the core accepts.
func (p Params) Validate() error {
	if p.MemoryKiB < 19*1024 {
		return fmt.Errorf("argon2 memory must be at least 19 MiB, got %d KiB", p.MemoryKiB)
	}
	if p.Iterations < 2 {
		return fmt.Errorf("argon2 iterations must be at least 2, got %d", p.Iterations)
	}
	if p.Parallelism < 1 {
		return fmt.Errorf("argon2 parallelism must be at least 1, got %d", p.Parallelism)
	}
	if p.SaltLength < 8 {
		return fmt.Errorf("salt must be at least 8 bytes, got %d", p.SaltLength)
	}
	if p.KeyLength < 16 {
		return fmt.Errorf("hash must be at least 16 bytes, got %d", p.KeyLength)
	}
	return nil
}

// Preset parameter sets. OWASPMin is the floor; the others trade memory
// against iteration count the way common server stacks configure argon2id.
var (
	PresetOWASPMin = Params{MemoryKiB: 19 * 1024, Iterations: 2, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	PresetBalanced = Params{MemoryKiB: 64 * 1024, Iterations: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
	PresetSpring   = Params{MemoryKiB: 16 * 1024 + 3*1024, Iterations: 2, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	PresetKeycloak = Params{MemoryKiB: 64 * 1024, Iterations: 5, Parallelism: 1, SaltLength: 16, KeyLength: 32}
)

// PresetByName resolves a preset name from configuration.
func PresetByName(name string) (Params, error) {
	switch name {
	case "", "OWASP-min":
		return PresetOWASPMin, nil
	case "balanced":
		return PresetBalanced, nil
	case "Spring-like":
		return PresetSpring, nil
	case "Keycloak-like":
		return PresetKeycloak, nil
	}
	return Params{}, fmt.Errorf("unknown argon2 preset %q", name)
}

const argonVersion = argon2.Version

// PasswordHasher hashes passwords with argon2id.
type PasswordHasher struct {
	params Params
}

// NewPasswordHasher creates a password hasher with the given parameters.
func NewPasswordHasher(p Params) (*PasswordHasher, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid argon2 params: %w", err)
	}
	return &PasswordHasher{params: p}, nil
}

// Hash derives an argon2id digest with a fresh random salt and returns the
// standard encoding: $argon2id$v=19$m=<KiB>,t=<iter>,p=<par>$<salt>$<hash>
// with unpadded base64 segments.
func (h *PasswordHasher) Hash(plain string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plain), salt, h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argonVersion,
		h.params.MemoryKiB, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify re-derives the digest using the parameters embedded in the stored
// encoding and compares in constant time. Malformed input returns false.
func (h *PasswordHasher) Verify(plain, stored string) bool {
	params, salt, key, err := decodeArgon2(stored)
	if err != nil {
		return false
	}

	derived := argon2.IDKey([]byte(plain), salt, params.Iterations, params.MemoryKiB, params.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(derived, key) == 1
}

// decodeArgon2 parses the stored encoding back into parameters, salt and key.
func decodeArgon2(stored string) (Params, []byte, []byte, error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, fmt.Errorf("malformed argon2 encoding")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, fmt.Errorf("malformed version segment: %w", err)
	}
	if version != argonVersion {
		return Params{}, nil, nil, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Iterations, &p.Parallelism); err != nil {
		return Params{}, nil, nil, fmt.Errorf("malformed cost segment: %w", err)
	}
	if p.MemoryKiB == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return Params{}, nil, nil, fmt.Errorf("zero cost parameter")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("malformed salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("malformed hash: %w", err)
	}
	if len(salt) == 0 || len(key) == 0 {
		return Params{}, nil, nil, fmt.Errorf("empty salt or hash")
	}

	return p, salt, key, nil
}

const tokenSaltLength = 16

// TokenHasher hashes opaque bearer secrets with salted SHA-256. It is fast
// by design: bearer secrets carry enough entropy that a memory-hard hash
// would only add latency to every token verification.
type TokenHasher struct{}

// NewTokenHasher creates a token digest hasher.
func NewTokenHasher() *TokenHasher {
	return &TokenHasher{}
}

// Hash returns base64(salt) + "." + base64(sha256(salt || plain)) with a
// fresh 16-byte salt.
func (h *TokenHasher) Hash(plain string) (string, error) {
	salt := make([]byte, tokenSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return encodeTokenDigest(salt, plain), nil
}

// Verify recomputes the digest with the stored salt and compares in
// constant time. Malformed input returns false.
func (h *TokenHasher) Verify(plain, stored string) bool {
	salt, sum, err := decodeTokenDigest(stored)
	if err != nil {
		return false
	}
	derived := tokenSum(salt, plain)
	return subtle.ConstantTimeCompare(derived, sum) == 1
}

// LookupDigest derives an unsalted SHA-256 digest of the secret, used as
// the indexed lookup column so a presented token can be found by equality.
func LookupDigest(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func encodeTokenDigest(salt []byte, plain string) string {
	return base64.RawStdEncoding.EncodeToString(salt) + "." +
		base64.RawStdEncoding.EncodeToString(tokenSum(salt, plain))
}

func tokenSum(salt []byte, plain string) []byte {
	d := sha256.New()
	d.Write(salt)
	d.Write([]byte(plain))
	return d.Sum(nil)
}

func decodeTokenDigest(stored string) ([]byte, []byte, error) {
	parts := strings.SplitN(stored, ".", 2)
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("malformed token digest")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("malformed salt: %w", err)
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("malformed sum: %w", err)
	}
	if len(salt) == 0 || len(sum) == 0 {
		return nil, nil, fmt.Errorf("empty salt or sum")
	}
	return salt, sum, nil
}
