// Package token implements token issuance, verification, rotation and
// revocation: JWT signing behind a pluggable signer, a refresh-token
// state machine with replay detection, and digest-only persistence.
package token

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kodex-auth/go-core/pkg/types"
)

// Claims is the claim set carried by every issued token.
type Claims struct {
	jwt.RegisteredClaims

	Realm       string   `json:"realm"`
	TokenFamily string   `json:"tokenFamily"`
	Roles       []string `json:"roles"`
	TokenType   string   `json:"typ"`
}

// Signer signs and verifies token claim sets. The algorithm choice is
// the embedder's; the core only requires the sign/verify pair to agree.
type Signer interface {
	// Sign produces a compact serialized token over the claims.
	Sign(claims *Claims) (string, error)

	// Verify checks the signature and registered time claims and returns
	// the decoded claim set.
	Verify(token string) (*Claims, error)

	// Algorithm names the signing algorithm, e.g. "HS256".
	Algorithm() string
}

// HMACSigner signs tokens with HMAC-SHA256.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner creates an HS256 signer. The secret must be at least 32
// bytes.
func NewHMACSigner(secret []byte) (*HMACSigner, error) {
	if len(secret) < 32 {
		return nil, errors.New("hmac secret must be at least 32 bytes")
	}
	return &HMACSigner{secret: secret}, nil
}

// Sign produces a compact HS256 token.
func (s *HMACSigner) Sign(claims *Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and time claims.
func (s *HMACSigner) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, mapJWTErr(err)
	}
	return claims, nil
}

// Algorithm names the signing algorithm.
func (s *HMACSigner) Algorithm() string { return "HS256" }

// RSASigner signs tokens with RSA-SHA256.
type RSASigner struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// NewRSASigner creates an RS256 signer from a private key.
func NewRSASigner(key *rsa.PrivateKey) (*RSASigner, error) {
	if key == nil {
		return nil, errors.New("rsa private key is required")
	}
	return &RSASigner{private: key, public: &key.PublicKey}, nil
}

// Sign produces a compact RS256 token.
func (s *RSASigner) Sign(claims *Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := tok.SignedString(s.private)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and time claims.
func (s *RSASigner) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.public, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return nil, mapJWTErr(err)
	}
	return claims, nil
}

// Algorithm names the signing algorithm.
func (s *RSASigner) Algorithm() string { return "RS256" }

// mapJWTErr folds library errors into the domain taxonomy.
func mapJWTErr(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return types.ErrTokenExpired
	}
	return fmt.Errorf("token verification failed: %w", err)
}
