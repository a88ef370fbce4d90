// Package token issues and validates the bearer credentials used by the
// session layer. Access tokens are short-lived JWTs carrying the user
// identity; refresh tokens are long-lived JWTs whose sha256 digest is the
// only thing the ledger ever stores.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

const (
	DefaultAccessTTL  = 5 * time.Hour
	DefaultRefreshTTL = 72 * time.Hour
)

var (
	// ErrMalformed covers values that are not parseable tokens at all.
	ErrMalformed = errors.New("token: malformed")
	// ErrInvalidSignature covers parseable tokens signed with the wrong key
	// or algorithm.
	ErrInvalidSignature = errors.New("token: invalid signature")
	// ErrExpired covers structurally valid tokens past their expiry.
	ErrExpired = errors.New("token: expired")
	// ErrWrongType is returned when an access token is presented where a
	// refresh token is expected, or vice versa.
	ErrWrongType = errors.New("token: wrong token type")
)

// AccessClaims is the verified payload of an access token.
type AccessClaims struct {
	UserID    string
	Email     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RefreshClaims is the verified payload of a refresh token. TokenID is the
// ledger record identifier; ParentID links the rotation chain and is empty
// for a family root.
type RefreshClaims struct {
	UserID     string
	TokenID    string
	ParentID   string
	DeviceInfo string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Issued is a freshly minted token value with its expiry.
type Issued struct {
	Value     string
	ExpiresAt time.Time
}

// Issuer mints and validates bearer credentials. The session layer treats it
// as a black box so signing schemes can change without touching the state
// machine.
type Issuer interface {
	GenerateAccessToken(userID, email string) (Issued, error)
	GenerateRefreshToken(userID, tokenID, parentID, deviceInfo string) (Issued, error)
	ValidateAccessToken(value string) (AccessClaims, error)
	ValidateRefreshToken(value string) (RefreshClaims, error)
	// HashRefreshToken returns the stable digest used as the storage lookup
	// key. The raw value is never persisted.
	HashRefreshToken(value string) string
}

// HashValue is the canonical refresh-token digest: sha256 over the compact
// form, hex encoded.
func HashValue(value string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(value)))
	return hex.EncodeToString(sum[:])
}
