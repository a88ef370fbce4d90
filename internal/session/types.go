package session

import (
	"time"

	"clinicore.org/internal/token"
	"clinicore.org/internal/user"
)

// TokenStatus is the lifecycle state of a persisted refresh token.
// active → rotated (normal renewal) or revoked; rotated → revoked (family
// purge). Rotated and revoked are terminal; a token never returns to active.
type TokenStatus string

const (
	TokenActive  TokenStatus = "active"
	TokenRotated TokenStatus = "rotated"
	TokenRevoked TokenStatus = "revoked"
)

// RefreshToken is the persisted ledger record for one refresh credential.
// ParentID links the rotation chain; the family root has an empty ParentID.
// Only the hash of the token value is stored, never the value itself.
type RefreshToken struct {
	ID         string
	UserID     string
	ParentID   string
	TokenHash  string
	DeviceInfo string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Status     TokenStatus
}

// IsRoot reports whether this record starts a token family.
func (t RefreshToken) IsRoot() bool { return t.ParentID == "" }

// Expired reports whether the record is past its expiry at now.
func (t RefreshToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

// LockoutPolicy configures failed-login accounting.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

// DefaultLockoutPolicy locks an account for 15 minutes after 5 failures.
var DefaultLockoutPolicy = LockoutPolicy{Threshold: 5, Window: 15 * time.Minute}

// TokenPair is the result of a login or a rotation.
type TokenPair struct {
	AccessToken  token.Issued
	RefreshToken token.Issued
}

// LoginResult carries the new token pair and the safe user projection.
type LoginResult struct {
	User      user.Safe
	TokenPair TokenPair
}
