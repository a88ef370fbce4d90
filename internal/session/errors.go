package session

import (
	"errors"
	"fmt"
	"time"

	"clinicore.org/internal/user"
)

var (
	// ErrInvalidCredentials covers bad email, bad password and unverified
	// accounts alike, so a caller cannot probe which addresses exist.
	ErrInvalidCredentials = errors.New("session: invalid credentials")

	// ErrInvalidRefreshToken covers malformed, forged and unknown refresh
	// tokens; the caller cannot tell those apart.
	ErrInvalidRefreshToken = errors.New("session: invalid refresh token")

	ErrRefreshTokenExpired = errors.New("session: refresh token expired")
	ErrRefreshTokenRevoked = errors.New("session: refresh token revoked")

	// ErrInvalidAccessToken is returned by Authenticate for unusable bearer
	// tokens.
	ErrInvalidAccessToken = errors.New("session: invalid access token")

	// ErrAccountLocked is the sentinel matched by AccountLockedError.
	ErrAccountLocked = errors.New("session: account locked")

	// ErrUserNotActive is the sentinel matched by UserNotActiveError.
	ErrUserNotActive = errors.New("session: user not active")

	// ErrReuseDetected is the sentinel matched by ReuseDetectedError.
	ErrReuseDetected = errors.New("session: refresh token reuse detected")

	// ErrNotFound is returned by token stores for unknown records.
	ErrNotFound = errors.New("session: token not found")

	// ErrRotationConflict is returned by token stores when a rotation's
	// compare-and-swap loses to a concurrent rotation of the same record.
	ErrRotationConflict = errors.New("session: concurrent rotation conflict")
)

// AccountLockedError reports an active lockout window.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("session: account locked, retry in %ds", int(e.RetryAfter.Seconds()))
}

func (e *AccountLockedError) Is(target error) bool { return target == ErrAccountLocked }

// UserNotActiveError reports a suspended or deactivated account. Unlike
// unverified accounts, the status is disclosed here so legitimate clients can
// act on it.
type UserNotActiveError struct {
	Status user.Status
}

func (e *UserNotActiveError) Error() string {
	return fmt.Sprintf("session: user not active (%s)", e.Status)
}

func (e *UserNotActiveError) Is(target error) bool { return target == ErrUserNotActive }

// ReuseDetectedError signals that an already-rotated refresh token was
// presented again. The whole family rooted at FamilyRootID has been revoked
// by the time this error is returned.
type ReuseDetectedError struct {
	TokenID      string
	FamilyRootID string
}

func (e *ReuseDetectedError) Error() string {
	return fmt.Sprintf("session: refresh token reuse detected (token %s, family %s)", e.TokenID, e.FamilyRootID)
}

func (e *ReuseDetectedError) Is(target error) bool { return target == ErrReuseDetected }
