package user

import (
	"errors"
	"strings"
	"time"
)

// Status describes the lifecycle state of an account. Accounts are never
// hard-deleted; deactivation is a status transition.
type Status string

const (
	StatusPendingVerification Status = "pending_verification"
	StatusActive              Status = "active"
	StatusSuspended           Status = "suspended"
	StatusDeactivated         Status = "deactivated"
)

// SystemRole is the platform-wide role of an account, independent of any
// organization membership.
type SystemRole string

const (
	RoleSuperAdmin SystemRole = "super_admin"
	RoleAdmin      SystemRole = "admin"
	RoleUser       SystemRole = "user"
)

var (
	ErrNotFound = errors.New("user: not found")
	// ErrCannotModifySuperAdmin guards the one immutable rule of the user
	// aggregate: a super_admin role is never changed by any code path.
	ErrCannotModifySuperAdmin = errors.New("user: cannot modify super admin")
	ErrInvalidStatus          = errors.New("user: invalid status")
)

// User is an immutable snapshot of an account. Mutations return a new
// snapshot; callers persist the result with a full-row replace.
type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	FirstName           string
	LastName            string
	Status              Status
	SystemRole          SystemRole
	FailedLoginAttempts int
	LockedUntil         time.Time
	EmailVerifiedAt     time.Time
	LastLoginAt         time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// New creates a freshly registered account pending email verification.
func New(id, email, passwordHash, firstName, lastName string, now time.Time) User {
	return User{
		ID:           id,
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		Status:       StatusPendingVerification,
		SystemRole:   RoleUser,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
}

// NormalizeEmail lowercases and trims an address so lookups are stable.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// IsLocked reports whether the lockout window is still open at now.
func (u User) IsLocked(now time.Time) bool {
	return !u.LockedUntil.IsZero() && now.Before(u.LockedUntil)
}

// LockRemaining returns how long the lockout window has left at now.
func (u User) LockRemaining(now time.Time) time.Duration {
	if !u.IsLocked(now) {
		return 0
	}
	return u.LockedUntil.Sub(now)
}

// CanLogin reports whether the lifecycle status permits authentication.
func (u User) CanLogin() bool {
	return u.Status == StatusActive
}

// RecordFailedLogin returns a snapshot with the failure counter advanced.
// Once the counter reaches threshold the account is locked until
// now+lockWindow.
func (u User) RecordFailedLogin(now time.Time, threshold int, lockWindow time.Duration) User {
	next := u
	next.FailedLoginAttempts++
	if threshold > 0 && next.FailedLoginAttempts >= threshold {
		next.LockedUntil = now.UTC().Add(lockWindow)
	}
	next.UpdatedAt = now.UTC()
	return next
}

// RecordLogin returns a snapshot with lockout bookkeeping cleared and the
// last-login timestamp set.
func (u User) RecordLogin(now time.Time) User {
	next := u
	next.FailedLoginAttempts = 0
	next.LockedUntil = time.Time{}
	next.LastLoginAt = now.UTC()
	next.UpdatedAt = now.UTC()
	return next
}

// VerifyEmail marks the address verified and activates a pending account.
func (u User) VerifyEmail(now time.Time) User {
	next := u
	next.EmailVerifiedAt = now.UTC()
	if next.Status == StatusPendingVerification {
		next.Status = StatusActive
	}
	next.UpdatedAt = now.UTC()
	return next
}

// WithStatus returns a snapshot in the given lifecycle state.
func (u User) WithStatus(status Status, now time.Time) (User, error) {
	switch status {
	case StatusPendingVerification, StatusActive, StatusSuspended, StatusDeactivated:
	default:
		return User{}, ErrInvalidStatus
	}
	next := u
	next.Status = status
	next.UpdatedAt = now.UTC()
	return next, nil
}

// WithSystemRole returns a snapshot with the system role changed. A
// super_admin snapshot refuses any role change.
func (u User) WithSystemRole(role SystemRole, now time.Time) (User, error) {
	if u.SystemRole == RoleSuperAdmin {
		return User{}, ErrCannotModifySuperAdmin
	}
	next := u
	next.SystemRole = role
	next.UpdatedAt = now.UTC()
	return next, nil
}

// Safe returns the fields exposed to clients after authentication.
type Safe struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Status     Status     `json:"status"`
	SystemRole SystemRole `json:"system_role"`
}

// SafeView projects the snapshot onto its client-visible fields.
func (u User) SafeView() Safe {
	return Safe{
		ID:         u.ID,
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Status:     u.Status,
		SystemRole: u.SystemRole,
	}
}
