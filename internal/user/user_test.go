package user

import (
	"errors"
	"testing"
	"time"
)

func TestRecordFailedLoginLocksAtThreshold(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	u := New("u1", "Doc@Example.com", "hash", "Ada", "Gray", now)

	if u.Email != "doc@example.com" {
		t.Fatalf("email not normalized: %s", u.Email)
	}

	for i := 0; i < 4; i++ {
		u = u.RecordFailedLogin(now, 5, 15*time.Minute)
		if u.IsLocked(now) {
			t.Fatalf("locked after %d attempts", i+1)
		}
	}
	u = u.RecordFailedLogin(now, 5, 15*time.Minute)
	if !u.IsLocked(now) {
		t.Fatalf("expected lock after threshold")
	}
	if got := u.LockRemaining(now); got != 15*time.Minute {
		t.Fatalf("unexpected lock remaining: %v", got)
	}
	if u.IsLocked(now.Add(16 * time.Minute)) {
		t.Fatalf("lock should expire")
	}
}

func TestRecordLoginClearsLockout(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	u := New("u1", "doc@example.com", "hash", "", "", now)
	u = u.RecordFailedLogin(now, 1, time.Hour)
	if !u.IsLocked(now) {
		t.Fatalf("expected locked")
	}

	u = u.RecordLogin(now.Add(2 * time.Hour))
	if u.FailedLoginAttempts != 0 {
		t.Fatalf("counter not reset: %d", u.FailedLoginAttempts)
	}
	if !u.LockedUntil.IsZero() {
		t.Fatalf("lockout not cleared")
	}
	if u.LastLoginAt.IsZero() {
		t.Fatalf("last login not set")
	}
}

func TestVerifyEmailActivatesPendingAccount(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	u := New("u1", "doc@example.com", "hash", "", "", now)
	if u.Status != StatusPendingVerification {
		t.Fatalf("unexpected initial status: %s", u.Status)
	}
	u = u.VerifyEmail(now)
	if u.Status != StatusActive {
		t.Fatalf("expected active, got %s", u.Status)
	}
	if u.EmailVerifiedAt.IsZero() {
		t.Fatalf("verified timestamp not set")
	}
}

func TestWithSystemRoleRefusesSuperAdmin(t *testing.T) {
	now := time.Now()
	u := New("u1", "root@example.com", "hash", "", "", now)
	u.SystemRole = RoleSuperAdmin

	if _, err := u.WithSystemRole(RoleUser, now); !errors.Is(err, ErrCannotModifySuperAdmin) {
		t.Fatalf("expected ErrCannotModifySuperAdmin, got %v", err)
	}

	promoted, err := New("u2", "a@example.com", "hash", "", "", now).WithSystemRole(RoleAdmin, now)
	if err != nil {
		t.Fatalf("WithSystemRole: %v", err)
	}
	if promoted.SystemRole != RoleAdmin {
		t.Fatalf("unexpected role: %s", promoted.SystemRole)
	}
}

func TestMutationsDoNotAliasReceiver(t *testing.T) {
	now := time.Now()
	orig := New("u1", "doc@example.com", "hash", "", "", now)
	_ = orig.RecordFailedLogin(now, 1, time.Hour)
	if orig.FailedLoginAttempts != 0 || orig.IsLocked(now) {
		t.Fatalf("receiver mutated")
	}
}
