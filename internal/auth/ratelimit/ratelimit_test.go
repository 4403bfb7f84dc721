package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(start time.Time) *Limiter {
	l := New(Config{MaxFailedAttempts: 3, LockoutSeconds: 60, CleanupInterval: time.Hour})
	l.now = func() time.Time { return start }
	return l
}

func TestRecordFailure_LocksAfterMaxAttempts(t *testing.T) {
	now := time.Now()
	l := newTestLimiter(now)

	for i := 0; i < 2; i++ {
		remaining, locked := l.RecordFailure("1.2.3.4", "alice")
		if locked {
			t.Fatalf("attempt %d: unexpected lockout", i)
		}
		if remaining != 2-i {
			t.Fatalf("attempt %d: remaining = %d, want %d", i, remaining, 2-i)
		}
	}

	remaining, locked := l.RecordFailure("1.2.3.4", "alice")
	if !locked {
		t.Fatalf("expected lockout on 3rd failure")
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}

	status := l.Check("1.2.3.4", "alice")
	if status.Allowed {
		t.Fatalf("expected locked IP to be blocked")
	}
	if status.RemainingSeconds != 60 {
		t.Fatalf("remaining seconds = %d, want 60", status.RemainingSeconds)
	}
}

func TestCheck_UsernameLockBlocksDifferentIP(t *testing.T) {
	now := time.Now()
	l := newTestLimiter(now)

	for i := 0; i < 3; i++ {
		l.RecordFailure("1.1.1.1", "bob")
	}

	status := l.Check("9.9.9.9", "bob")
	if status.Allowed {
		t.Fatalf("expected username lock to block a different IP")
	}
	if status.LockedBy != "username" {
		t.Fatalf("LockedBy = %q, want username", status.LockedBy)
	}
}

func TestRecordFailure_ResetsCounterAfterLockoutWindow(t *testing.T) {
	now := time.Now()
	l := newTestLimiter(now)

	l.RecordFailure("1.2.3.4", "carol")
	l.RecordFailure("1.2.3.4", "carol")

	// Advance past the lockout window without crossing the threshold.
	l.now = func() time.Time { return now.Add(61 * time.Second) }
	remaining, locked := l.RecordFailure("1.2.3.4", "carol")
	if locked {
		t.Fatalf("expected counters to reset, not lock")
	}
	if remaining != 2 {
		t.Fatalf("remaining = %d, want 2 after reset", remaining)
	}
}

func TestRecordSuccess_ClearsFailures(t *testing.T) {
	now := time.Now()
	l := newTestLimiter(now)

	l.RecordFailure("1.2.3.4", "dave")
	l.RecordFailure("1.2.3.4", "dave")
	l.RecordSuccess("1.2.3.4", "dave")

	remaining, locked := l.RecordFailure("1.2.3.4", "dave")
	if locked {
		t.Fatalf("expected fresh counters after success, got lockout")
	}
	if remaining != 2 {
		t.Fatalf("remaining = %d, want 2 after reset via success", remaining)
	}
}

func TestUnlockIPAndUsername(t *testing.T) {
	now := time.Now()
	l := newTestLimiter(now)

	for i := 0; i < 3; i++ {
		l.RecordFailure("1.2.3.4", "erin")
	}
	if !l.UnlockIP("1.2.3.4") {
		t.Fatalf("expected UnlockIP to report a lock was present")
	}
	if l.UnlockIP("1.2.3.4") {
		t.Fatalf("expected second UnlockIP call to report nothing present")
	}
	// Username lock is independent of the IP lock and still blocks.
	status := l.Check("1.2.3.4", "erin")
	if status.Allowed {
		t.Fatalf("expected username lock to still block after IP unlock")
	}
	if !l.UnlockUsername("erin") {
		t.Fatalf("expected UnlockUsername to report a lock was present")
	}
	status = l.Check("1.2.3.4", "erin")
	if !status.Allowed {
		t.Fatalf("expected both locks cleared")
	}
}

func TestCleanupExpired_RemovesStaleEntries(t *testing.T) {
	now := time.Now()
	l := newTestLimiter(now)
	l.cfg.CleanupInterval = time.Second

	l.RecordFailure("1.2.3.4", "frank")

	l.now = func() time.Time { return now.Add(3 * time.Minute) }
	l.cleanupExpired()

	l.mu.Lock()
	_, ipPresent := l.byIP["1.2.3.4"]
	_, userPresent := l.byUsername["frank"]
	l.mu.Unlock()
	if ipPresent || userPresent {
		t.Fatalf("expected stale unlocked entries to be cleaned up")
	}
}
