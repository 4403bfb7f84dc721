// Package ratelimit implements the login attempt limiter: dual IP and
// username keyed failure counters with lockout and periodic cleanup.
package ratelimit

import (
	"sync"
	"time"
)

// attempt tracks failures for a single IP or username key.
type attempt struct {
	failedCount   int
	lastFailedAt  time.Time
	lockedUntil   time.Time
	firstFailedAt time.Time
}

func (a attempt) locked(now time.Time) bool { return now.Before(a.lockedUntil) }

// Config bounds the limiter's thresholds.
type Config struct {
	MaxFailedAttempts int
	LockoutSeconds    int
	CleanupInterval   time.Duration
}

func (c Config) lockout() time.Duration { return time.Duration(c.LockoutSeconds) * time.Second }

// Limiter is a single-instance, in-memory login rate limiter keyed on both
// IP and username. A production deployment with multiple instances would
// back this with Redis instead; this mirrors the reference single-process
// implementation.
type Limiter struct {
	cfg Config

	mu          sync.Mutex
	byIP        map[string]*attempt
	byUsername  map[string]*attempt
	lastCleanup time.Time
	now         func() time.Time
}

// New returns a Limiter with the given config. Zero values fall back to the
// reference defaults (5 attempts, 300s lockout, hourly cleanup).
func New(cfg Config) *Limiter {
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = 5
	}
	if cfg.LockoutSeconds <= 0 {
		cfg.LockoutSeconds = 300
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	return &Limiter{
		cfg:         cfg,
		byIP:        make(map[string]*attempt),
		byUsername:  make(map[string]*attempt),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Status reports whether an attempt is currently allowed and, if not, how
// many seconds remain before the lockout clears.
type Status struct {
	Allowed          bool
	RemainingSeconds int
	LockedBy         string // "ip" or "username", set only when !Allowed
}

// Check reports whether a login attempt from ip/username is currently
// permitted. It never mutates failure counters.
func (l *Limiter) Check(ip, username string) Status {
	l.cleanupExpired()
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if a, ok := l.byIP[ip]; ok && a.locked(now) {
		return Status{Allowed: false, RemainingSeconds: remaining(a.lockedUntil, now), LockedBy: "ip"}
	}
	if a, ok := l.byUsername[username]; ok && a.locked(now) {
		return Status{Allowed: false, RemainingSeconds: remaining(a.lockedUntil, now), LockedBy: "username"}
	}
	return Status{Allowed: true}
}

// RecordFailure records a failed login attempt and returns the number of
// attempts remaining before lockout and whether this failure triggered one.
func (l *Limiter) RecordFailure(ip, username string) (remainingAttempts int, lockedOut bool) {
	now := l.now()
	lockout := l.cfg.lockout()

	l.mu.Lock()
	defer l.mu.Unlock()

	ipAttempt := l.getOrCreate(l.byIP, ip, now)
	if now.Sub(ipAttempt.lastFailedAt) > lockout {
		ipAttempt.failedCount = 0
		ipAttempt.firstFailedAt = now
	}
	ipAttempt.failedCount++
	ipAttempt.lastFailedAt = now

	userAttempt := l.getOrCreate(l.byUsername, username, now)
	if now.Sub(userAttempt.lastFailedAt) > lockout {
		userAttempt.failedCount = 0
		userAttempt.firstFailedAt = now
	}
	userAttempt.failedCount++
	userAttempt.lastFailedAt = now

	maxFailed := ipAttempt.failedCount
	if userAttempt.failedCount > maxFailed {
		maxFailed = userAttempt.failedCount
	}

	if maxFailed >= l.cfg.MaxFailedAttempts {
		lockUntil := now.Add(lockout)
		ipAttempt.lockedUntil = lockUntil
		userAttempt.lockedUntil = lockUntil
		lockedOut = true
	}

	remainingAttempts = l.cfg.MaxFailedAttempts - maxFailed
	if remainingAttempts < 0 {
		remainingAttempts = 0
	}
	return remainingAttempts, lockedOut
}

// RecordSuccess clears failure state for ip and username.
func (l *Limiter) RecordSuccess(ip, username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byIP, ip)
	delete(l.byUsername, username)
}

// UnlockIP manually clears a locked IP, returning whether one was present.
func (l *Limiter) UnlockIP(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byIP[ip]; ok {
		delete(l.byIP, ip)
		return true
	}
	return false
}

// UnlockUsername manually clears a locked username, returning whether one
// was present.
func (l *Limiter) UnlockUsername(username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byUsername[username]; ok {
		delete(l.byUsername, username)
		return true
	}
	return false
}

func (l *Limiter) getOrCreate(m map[string]*attempt, key string, now time.Time) *attempt {
	a, ok := m[key]
	if !ok {
		a = &attempt{firstFailedAt: now}
		m[key] = a
	}
	return a
}

func (l *Limiter) cleanupExpired() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastCleanup) < l.cfg.CleanupInterval {
		return
	}

	staleAfter := 2 * l.cfg.lockout()
	for k, a := range l.byIP {
		if !a.locked(now) && now.Sub(a.lastFailedAt) > staleAfter {
			delete(l.byIP, k)
		}
	}
	for k, a := range l.byUsername {
		if !a.locked(now) && now.Sub(a.lastFailedAt) > staleAfter {
			delete(l.byUsername, k)
		}
	}
	l.lastCleanup = now
}

func remaining(lockedUntil, now time.Time) int {
	d := int(lockedUntil.Sub(now).Seconds())
	if d < 0 {
		return 0
	}
	return d
}
