// Package auth guards the editor: a single shared secret, a lockout after
// repeated failures, and signed session tokens for the browser.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxFailures = 3
	DefaultLockout     = 30 * time.Second
)

var (
	// ErrDisabled means no secret is configured, so nobody can log in.
	ErrDisabled = errors.New("login is disabled")
	// ErrLocked is wrapped by *LockedError.
	ErrLocked = errors.New("too many failed attempts")
	// ErrInvalidCredential is wrapped by *CredentialError.
	ErrInvalidCredential = errors.New("invalid credential")
)

// LockedError is returned while the gate is locked.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrLocked, e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// CredentialError is returned for a wrong secret that did not trigger a
// lockout.
type CredentialError struct {
	RemainingAttempts int
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s, %d attempts left", ErrInvalidCredential, e.RemainingAttempts)
}

func (e *CredentialError) Unwrap() error { return ErrInvalidCredential }

// GateConfig configures a Gate. Zero values take the defaults.
type GateConfig struct {
	Secret      string
	MaxFailures int
	Lockout     time.Duration
	Now         func() time.Time
}

// Gate checks submitted secrets. Failure counts live in memory only.
type Gate struct {
	secret      []byte
	maxFailures int
	lockout     time.Duration
	now         func() time.Time
	logger      *zap.Logger

	mu          sync.Mutex
	failures    int
	lockedUntil time.Time
}

func NewGate(cfg GateConfig, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = DefaultLockout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gate{
		secret:      []byte(cfg.Secret),
		maxFailures: cfg.MaxFailures,
		lockout:     cfg.Lockout,
		now:         cfg.Now,
		logger:      logger.Named("auth"),
	}
}

// Enabled reports whether a secret is configured.
func (g *Gate) Enabled() bool { return len(g.secret) > 0 }

// Check compares secret with the configured one. While locked every attempt
// is refused without being counted. The failure that reaches the limit
// starts the lockout and is reported as a *LockedError.
func (g *Gate) Check(secret string) error {
	if !g.Enabled() {
		return ErrDisabled
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if remaining := g.remainingLocked(now); remaining > 0 {
		return &LockedError{RetryAfter: remaining}
	}

	if subtle.ConstantTimeCompare([]byte(secret), g.secret) == 1 {
		g.failures = 0
		return nil
	}

	g.failures++
	if g.failures >= g.maxFailures {
		g.lockedUntil = now.Add(g.lockout)
		g.logger.Warn("login locked after repeated failures",
			zap.Int("failures", g.failures), zap.Duration("lockout", g.lockout))
		return &LockedError{RetryAfter: g.lockout}
	}
	g.logger.Info("login failed", zap.Int("failures", g.failures))
	return &CredentialError{RemainingAttempts: g.maxFailures - g.failures}
}

// Locked returns the remaining lockout, or zero when attempts are allowed.
func (g *Gate) Locked() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remainingLocked(g.now())
}

// remainingLocked releases an expired lock and resets the failure count.
func (g *Gate) remainingLocked(now time.Time) time.Duration {
	if g.lockedUntil.IsZero() {
		return 0
	}
	if remaining := g.lockedUntil.Sub(now); remaining > 0 {
		return remaining
	}
	g.lockedUntil = time.Time{}
	g.failures = 0
	return 0
}
