package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestGate_LocksOnThirdFailure(t *testing.T) {
	c := newClock()
	g := NewGate(GateConfig{Secret: "open sesame", Now: c.now}, zaptest.NewLogger(t))

	var credErr *CredentialError
	err := g.Check("wrong")
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, 2, credErr.RemainingAttempts)

	err = g.Check("wrong")
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, 1, credErr.RemainingAttempts)
	assert.Zero(t, g.Locked())

	var lockErr *LockedError
	err = g.Check("wrong")
	require.ErrorAs(t, err, &lockErr)
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, 30*time.Second, lockErr.RetryAfter)

	// Correct secret is refused while locked.
	c.advance(10 * time.Second)
	err = g.Check("open sesame")
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, 20*time.Second, lockErr.RetryAfter)
	assert.Equal(t, 20*time.Second, g.Locked())
}

func TestGate_ReleaseResetsFailures(t *testing.T) {
	c := newClock()
	g := NewGate(GateConfig{Secret: "s", Now: c.now}, nil)
	for i := 0; i < 3; i++ {
		_ = g.Check("x")
	}

	c.advance(29 * time.Second)
	assert.ErrorIs(t, g.Check("s"), ErrLocked)

	c.advance(time.Second)
	assert.Zero(t, g.Locked())

	var credErr *CredentialError
	require.ErrorAs(t, g.Check("x"), &credErr)
	assert.Equal(t, 2, credErr.RemainingAttempts, "count starts over after release")
	assert.NoError(t, g.Check("s"))
}

func TestGate_SuccessResetsFailures(t *testing.T) {
	g := NewGate(GateConfig{Secret: "s"}, nil)
	assert.ErrorIs(t, g.Check("x"), ErrInvalidCredential)
	assert.ErrorIs(t, g.Check("x"), ErrInvalidCredential)
	require.NoError(t, g.Check("s"))
	assert.ErrorIs(t, g.Check("x"), ErrInvalidCredential)
	assert.ErrorIs(t, g.Check("x"), ErrInvalidCredential)
	assert.ErrorIs(t, g.Check("x"), ErrLocked)
}

func TestGate_Configurable(t *testing.T) {
	c := newClock()
	g := NewGate(GateConfig{Secret: "s", MaxFailures: 1, Lockout: time.Minute, Now: c.now}, nil)
	var lockErr *LockedError
	require.ErrorAs(t, g.Check("x"), &lockErr)
	assert.Equal(t, time.Minute, lockErr.RetryAfter)
}

func TestGate_Disabled(t *testing.T) {
	g := NewGate(GateConfig{}, nil)
	assert.False(t, g.Enabled())
	assert.ErrorIs(t, g.Check(""), ErrDisabled)
	assert.ErrorIs(t, g.Check("anything"), ErrDisabled)
}

func TestSessions_IssueVerify(t *testing.T) {
	c := newClock()
	s, err := NewSessions("k", time.Hour, c.now)
	require.NoError(t, err)

	token, exp, err := s.Issue()
	require.NoError(t, err)
	assert.Equal(t, c.t.Add(time.Hour), exp)
	assert.NoError(t, s.Verify(token))

	c.advance(time.Hour + time.Second)
	assert.ErrorIs(t, s.Verify(token), ErrInvalidSession)
}

func TestSessions_Rejects(t *testing.T) {
	s, err := NewSessions("", 0, nil)
	require.NoError(t, err)
	other, err := NewSessions("", 0, nil)
	require.NoError(t, err)

	foreign, _, err := other.Issue()
	require.NoError(t, err)
	assert.ErrorIs(t, s.Verify(foreign), ErrInvalidSession, "random keys differ per instance")
	assert.ErrorIs(t, s.Verify(""), ErrInvalidSession)
	assert.ErrorIs(t, s.Verify("not.a.token"), ErrInvalidSession)

	wrongSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "visitor",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(s.key)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Verify(wrongSubject), ErrInvalidSession)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject}).SignedString(s.key)
	require.NoError(t, err)
	assert.True(t, errors.Is(s.Verify(noExpiry), ErrInvalidSession))
}

func TestSessions_Revoke(t *testing.T) {
	c := newClock()
	s, err := NewSessions("k", time.Hour, c.now)
	require.NoError(t, err)

	first, _, err := s.Issue()
	require.NoError(t, err)
	second, _, err := s.Issue()
	require.NoError(t, err)

	require.NoError(t, s.Revoke(first))
	assert.ErrorIs(t, s.Verify(first), ErrInvalidSession)
	assert.NoError(t, s.Verify(second), "other sessions survive")
	assert.ErrorIs(t, s.Revoke("not.a.token"), ErrInvalidSession)

	c.advance(2 * time.Hour)
	third, _, err := s.Issue()
	require.NoError(t, err)
	require.NoError(t, s.Revoke(third))
	s.mu.Lock()
	assert.Len(t, s.revoked, 1, "expired revocations are pruned")
	s.mu.Unlock()
}

func TestSessions_RejectsMissingID(t *testing.T) {
	s, err := NewSessions("k", time.Hour, nil)
	require.NoError(t, err)
	noID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(s.key)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Verify(noID), ErrInvalidSession)
}
