package limiters

import (
	"testing"
	"time"
)

func TestGuardLocksAtThreshold(t *testing.T) {
	g := NewGuard(DefaultLockoutConfig())
	now := time.Unix(1_700_000_000, 0)

	var s LockoutState
	for i := 1; i <= 4; i++ {
		s, _ = g.Failure(s, now)
		if s.FailedAttempts != i || s.LockUntil != nil {
			t.Fatalf("attempt %d: unexpected state %+v", i, s)
		}
		if g.Phase(s, now) != PhaseWarning {
			t.Fatalf("attempt %d: expected warning phase", i)
		}
	}

	s, _ = g.Failure(s, now)
	if s.FailedAttempts != 5 || s.LockUntil == nil || !s.LockUntil.Equal(now.Add(30*time.Minute)) {
		t.Fatalf("expected lock after fifth failure, got %+v", s)
	}

	left, locked := g.Locked(s, now.Add(10*time.Minute))
	if !locked || left != 20*time.Minute {
		t.Fatalf("expected 20m remaining, got %v locked=%v", left, locked)
	}
}

func TestGuardDoesNotIncrementWhileLocked(t *testing.T) {
	g := NewGuard(LockoutConfig{Threshold: 2, Duration: time.Minute})
	now := time.Unix(1_700_000_000, 0)

	s, _ := g.Failure(LockoutState{}, now)
	s, _ = g.Failure(s, now)
	if g.Phase(s, now) != PhaseLocked {
		t.Fatal("expected locked phase")
	}

	next, changed := g.Failure(s, now.Add(30*time.Second))
	if changed || next.FailedAttempts != 2 || !next.LockUntil.Equal(*s.LockUntil) {
		t.Fatalf("locked state must not change, got %+v changed=%v", next, changed)
	}
}

func TestGuardLazyExpiryRestartsAtOne(t *testing.T) {
	g := NewGuard(LockoutConfig{Threshold: 3, Duration: time.Minute})
	now := time.Unix(1_700_000_000, 0)
	until := now.Add(-time.Second)

	s := LockoutState{FailedAttempts: 3, LockUntil: &until}
	if _, locked := g.Locked(s, now); locked {
		t.Fatal("elapsed lock must not read as locked")
	}

	next, changed := g.Failure(s, now)
	if !changed || next.FailedAttempts != 1 || next.LockUntil != nil {
		t.Fatalf("expected fresh count of one, got %+v", next)
	}
}

func TestGuardSuccessClears(t *testing.T) {
	g := NewGuard(DefaultLockoutConfig())
	until := time.Now().Add(-time.Minute)

	cleared, changed := g.Success(LockoutState{FailedAttempts: 3, LockUntil: &until})
	if !changed || cleared.FailedAttempts != 0 || cleared.LockUntil != nil {
		t.Fatalf("expected cleared state, got %+v", cleared)
	}

	if _, changed := g.Success(LockoutState{}); changed {
		t.Fatal("clean state must report no change")
	}
}

func TestRetrySecondsRoundsUp(t *testing.T) {
	cases := map[time.Duration]int64{
		0:                       0,
		-time.Second:            0,
		time.Second:             1,
		1500 * time.Millisecond: 2,
		30 * time.Minute:        1800,
	}
	for in, want := range cases {
		if got := RetrySeconds(in); got != want {
			t.Fatalf("RetrySeconds(%v) = %d, want %d", in, got, want)
		}
	}
}
