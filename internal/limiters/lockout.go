package limiters

import (
	"errors"
	"time"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 30 * time.Minute
)

// LockoutConfig holds the lockout policy.
type LockoutConfig struct {
	Threshold int           `yaml:"threshold"`
	Duration  time.Duration `yaml:"duration"`
}

// DefaultLockoutConfig returns five attempts and a thirty minute lock.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{Threshold: defaultLockoutThreshold, Duration: defaultLockoutDuration}
}

// Validate checks the policy.
func (c LockoutConfig) Validate() error {
	if c.Threshold <= 0 {
		return errors.New("lockout threshold must be > 0")
	}
	if c.Duration <= 0 {
		return errors.New("lockout duration must be > 0")
	}
	return nil
}

// LockoutState is the persisted slice of an account the guard operates on.
type LockoutState struct {
	FailedAttempts int
	LockUntil      *time.Time
}

// Phase is the derived position in the lockout state machine.
type Phase uint8

const (
	PhaseNormal Phase = iota
	PhaseWarning
	PhaseLocked
)

func (p Phase) String() string {
	switch p {
	case PhaseWarning:
		return "warning"
	case PhaseLocked:
		return "locked"
	default:
		return "normal"
	}
}

// Guard evaluates lockout transitions. The zero value is not usable; build
// it with NewGuard.
type Guard struct {
	cfg LockoutConfig
}

// NewGuard returns a Guard for cfg, filling zero fields with defaults.
func NewGuard(cfg LockoutConfig) *Guard {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultLockoutThreshold
	}
	if cfg.Duration <= 0 {
		cfg.Duration = defaultLockoutDuration
	}
	return &Guard{cfg: cfg}
}

// Phase derives the state machine position at now. An elapsed lock reads as
// warning until the next failure or success rewrites the state.
func (g *Guard) Phase(s LockoutState, now time.Time) Phase {
	if _, locked := g.Locked(s, now); locked {
		return PhaseLocked
	}
	if s.FailedAttempts > 0 {
		return PhaseWarning
	}
	return PhaseNormal
}

// Locked reports whether s is locked at now and the time left on the lock.
func (g *Guard) Locked(s LockoutState, now time.Time) (time.Duration, bool) {
	if s.LockUntil == nil || !s.LockUntil.After(now) {
		return 0, false
	}
	return s.LockUntil.Sub(now), true
}

// Failure returns the state after a failed credential check at now and
// whether it changed. A locked state is returned unchanged. A lock that has
// already elapsed restarts the count at one.
func (g *Guard) Failure(s LockoutState, now time.Time) (LockoutState, bool) {
	if _, locked := g.Locked(s, now); locked {
		return s, false
	}

	next := LockoutState{FailedAttempts: s.FailedAttempts + 1}
	if s.LockUntil != nil {
		next.FailedAttempts = 1
	}

	if next.FailedAttempts >= g.cfg.Threshold {
		until := now.Add(g.cfg.Duration)
		next.LockUntil = &until
	}
	return next, true
}

// Success returns the cleared state and whether anything needed clearing.
func (g *Guard) Success(s LockoutState) (LockoutState, bool) {
	if s.FailedAttempts == 0 && s.LockUntil == nil {
		return s, false
	}
	return LockoutState{}, true
}

// RetrySeconds rounds a remaining lock time up to whole seconds.
func RetrySeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
