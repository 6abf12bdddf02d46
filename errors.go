package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/limiters"
)

var (
	// ErrInvalidCredentials is returned for wrong passwords and unknown
	// identifiers alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is matched by *AccountLockedError.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountNotActive is returned for pending, suspended and inactive accounts.
	ErrAccountNotActive = errors.New("account not active")
	// ErrSecondFactorRequired is matched by *SecondFactorRequiredError.
	ErrSecondFactorRequired = errors.New("second factor required")
	// ErrInvalidSecondFactor covers wrong, replayed and already used codes
	// as well as unknown, expired or exhausted pending-session handles.
	ErrInvalidSecondFactor = errors.New("invalid second factor")
	// ErrTokenExpired is returned for refresh tokens past their expiry and
	// for expired access tokens.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for malformed, unknown and revoked tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenReused marks refresh token replay in audit events. The engine
	// revokes the family and reports ErrTokenInvalid to callers.
	ErrTokenReused = errors.New("refresh token reuse detected")
	// ErrPasswordReused is returned when a new password matches the current
	// one or one of the last five.
	ErrPasswordReused = errors.New("password reused")
	// ErrWeakPassword is returned when a password fails the strength policy.
	ErrWeakPassword = errors.New("weak password")

	ErrAccountExists     = errors.New("account already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	ErrMFANotEnrolled    = errors.New("mfa not enrolled")
	ErrRateLimited       = errors.New("rate limited")

	// ErrUnavailable is the generic infrastructure fault. The underlying
	// cause is logged, never returned.
	ErrUnavailable = errors.New("service unavailable")
	// ErrEngineNotReady is returned when an engine method is called on a
	// nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// AccountLockedError carries the time left on an account lock. It matches
// ErrAccountLocked.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked, retry in %ds", e.Seconds())
}

func (e *AccountLockedError) Unwrap() error {
	return ErrAccountLocked
}

// Seconds returns RetryAfter rounded up to whole seconds.
func (e *AccountLockedError) Seconds() int64 {
	return limiters.RetrySeconds(e.RetryAfter)
}

// SecondFactorRequiredError is returned by Login for accounts with MFA
// enabled. Handle identifies the pending session to pass to
// VerifySecondFactor before ExpiresAt. It matches ErrSecondFactorRequired.
type SecondFactorRequiredError struct {
	Handle    string
	ExpiresAt time.Time
}

func (e *SecondFactorRequiredError) Error() string {
	return ErrSecondFactorRequired.Error()
}

func (e *SecondFactorRequiredError) Unwrap() error {
	return ErrSecondFactorRequired
}
