package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/limiters"
)

var (
	// ErrNotFound is returned by stores for unknown accounts.
	ErrNotFound = errors.New("credential: account not found")
	// ErrDuplicate is returned by stores when the handle or email is taken.
	ErrDuplicate = errors.New("credential: account already exists")
	// ErrInvalidCredentials is returned for unknown identifiers and wrong
	// passwords alike.
	ErrInvalidCredentials = errors.New("credential: invalid credentials")
	// ErrNotActive is returned for accounts that are not active.
	ErrNotActive = errors.New("credential: account not active")
	// ErrLocked is matched by *LockedError.
	ErrLocked = errors.New("credential: account locked")
	// ErrPasswordReused is returned when a new password matches the current
	// one or one in the history.
	ErrPasswordReused = errors.New("credential: password reused")
	// ErrWeakPassword wraps the password policy violation.
	ErrWeakPassword = errors.New("credential: weak password")
	// ErrInvalidInput is returned for malformed handles, emails or statuses.
	ErrInvalidInput = errors.New("credential: invalid input")
)

// LockedError carries the time left on an account lock.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("credential: account locked, retry in %ds", e.Seconds())
}

func (e *LockedError) Unwrap() error {
	return ErrLocked
}

// Seconds returns RetryAfter rounded up to whole seconds.
func (e *LockedError) Seconds() int64 {
	return limiters.RetrySeconds(e.RetryAfter)
}
