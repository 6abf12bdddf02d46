package credential

import (
	"fmt"
	"strings"
	"time"
)

// Status is the account lifecycle state.
type Status uint8

const (
	StatusActive Status = iota
	StatusPending
	StatusSuspended
	StatusInactive
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPending:
		return "pending"
	case StatusSuspended:
		return "suspended"
	case StatusInactive:
		return "inactive"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return StatusActive, nil
	case "pending":
		return StatusPending, nil
	case "suspended":
		return StatusSuspended, nil
	case "inactive":
		return StatusInactive, nil
	default:
		return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
	}
}

// BackupCode is one stored backup code.
type BackupCode struct {
	Hash   string     `json:"hash"`
	Used   bool       `json:"used"`
	UsedAt *time.Time `json:"used_at,omitempty"`
}

// Account is the persisted identity record.
type Account struct {
	ID     string
	Handle string
	Email  string

	PasswordHash      string
	// PasswordHistory holds up to the last five previous digests, oldest
	// first. It never contains PasswordHash.
	PasswordHistory   []string
	PasswordChangedAt time.Time

	Roles  []string
	Status Status

	FailedAttempts int
	LockUntil      *time.Time

	MFAEnabled   bool
	// MFASecret is set at enrollment. MFA only counts once MFAEnabled is
	// true, after a code has been confirmed against it.
	MFASecret    []byte
	TOTPLastStep int64
	BackupCodes  []BackupCode

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RemainingBackupCodes counts unused backup codes.
func (a *Account) RemainingBackupCodes() int {
	n := 0
	for _, c := range a.BackupCodes {
		if !c.Used {
			n++
		}
	}
	return n
}

// MFAEnrollmentPending reports whether a secret is stored but unconfirmed.
func (a *Account) MFAEnrollmentPending() bool {
	return !a.MFAEnabled && len(a.MFASecret) > 0
}

// PasswordUpdate is the write performed by a password change.
type PasswordUpdate struct {
	Hash      string
	History   []string
	ChangedAt time.Time
}

// NormalizeIdentifier canonicalizes a handle or email for lookup.
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
