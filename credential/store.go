package credential

import (
	"context"
	"time"
)

// Store persists accounts. Lookups return ErrNotFound for unknown accounts.
// Mutations of an unknown id also return ErrNotFound.
type Store interface {
	// CreateAccount inserts a, failing with ErrDuplicate when the handle or
	// email is taken. Handle and email arrive normalized.
	CreateAccount(ctx context.Context, a *Account) error
	AccountByID(ctx context.Context, id string) (*Account, error)
	// AccountByIdentifier matches a normalized handle or email.
	AccountByIdentifier(ctx context.Context, identifier string) (*Account, error)

	SaveLockout(ctx context.Context, id string, failedAttempts int, lockUntil *time.Time) error
	UpdatePassword(ctx context.Context, id string, u PasswordUpdate) error
	// RehashPassword swaps the digest from oldHash to newHash without
	// touching the history or the change time. It is a no-op when the
	// stored digest is no longer oldHash.
	RehashPassword(ctx context.Context, id, oldHash, newHash string, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error

	// SetMFASecret stores a new unconfirmed secret. MFA is disabled, the
	// backup codes and the last accepted step are cleared.
	SetMFASecret(ctx context.Context, id string, secret []byte, at time.Time) error
	// EnableMFA activates the stored secret with the given backup codes and
	// records step as the last accepted one.
	EnableMFA(ctx context.Context, id string, codes []BackupCode, step int64, at time.Time) error
	// DisableMFA clears the secret, the backup codes and the step.
	DisableMFA(ctx context.Context, id string, at time.Time) error
	ReplaceBackupCodes(ctx context.Context, id string, codes []BackupCode, at time.Time) error
	// ConsumeBackupCode atomically marks the unused code with the given
	// hash as used. It reports whether a code was consumed and how many
	// unused codes remain.
	ConsumeBackupCode(ctx context.Context, id, hash string, at time.Time) (consumed bool, remaining int, err error)
	// AdvanceTOTPStep atomically records step as the last accepted one if
	// it is greater than the stored value, and reports whether it was.
	AdvanceTOTPStep(ctx context.Context, id string, step int64) (bool, error)
}
