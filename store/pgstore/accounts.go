package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrEthical07/authcore/credential"
)

var _ credential.Store = (*Store)(nil)

const accountColumns = `id, handle, COALESCE(email, ''), password_hash, password_history,
	password_changed_at, roles, status, failed_attempts, lock_until,
	mfa_enabled, mfa_secret, totp_last_step, created_at, updated_at`

func scanAccount(row scanner) (*credential.Account, error) {
	var (
		a      credential.Account
		status int16
	)
	err := row.Scan(
		&a.ID, &a.Handle, &a.Email, &a.PasswordHash, &a.PasswordHistory,
		&a.PasswordChangedAt, &a.Roles, &status, &a.FailedAttempts, &a.LockUntil,
		&a.MFAEnabled, &a.MFASecret, &a.TOTPLastStep, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credential.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	a.Status = credential.Status(status)
	return &a, nil
}

// CreateAccount implements credential.Store.
func (s *Store) CreateAccount(ctx context.Context, a *credential.Account) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO accounts (id, handle, email, password_hash, password_history,
				password_changed_at, roles, status, failed_attempts, lock_until,
				mfa_enabled, mfa_secret, totp_last_step, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			a.ID, a.Handle, nullable(a.Email), a.PasswordHash, orEmpty(a.PasswordHistory),
			a.PasswordChangedAt, orEmpty(a.Roles), int16(a.Status), a.FailedAttempts, a.LockUntil,
			a.MFAEnabled, a.MFASecret, a.TOTPLastStep, a.CreatedAt, a.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return credential.ErrDuplicate
		}
		if err != nil {
			return unavailable(err)
		}
		return insertCodes(ctx, tx, a.ID, a.BackupCodes)
	})
}

// AccountByID implements credential.Store.
func (s *Store) AccountByID(ctx context.Context, id string) (*credential.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return s.withCodes(ctx, a)
}

// AccountByIdentifier implements credential.Store.
func (s *Store) AccountByIdentifier(ctx context.Context, identifier string) (*credential.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE handle = $1 OR email = $1 LIMIT 1`, identifier))
	if err != nil {
		return nil, err
	}
	return s.withCodes(ctx, a)
}

func (s *Store) withCodes(ctx context.Context, a *credential.Account) (*credential.Account, error) {
	rows, err := s.db.Query(ctx,
		`SELECT hash, used_at FROM account_backup_codes WHERE account_id = $1 ORDER BY position`, a.ID)
	if err != nil {
		return nil, unavailable(err)
	}
	codes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (credential.BackupCode, error) {
		var c credential.BackupCode
		if err := row.Scan(&c.Hash, &c.UsedAt); err != nil {
			return c, err
		}
		c.Used = c.UsedAt != nil
		return c, nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	a.BackupCodes = codes
	return a, nil
}

// SaveLockout implements credential.Store.
func (s *Store) SaveLockout(ctx context.Context, id string, failedAttempts int, lockUntil *time.Time) error {
	return execAccount(ctx, s.db,
		`UPDATE accounts SET failed_attempts = $2, lock_until = $3 WHERE id = $1`,
		id, failedAttempts, lockUntil)
}

// UpdatePassword implements credential.Store.
func (s *Store) UpdatePassword(ctx context.Context, id string, u credential.PasswordUpdate) error {
	return execAccount(ctx, s.db,
		`UPDATE accounts SET password_hash = $2, password_history = $3, password_changed_at = $4, updated_at = $4 WHERE id = $1`,
		id, u.Hash, orEmpty(u.History), u.ChangedAt)
}

// RehashPassword implements credential.Store.
func (s *Store) RehashPassword(ctx context.Context, id, oldHash, newHash string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE accounts SET password_hash = $3, updated_at = $4 WHERE id = $1 AND password_hash = $2`,
		id, oldHash, newHash, at)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// UpdateStatus implements credential.Store.
func (s *Store) UpdateStatus(ctx context.Context, id string, status credential.Status, at time.Time) error {
	return execAccount(ctx, s.db,
		`UPDATE accounts SET status = $2, updated_at = $3 WHERE id = $1`,
		id, int16(status), at)
}

// SetMFASecret implements credential.Store.
func (s *Store) SetMFASecret(ctx context.Context, id string, secret []byte, at time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := execAccount(ctx, tx,
			`UPDATE accounts SET mfa_enabled = false, mfa_secret = $2, totp_last_step = 0, updated_at = $3 WHERE id = $1`,
			id, secret, at); err != nil {
			return err
		}
		return deleteCodes(ctx, tx, id)
	})
}

// EnableMFA implements credential.Store.
func (s *Store) EnableMFA(ctx context.Context, id string, codes []credential.BackupCode, step int64, at time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET mfa_enabled = true, totp_last_step = $2, updated_at = $3 WHERE id = $1 AND mfa_secret IS NOT NULL`,
			id, step, at)
		if err != nil {
			return unavailable(err)
		}
		if tag.RowsAffected() == 0 {
			if err := accountExists(ctx, tx, id); err != nil {
				return err
			}
			return fmt.Errorf("%w: no secret enrolled", credential.ErrInvalidInput)
		}
		if err := deleteCodes(ctx, tx, id); err != nil {
			return err
		}
		return insertCodes(ctx, tx, id, codes)
	})
}

// DisableMFA implements credential.Store.
func (s *Store) DisableMFA(ctx context.Context, id string, at time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := execAccount(ctx, tx,
			`UPDATE accounts SET mfa_enabled = false, mfa_secret = NULL, totp_last_step = 0, updated_at = $2 WHERE id = $1`,
			id, at); err != nil {
			return err
		}
		return deleteCodes(ctx, tx, id)
	})
}

// ReplaceBackupCodes implements credential.Store.
func (s *Store) ReplaceBackupCodes(ctx context.Context, id string, codes []credential.BackupCode, at time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := execAccount(ctx, tx, `UPDATE accounts SET updated_at = $2 WHERE id = $1`, id, at); err != nil {
			return err
		}
		if err := deleteCodes(ctx, tx, id); err != nil {
			return err
		}
		return insertCodes(ctx, tx, id, codes)
	})
}

// ConsumeBackupCode implements credential.Store. The update and the count
// run in one statement; the count sees the pre-update snapshot, so the
// consumed code is subtracted.
func (s *Store) ConsumeBackupCode(ctx context.Context, id, hash string, at time.Time) (bool, int, error) {
	var consumed, unused int
	err := s.db.QueryRow(ctx, `
		WITH hit AS (
			UPDATE account_backup_codes SET used_at = $3
			WHERE account_id = $1 AND hash = $2 AND used_at IS NULL
			RETURNING 1
		)
		SELECT (SELECT count(*) FROM hit),
			(SELECT count(*) FROM account_backup_codes WHERE account_id = $1 AND used_at IS NULL)`,
		id, hash, at).Scan(&consumed, &unused)
	if err != nil {
		return false, 0, unavailable(err)
	}
	return consumed > 0, unused - consumed, nil
}

// AdvanceTOTPStep implements credential.Store.
func (s *Store) AdvanceTOTPStep(ctx context.Context, id string, step int64) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET totp_last_step = $2 WHERE id = $1 AND totp_last_step < $2`, id, step)
	if err != nil {
		return false, unavailable(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if err := accountExists(ctx, s.db, id); err != nil {
		return false, err
	}
	return false, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// execAccount runs an update that must touch exactly one account row.
func execAccount(ctx context.Context, db execer, sql string, args ...any) error {
	tag, err := db.Exec(ctx, sql, args...)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return credential.ErrNotFound
	}
	return nil
}

func accountExists(ctx context.Context, db querier, id string) error {
	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return unavailable(err)
	}
	if !exists {
		return credential.ErrNotFound
	}
	return nil
}

func deleteCodes(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM account_backup_codes WHERE account_id = $1`, id); err != nil {
		return unavailable(err)
	}
	return nil
}

// insertCodes writes codes in one statement, keeping their order.
func insertCodes(ctx context.Context, tx pgx.Tx, id string, codes []credential.BackupCode) error {
	if len(codes) == 0 {
		return nil
	}
	hashes := make([]string, len(codes))
	usedAt := make([]*time.Time, len(codes))
	for i, c := range codes {
		hashes[i] = c.Hash
		usedAt[i] = c.UsedAt
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO account_backup_codes (account_id, position, hash, used_at)
		SELECT $1, t.ord, t.hash, t.used_at
		FROM unnest($2::text[], $3::timestamptz[]) WITH ORDINALITY AS t(hash, used_at, ord)`,
		id, hashes, usedAt)
	if err != nil {
		return unavailable(err)
	}
	return nil
}
