package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/authcore/refresh"
)

var _ refresh.Store = (*Store)(nil)

const tokenColumns = `id, account_id, family, parent, device, active, remember_me,
	created_at, expires_at, last_used_at, use_count, revoked_at, revoked_reason, revoked_by`

func scanToken(row scanner) (refresh.Token, error) {
	var (
		t      refresh.Token
		device []byte
	)
	err := row.Scan(
		&t.ID, &t.AccountID, &t.Family, &t.Parent, &device, &t.Active, &t.RememberMe,
		&t.CreatedAt, &t.ExpiresAt, &t.LastUsedAt, &t.UseCount, &t.RevokedAt, &t.RevokedReason, &t.RevokedBy,
	)
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal(device, &t.Device); err != nil {
		return t, err
	}
	return t, nil
}

func insertToken(ctx context.Context, db execer, t *refresh.Token) error {
	device, err := json.Marshal(t.Device)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO refresh_tokens (id, account_id, family, parent, device, device_id, active, remember_me,
			created_at, expires_at, last_used_at, use_count, revoked_at, revoked_reason, revoked_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.AccountID, t.Family, t.Parent, device, t.Device.ID, t.Active, t.RememberMe,
		t.CreatedAt, t.ExpiresAt, t.LastUsedAt, t.UseCount, t.RevokedAt, t.RevokedReason, t.RevokedBy,
	)
	if isUniqueViolation(err) {
		return refresh.ErrDuplicate
	}
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// InsertToken implements refresh.Store.
func (s *Store) InsertToken(ctx context.Context, t *refresh.Token) error {
	return insertToken(ctx, s.db, t)
}

// TokenByID implements refresh.Store.
func (s *Store) TokenByID(ctx context.Context, id string) (*refresh.Token, error) {
	t, err := scanToken(s.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, refresh.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return &t, nil
}

// RotateToken implements refresh.Store. The predecessor row is locked, so
// of two concurrent rotations of the same token only the first sees it
// active.
func (s *Store) RotateToken(ctx context.Context, oldID string, next *refresh.Token, now time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var (
			active    bool
			expiresAt time.Time
			accountID string
		)
		err := tx.QueryRow(ctx,
			`SELECT active, expires_at, account_id FROM refresh_tokens WHERE id = $1 FOR UPDATE`, oldID,
		).Scan(&active, &expiresAt, &accountID)
		if errors.Is(err, pgx.ErrNoRows) {
			return refresh.ErrNotFound
		}
		if err != nil {
			return unavailable(err)
		}
		if !active || !expiresAt.After(now) {
			return refresh.ErrNotActive
		}

		_, err = tx.Exec(ctx, `
			UPDATE refresh_tokens SET active = false, revoked_at = $2, revoked_reason = $3, revoked_by = $4,
				last_used_at = $2, use_count = use_count + 1
			WHERE id = $1`,
			oldID, now, refresh.ReasonRotation, accountID)
		if err != nil {
			return unavailable(err)
		}
		return insertToken(ctx, tx, next)
	})
}

// RevokeToken implements refresh.Store.
func (s *Store) RevokeToken(ctx context.Context, id string, rev refresh.Revocation) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE refresh_tokens SET active = false, revoked_at = $2, revoked_reason = $3, revoked_by = $4
		WHERE id = $1 AND active`,
		id, rev.At, rev.Reason, rev.Actor)
	if err != nil {
		return false, unavailable(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, unavailable(err)
	}
	if !exists {
		return false, refresh.ErrNotFound
	}
	return false, nil
}

// RevokeFamily implements refresh.Store.
func (s *Store) RevokeFamily(ctx context.Context, family string, rev refresh.Revocation) (int, error) {
	return s.revokeWhere(ctx, `family = $1`, rev, family)
}

// RevokeAccount implements refresh.Store.
func (s *Store) RevokeAccount(ctx context.Context, accountID string, rev refresh.Revocation) (int, error) {
	return s.revokeWhere(ctx, `account_id = $1`, rev, accountID)
}

// RevokeDevice implements refresh.Store.
func (s *Store) RevokeDevice(ctx context.Context, accountID, deviceID string, rev refresh.Revocation) (int, error) {
	if deviceID == "" {
		return 0, nil
	}
	return s.revokeWhere(ctx, `account_id = $1 AND device_id = $5`, rev, accountID, deviceID)
}

// revokeWhere revokes every active token matching cond. cond binds $1 and
// optionally $5; $2 to $4 carry the revocation.
func (s *Store) revokeWhere(ctx context.Context, cond string, rev refresh.Revocation, key string, extra ...any) (int, error) {
	args := append([]any{key, rev.At, rev.Reason, rev.Actor}, extra...)
	tag, err := s.db.Exec(ctx, `
		UPDATE refresh_tokens SET active = false, revoked_at = $2, revoked_reason = $3, revoked_by = $4
		WHERE active AND `+cond, args...)
	if err != nil {
		return 0, unavailable(err)
	}
	return int(tag.RowsAffected()), nil
}

// TokensByAccount implements refresh.Store.
func (s *Store) TokensByAccount(ctx context.Context, accountID string) ([]refresh.Token, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens WHERE account_id = $1 ORDER BY created_at`, accountID)
	if err != nil {
		return nil, unavailable(err)
	}
	tokens, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (refresh.Token, error) {
		return scanToken(row)
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return tokens, nil
}

// DeleteExpired implements refresh.Store.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE id IN (
			SELECT id FROM refresh_tokens WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2
		)`, before, limit)
	if err != nil {
		return 0, unavailable(err)
	}
	return int(tag.RowsAffected()), nil
}
