package pgstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/authcore/refresh"
)

var _ refresh.PendingStore = (*Store)(nil)

// SavePending implements refresh.PendingStore. Saving an existing id
// overwrites it.
func (s *Store) SavePending(ctx context.Context, p *refresh.PendingSession) error {
	device, err := json.Marshal(p.Device)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO pending_sessions (id, account_id, device, remember_me, attempts, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			device = EXCLUDED.device,
			remember_me = EXCLUDED.remember_me,
			attempts = EXCLUDED.attempts,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`,
		p.ID, p.AccountID, device, p.RememberMe, p.Attempts, p.CreatedAt, p.ExpiresAt)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// PendingByID implements refresh.PendingStore. Expired rows are still
// returned; the caller checks ExpiresAt.
func (s *Store) PendingByID(ctx context.Context, id string) (*refresh.PendingSession, error) {
	var (
		p      refresh.PendingSession
		device []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, account_id, device, remember_me, attempts, created_at, expires_at
		FROM pending_sessions WHERE id = $1`, id,
	).Scan(&p.ID, &p.AccountID, &device, &p.RememberMe, &p.Attempts, &p.CreatedAt, &p.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, refresh.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if err := json.Unmarshal(device, &p.Device); err != nil {
		return nil, err
	}
	return &p, nil
}

// RecordPendingFailure implements refresh.PendingStore.
func (s *Store) RecordPendingFailure(ctx context.Context, id string, maxAttempts int) (int, error) {
	var attempts int
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE pending_sessions SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`, id,
		).Scan(&attempts)
		if errors.Is(err, pgx.ErrNoRows) {
			return refresh.ErrNotFound
		}
		if err != nil {
			return unavailable(err)
		}
		if attempts < maxAttempts {
			return nil
		}
		if _, err := tx.Exec(ctx, `DELETE FROM pending_sessions WHERE id = $1`, id); err != nil {
			return unavailable(err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

// ConsumePending implements refresh.PendingStore.
func (s *Store) ConsumePending(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM pending_sessions WHERE id = $1`, id)
	if err != nil {
		return false, unavailable(err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpiredPending removes pending sessions past their expiry by the
// database clock. Nothing else deletes abandoned handles here.
func (s *Store) DeleteExpiredPending(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM pending_sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, unavailable(err)
	}
	return int(tag.RowsAffected()), nil
}
