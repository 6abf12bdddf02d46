package refresh

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores for unknown ids.
	ErrNotFound = errors.New("refresh: not found")
	// ErrNotActive is returned by Store.RotateToken when the predecessor was
	// no longer active and unexpired at write time. Nothing was written.
	ErrNotActive = errors.New("refresh: token not active")
	// ErrDuplicate is returned when inserting an id that already exists.
	ErrDuplicate = errors.New("refresh: duplicate token")
)

// Store persists refresh tokens.
//
// Revocation methods are idempotent: tokens that are already revoked keep
// their original metadata and are not counted.
type Store interface {
	InsertToken(ctx context.Context, t *Token) error
	TokenByID(ctx context.Context, id string) (*Token, error)
	// RotateToken revokes oldID with reason rotation and inserts next, as
	// one conditional write guarded by oldID being active and unexpired at
	// now. It returns ErrNotActive, having written nothing, otherwise.
	RotateToken(ctx context.Context, oldID string, next *Token, now time.Time) error
	RevokeToken(ctx context.Context, id string, rev Revocation) (bool, error)
	RevokeFamily(ctx context.Context, family string, rev Revocation) (int, error)
	RevokeAccount(ctx context.Context, accountID string, rev Revocation) (int, error)
	RevokeDevice(ctx context.Context, accountID, deviceID string, rev Revocation) (int, error)
	// TokensByAccount returns every stored token of the account, revoked
	// ones included.
	TokensByAccount(ctx context.Context, accountID string) ([]Token, error)
	// DeleteExpired physically removes up to limit tokens that expired
	// before the given time.
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// PendingStore persists pending second-factor sessions.
type PendingStore interface {
	SavePending(ctx context.Context, p *PendingSession) error
	PendingByID(ctx context.Context, id string) (*PendingSession, error)
	// RecordPendingFailure counts a failed code and deletes the record once
	// attempts reach maxAttempts. It returns the new attempt count.
	RecordPendingFailure(ctx context.Context, id string, maxAttempts int) (int, error)
	// ConsumePending deletes the record and reports whether this call was
	// the one that removed it.
	ConsumePending(ctx context.Context, id string) (bool, error)
}
