package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
)

// ErrPendingInvalid covers unknown, expired, exhausted and already consumed
// pending sessions.
var ErrPendingInvalid = errors.New("refresh: pending session invalid")

const (
	defaultPendingTTL         = 5 * time.Minute
	defaultPendingMaxAttempts = 5
)

// PendingConfig bounds pending second-factor sessions.
type PendingConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// DefaultPendingConfig returns a five minute, five attempt window.
func DefaultPendingConfig() PendingConfig {
	return PendingConfig{TTL: defaultPendingTTL, MaxAttempts: defaultPendingMaxAttempts}
}

// PendingSession records a login that passed the password check and waits
// for its second factor.
type PendingSession struct {
	// ID is the lookup key of the opaque handle.
	ID         string
	AccountID  string
	Device     Device
	RememberMe bool
	Attempts   int
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Pending manages pending sessions on a PendingStore.
type Pending struct {
	store PendingStore
	cfg   PendingConfig
}

// NewPending returns a Pending on store. Zero config fields take defaults.
func NewPending(store PendingStore, cfg PendingConfig) *Pending {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultPendingTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultPendingMaxAttempts
	}
	return &Pending{store: store, cfg: cfg}
}

// Start records a pending session and returns its opaque handle.
func (p *Pending) Start(ctx context.Context, accountID string, device Device, rememberMe bool, now time.Time) (string, *PendingSession, error) {
	handle, err := internal.NewOpaqueToken()
	if err != nil {
		return "", nil, err
	}
	id, _ := internal.LookupKey(handle)

	ps := &PendingSession{
		ID:         id,
		AccountID:  accountID,
		Device:     device,
		RememberMe: rememberMe,
		CreatedAt:  now,
		ExpiresAt:  now.Add(p.cfg.TTL),
	}
	if err := p.store.SavePending(ctx, ps); err != nil {
		return "", nil, fmt.Errorf("refresh: save pending: %w", err)
	}
	return handle, ps, nil
}

// Get resolves handle to a live pending session.
func (p *Pending) Get(ctx context.Context, handle string, now time.Time) (*PendingSession, error) {
	id, ok := internal.LookupKey(handle)
	if !ok {
		return nil, ErrPendingInvalid
	}

	ps, err := p.store.PendingByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrPendingInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("refresh: load pending: %w", err)
	}
	if !ps.ExpiresAt.After(now) || ps.Attempts >= p.cfg.MaxAttempts {
		_, _ = p.store.ConsumePending(ctx, id)
		return nil, ErrPendingInvalid
	}
	return ps, nil
}

// Fail counts a failed code against ps. It reports whether the session has
// been discarded because the attempt budget is spent.
func (p *Pending) Fail(ctx context.Context, ps *PendingSession) (bool, error) {
	attempts, err := p.store.RecordPendingFailure(ctx, ps.ID, p.cfg.MaxAttempts)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("refresh: pending failure: %w", err)
	}
	ps.Attempts = attempts
	return attempts >= p.cfg.MaxAttempts, nil
}

// Consume removes ps. Only one caller can consume a given session; the
// others get ErrPendingInvalid.
func (p *Pending) Consume(ctx context.Context, ps *PendingSession) error {
	ok, err := p.store.ConsumePending(ctx, ps.ID)
	if err != nil {
		return fmt.Errorf("refresh: consume pending: %w", err)
	}
	if !ok {
		return ErrPendingInvalid
	}
	return nil
}
