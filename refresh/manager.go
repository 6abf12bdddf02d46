package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore/internal"
)

var (
	// ErrTokenInvalid covers malformed, unknown and otherwise unusable tokens.
	ErrTokenInvalid = errors.New("refresh: token invalid")
	// ErrTokenExpired is returned for active tokens past their expiry.
	ErrTokenExpired = errors.New("refresh: token expired")
	// ErrTokenReused is returned when a revoked token is presented for
	// rotation. By then its family has been revoked.
	ErrTokenReused = errors.New("refresh: token reused")
)

const (
	defaultTTL           = 7 * 24 * time.Hour
	defaultRememberMeTTL = 30 * 24 * time.Hour
	defaultSweepBatch    = 1000
)

// Config holds token lifetimes.
type Config struct {
	TTL           time.Duration `yaml:"ttl"`
	RememberMeTTL time.Duration `yaml:"remember_me_ttl"`
	SweepBatch    int           `yaml:"sweep_batch"`
}

// DefaultConfig returns 7 day tokens, 30 days with remember-me.
func DefaultConfig() Config {
	return Config{TTL: defaultTTL, RememberMeTTL: defaultRememberMeTTL, SweepBatch: defaultSweepBatch}
}

// Validate checks the lifetimes.
func (c Config) Validate() error {
	if c.TTL <= 0 {
		return errors.New("refresh ttl must be > 0")
	}
	if c.RememberMeTTL < c.TTL {
		return errors.New("refresh remember-me ttl must be >= ttl")
	}
	return nil
}

// ReuseError reports a detected replay. It matches ErrTokenReused.
type ReuseError struct {
	AccountID string
	Family    string
	// Revoked is how many still-active tokens the family revocation hit.
	Revoked int
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("refresh: token reused in family %s", e.Family)
}

func (e *ReuseError) Unwrap() error {
	return ErrTokenReused
}

// Manager implements issuance, rotation with reuse detection, and
// revocation on top of a Store.
type Manager struct {
	store Store
	cfg   Config
}

// NewManager returns a Manager on store. Zero config fields take defaults.
func NewManager(store Store, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.RememberMeTTL <= 0 {
		cfg.RememberMeTTL = defaultRememberMeTTL
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = defaultSweepBatch
	}
	return &Manager{store: store, cfg: cfg}
}

// TTL returns the lifetime applied to tokens with the given remember-me flag.
func (m *Manager) TTL(rememberMe bool) time.Duration {
	if rememberMe {
		return m.cfg.RememberMeTTL
	}
	return m.cfg.TTL
}

// Issue starts a new family for accountID on device.
func (m *Manager) Issue(ctx context.Context, accountID string, device Device, rememberMe bool, now time.Time) (*Issued, error) {
	issued, err := m.mint(accountID, device, rememberMe, now)
	if err != nil {
		return nil, err
	}
	issued.Token.Family = uuid.NewString()

	if err := m.store.InsertToken(ctx, &issued.Token); err != nil {
		return nil, fmt.Errorf("refresh: insert: %w", err)
	}
	return issued, nil
}

// Rotate exchanges value for its successor in the same family.
//
// Unknown or malformed values fail with ErrTokenInvalid, active but expired
// ones with ErrTokenExpired. A revoked value revokes its whole family and
// fails with a *ReuseError. The loser of two concurrent rotations of the
// same value takes the reuse path too.
func (m *Manager) Rotate(ctx context.Context, value string, now time.Time) (*Issued, error) {
	old, err := m.lookup(ctx, value)
	if err != nil {
		return nil, err
	}
	if !old.Active {
		return nil, m.reuse(ctx, old, now)
	}
	if !old.ExpiresAt.After(now) {
		return nil, ErrTokenExpired
	}

	next, err := m.mint(old.AccountID, old.Device, old.RememberMe, now)
	if err != nil {
		return nil, err
	}
	next.Token.Family = old.Family
	next.Token.Parent = old.ID

	err = m.store.RotateToken(ctx, old.ID, &next.Token, now)
	if errors.Is(err, ErrNotActive) {
		current, getErr := m.store.TokenByID(ctx, old.ID)
		if getErr != nil {
			return nil, ErrTokenInvalid
		}
		if !current.Active {
			return nil, m.reuse(ctx, current, now)
		}
		return nil, ErrTokenExpired
	}
	if errors.Is(err, ErrNotFound) {
		// evicted between lookup and swap
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("refresh: rotate: %w", err)
	}

	return next, nil
}

// Lookup returns the stored token for value. A well-formed value with no
// stored token fails with an error matching both ErrTokenInvalid and
// ErrNotFound.
func (m *Manager) Lookup(ctx context.Context, value string) (*Token, error) {
	return m.lookup(ctx, value)
}

// Revoke revokes the single token behind value. Revoking a revoked token
// succeeds without changes.
func (m *Manager) Revoke(ctx context.Context, value, reason, actor string, now time.Time) (*Token, error) {
	t, err := m.lookup(ctx, value)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.RevokeToken(ctx, t.ID, Revocation{Reason: reason, Actor: actor, At: now}); err != nil {
		return nil, fmt.Errorf("refresh: revoke: %w", err)
	}
	return t, nil
}

// RevokeFamilyOf revokes every token in the family of value and returns the
// presented token.
func (m *Manager) RevokeFamilyOf(ctx context.Context, value, reason, actor string, now time.Time) (*Token, int, error) {
	t, err := m.lookup(ctx, value)
	if err != nil {
		return nil, 0, err
	}
	n, err := m.RevokeFamily(ctx, t.Family, reason, actor, now)
	return t, n, err
}

// RevokeFamily revokes every token of family regardless of its state.
func (m *Manager) RevokeFamily(ctx context.Context, family, reason, actor string, now time.Time) (int, error) {
	n, err := m.store.RevokeFamily(ctx, family, Revocation{Reason: reason, Actor: actor, At: now})
	if err != nil {
		return 0, fmt.Errorf("refresh: revoke family: %w", err)
	}
	return n, nil
}

// RevokeAllForAccount revokes every token of accountID.
func (m *Manager) RevokeAllForAccount(ctx context.Context, accountID, reason, actor string, now time.Time) (int, error) {
	n, err := m.store.RevokeAccount(ctx, accountID, Revocation{Reason: reason, Actor: actor, At: now})
	if err != nil {
		return 0, fmt.Errorf("refresh: revoke account: %w", err)
	}
	return n, nil
}

// RevokeAllForDevice revokes every token of accountID issued to deviceID.
func (m *Manager) RevokeAllForDevice(ctx context.Context, accountID, deviceID, reason, actor string, now time.Time) (int, error) {
	n, err := m.store.RevokeDevice(ctx, accountID, deviceID, Revocation{Reason: reason, Actor: actor, At: now})
	if err != nil {
		return 0, fmt.Errorf("refresh: revoke device: %w", err)
	}
	return n, nil
}

// Sweep deletes tokens that expired before now, one batch per call.
// Correctness never depends on it since expiry is checked at use time.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int, error) {
	n, err := m.store.DeleteExpired(ctx, now, m.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("refresh: sweep: %w", err)
	}
	return n, nil
}

func (m *Manager) lookup(ctx context.Context, value string) (*Token, error) {
	id, ok := internal.LookupKey(value)
	if !ok {
		return nil, ErrTokenInvalid
	}

	t, err := m.store.TokenByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("refresh: lookup: %w", err)
	}
	return t, nil
}

func (m *Manager) reuse(ctx context.Context, t *Token, now time.Time) error {
	n, err := m.RevokeFamily(ctx, t.Family, ReasonReuseDetected, ActorSystem, now)
	if err != nil {
		return err
	}
	return &ReuseError{AccountID: t.AccountID, Family: t.Family, Revoked: n}
}

func (m *Manager) mint(accountID string, device Device, rememberMe bool, now time.Time) (*Issued, error) {
	value, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	id, _ := internal.LookupKey(value)

	return &Issued{
		Value: value,
		Token: Token{
			ID:         id,
			AccountID:  accountID,
			Device:     device,
			Active:     true,
			RememberMe: rememberMe,
			CreatedAt:  now,
			ExpiresAt:  now.Add(m.TTL(rememberMe)),
			LastUsedAt: now,
		},
	}, nil
}
