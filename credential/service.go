package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/ids"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/refresh"
)

const defaultHistorySize = 5

var handlePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,31}$`)

// Revoker ends every session of an account.
type Revoker interface {
	RevokeAllForAccount(ctx context.Context, accountID, reason, actor string, now time.Time) (int, error)
}

// Options configures a Service.
type Options struct {
	Policy           password.Policy
	LockoutThreshold int
	LockoutDuration  time.Duration
	HistorySize      int
	InitialStatus    Status
	DefaultRoles     []string
	// Logger receives best-effort failures. Nil means slog.Default().
	Logger           *slog.Logger
}

// Service implements the credential operations over a Store.
type Service struct {
	store   Store
	hasher  *password.Hasher
	revoker Revoker
	guard   *limiters.Guard
	opts    Options
	// dummy is verified against when the identifier is unknown so both
	// outcomes pay for one hash.
	dummy   string
}

// NewService wires a Service. It hashes a throwaway password once to build
// the digest used for unknown identifiers.
func NewService(store Store, hasher *password.Hasher, revoker Revoker, opts Options) (*Service, error) {
	if store == nil || hasher == nil || revoker == nil {
		return nil, errors.New("credential: store, hasher and revoker are required")
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultHistorySize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	seed, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	dummy, err := hasher.Hash(seed)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:   store,
		hasher:  hasher,
		revoker: revoker,
		guard:   limiters.NewGuard(limiters.LockoutConfig{Threshold: opts.LockoutThreshold, Duration: opts.LockoutDuration}),
		opts:    opts,
		dummy:   dummy,
	}, nil
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// RegisterInput is the caller-supplied part of a new account.
type RegisterInput struct {
	Handle   string
	Email    string
	Password string
	Roles    []string
}

// Register validates input and creates the account.
func (s *Service) Register(ctx context.Context, in RegisterInput, now time.Time) (*Account, error) {
	handle := NormalizeIdentifier(in.Handle)
	if !handlePattern.MatchString(handle) {
		return nil, fmt.Errorf("%w: handle must be 3-32 characters of a-z, 0-9, '.', '_' or '-'", ErrInvalidInput)
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := s.opts.Policy.Check(in.Password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	roles := in.Roles
	if len(roles) == 0 {
		roles = s.opts.DefaultRoles
	}

	a := &Account{
		ID:                ids.New(now),
		Handle:            handle,
		Email:             email,
		PasswordHash:      digest,
		PasswordChangedAt: now,
		Roles:             append([]string(nil), roles...),
		Status:            s.opts.InitialStatus,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Authenticate checks identifier and plaintext at now.
//
// Unknown identifiers and wrong passwords both fail with
// ErrInvalidCredentials. A locked account fails with *LockedError before
// the password is looked at. Failures advance the lockout counter, success
// clears it, and only then is the status checked.
func (s *Service) Authenticate(ctx context.Context, identifier, plaintext string, now time.Time) (*Account, error) {
	ident := NormalizeIdentifier(identifier)
	if ident == "" || plaintext == "" {
		_, _ = s.hasher.Verify(plaintext, s.dummy)
		return nil, ErrInvalidCredentials
	}

	a, err := s.store.AccountByIdentifier(ctx, ident)
	if errors.Is(err, ErrNotFound) {
		_, _ = s.hasher.Verify(plaintext, s.dummy)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("credential: lookup: %w", err)
	}

	if err := s.checkPassword(ctx, a, plaintext, now); err != nil {
		return nil, err
	}
	if a.Status != StatusActive {
		return nil, ErrNotActive
	}
	return a, nil
}

// VerifyPassword runs the Authenticate password path against a known
// account id, for operations that re-confirm the password.
func (s *Service) VerifyPassword(ctx context.Context, id, plaintext string, now time.Time) (*Account, error) {
	a, err := s.store.AccountByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkPassword(ctx, a, plaintext, now); err != nil {
		return nil, err
	}
	if a.Status != StatusActive {
		return nil, ErrNotActive
	}
	return a, nil
}

// ChangePassword replaces the password of id after confirming current.
//
// The new password must pass the policy and must not match the current
// digest or any in the history. The previous digest is appended to the
// history, the change time is stamped, and every session of the account
// is revoked.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string, now time.Time) error {
	a, err := s.VerifyPassword(ctx, id, current, now)
	if err != nil {
		return err
	}

	if err := s.opts.Policy.Check(next); err != nil {
		return fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}
	if s.hasher.MatchesAny(next, append([]string{a.PasswordHash}, a.PasswordHistory...)...) {
		return ErrPasswordReused
	}

	digest, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}

	update := PasswordUpdate{
		Hash:      digest,
		History:   appendHistory(a.PasswordHistory, a.PasswordHash, s.opts.HistorySize),
		ChangedAt: now,
	}
	if err := s.store.UpdatePassword(ctx, id, update); err != nil {
		return fmt.Errorf("credential: update password: %w", err)
	}

	if _, err := s.revoker.RevokeAllForAccount(ctx, id, refresh.ReasonPasswordChange, id, now); err != nil {
		return fmt.Errorf("credential: revoke sessions: %w", err)
	}
	return nil
}

// SetStatus moves id to status. Leaving active revokes every session.
func (s *Service) SetStatus(ctx context.Context, id string, status Status, actor string, now time.Time) error {
	if status > StatusInactive {
		return fmt.Errorf("%w: unknown status %d", ErrInvalidInput, status)
	}
	if err := s.store.UpdateStatus(ctx, id, status, now); err != nil {
		return err
	}
	if status == StatusActive {
		return nil
	}
	if _, err := s.revoker.RevokeAllForAccount(ctx, id, refresh.ReasonAccountInactive, actor, now); err != nil {
		return fmt.Errorf("credential: revoke sessions: %w", err)
	}
	return nil
}

// LockState reports whether a is locked at now and for how long.
func (s *Service) LockState(a *Account, now time.Time) (limiters.Phase, time.Duration) {
	state := limiters.LockoutState{FailedAttempts: a.FailedAttempts, LockUntil: a.LockUntil}
	left, _ := s.guard.Locked(state, now)
	return s.guard.Phase(state, now), left
}

func (s *Service) checkPassword(ctx context.Context, a *Account, plaintext string, now time.Time) error {
	state := limiters.LockoutState{FailedAttempts: a.FailedAttempts, LockUntil: a.LockUntil}
	if left, locked := s.guard.Locked(state, now); locked {
		return &LockedError{RetryAfter: left}
	}

	ok, err := s.hasher.Verify(plaintext, a.PasswordHash)
	if err != nil {
		return fmt.Errorf("credential: verify: %w", err)
	}

	if !ok {
		if next, changed := s.guard.Failure(state, now); changed {
			if err := s.store.SaveLockout(ctx, a.ID, next.FailedAttempts, next.LockUntil); err != nil {
				return fmt.Errorf("credential: save lockout: %w", err)
			}
		}
		return ErrInvalidCredentials
	}

	if next, changed := s.guard.Success(state); changed {
		if err := s.store.SaveLockout(ctx, a.ID, next.FailedAttempts, next.LockUntil); err != nil {
			return fmt.Errorf("credential: save lockout: %w", err)
		}
		a.FailedAttempts, a.LockUntil = 0, nil
	}
	s.upgradeHash(ctx, a, plaintext, now)
	return nil
}

// upgradeHash re-hashes a verified plaintext whose digest was produced
// with a weaker work factor. Failures keep the old digest.
func (s *Service) upgradeHash(ctx context.Context, a *Account, plaintext string, now time.Time) {
	stale, err := s.hasher.NeedsUpgrade(a.PasswordHash)
	if err != nil || !stale {
		return
	}
	digest, err := s.hasher.Hash(plaintext)
	if err == nil {
		err = s.store.RehashPassword(ctx, a.ID, a.PasswordHash, digest, now)
	}
	if err != nil {
		s.opts.Logger.WarnContext(ctx, "authcore: password rehash failed", "account_id", a.ID, "error", err)
		return
	}
	a.PasswordHash = digest
}

func appendHistory(history []string, previous string, size int) []string {
	out := make([]string, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, previous)
	if len(out) > size {
		out = out[len(out)-size:]
	}
	return out
}

func normalizeEmail(raw string) (string, error) {
	email := NormalizeIdentifier(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	return email, nil
}
