package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/session"
)

// Engine runs the credential and session operations. It keeps no
// per-account state in memory, so any number of engines may share one
// store. Build it with New().Build(); it is safe for concurrent use.
type Engine struct {
	config Config
	logger *slog.Logger
	clock  func() time.Time

	credentials   *credential.Service
	accounts      credential.Store
	refresh       *refresh.Manager
	pending       *refresh.Pending
	sessions      *session.Registry
	fingerprinter session.Fingerprinter
	jwt           *jwt.Manager
	totp          *mfa.TOTP
	roles         *permission.RoleManager

	rate         *rate.Limiter
	secondFactor *limiters.SecondFactorLimiter

	notifier Notifier
	notifyMu sync.Mutex
	notifyWG sync.WaitGroup
	audit    *audit.Dispatcher
	metrics  *Metrics

	closed atomic.Bool
}

// Close waits for in-flight notifications and flushes the audit buffer.
// Operations called after Close fail with ErrEngineNotReady.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.notifyMu.Lock()
	first := e.closed.CompareAndSwap(false, true)
	e.notifyMu.Unlock()
	if !first {
		return
	}
	e.notifyWG.Wait()
	e.audit.Close()
}

// AuditDropped returns how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) now() time.Time {
	return e.clock()
}

// fault logs an infrastructure failure and hides it behind ErrUnavailable.
func (e *Engine) fault(ctx context.Context, op string, err error) error {
	e.logger.ErrorContext(ctx, "authcore: operation failed", "op", op, "error", err)
	return ErrUnavailable
}

// Login checks the password of req.Identifier.
//
// Accounts without MFA get a token pair. Accounts with MFA get a
// *SecondFactorRequiredError carrying the pending-session handle to pass
// to VerifySecondFactor. Unknown identifiers and wrong passwords both fail
// with ErrInvalidCredentials; locked accounts fail with
// *AccountLockedError even when the password is right.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()

	now := e.now()
	ip := ClientIPFromContext(ctx)

	if err := e.rate.CheckLogin(ctx, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			return nil, ErrRateLimited
		}
		e.logger.WarnContext(ctx, "authcore: login throttle unavailable", "error", err)
	}

	a, err := e.credentials.Authenticate(ctx, req.Identifier, req.Password, now)
	if err != nil {
		return nil, e.loginFailure(ctx, ip, err)
	}

	device := e.fingerprinter.Fingerprint(ctx, metadataFromContext(ctx))

	if a.MFAEnabled {
		handle, ps, err := e.pending.Start(ctx, a.ID, device, req.RememberMe, now)
		if err != nil {
			return nil, e.fault(ctx, "login: start pending session", err)
		}
		e.metricInc(MetricSecondFactorRequired)
		return nil, &SecondFactorRequiredError{Handle: handle, ExpiresAt: ps.ExpiresAt}
	}

	res, err := e.issueSession(ctx, a, device, req.RememberMe, false, now)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditEvent{Type: AuditLoginSuccess, AccountID: a.ID, DeviceID: device.ID, Success: true})
	return res, nil
}

func (e *Engine) loginFailure(ctx context.Context, ip string, err error) error {
	var locked *credential.LockedError
	switch {
	case errors.As(err, &locked):
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, AuditEvent{Type: AuditLoginLocked, Error: ErrAccountLocked.Error()})
		return &AccountLockedError{RetryAfter: locked.RetryAfter}
	case errors.Is(err, credential.ErrInvalidCredentials):
		e.metricInc(MetricLoginFailure)
		if rerr := e.rate.RecordLoginFailure(ctx, ip); rerr != nil {
			e.logger.WarnContext(ctx, "authcore: login throttle unavailable", "error", rerr)
		}
		e.emitAudit(ctx, AuditEvent{Type: AuditLoginFailure, Error: ErrInvalidCredentials.Error()})
		return ErrInvalidCredentials
	case errors.Is(err, credential.ErrNotActive):
		e.metricInc(MetricLoginFailure)
		return ErrAccountNotActive
	}
	return e.fault(ctx, "login", err)
}

// issueSession starts a refresh family for a on device and mints the
// matching access token. trusted marks logins that passed a second factor.
func (e *Engine) issueSession(ctx context.Context, a *credential.Account, device session.Device, rememberMe, trusted bool, now time.Time) (*LoginResult, error) {
	device.Trusted = trusted

	known, err := e.sessions.Known(ctx, a.ID, device.ID)
	if err != nil {
		e.logger.WarnContext(ctx, "authcore: device lookup failed", "account_id", a.ID, "error", err)
		known = true
	}

	issued, err := e.refresh.Issue(ctx, a.ID, device, rememberMe, now)
	if err != nil {
		return nil, e.fault(ctx, "issue refresh token", err)
	}

	access, accessExp, err := e.mintAccess(a, now)
	if err != nil {
		if _, rerr := e.refresh.RevokeFamily(ctx, issued.Token.Family, refresh.ReasonLogout, refresh.ActorSystem, now); rerr != nil {
			e.logger.WarnContext(ctx, "authcore: revoke orphaned family failed", "error", rerr)
		}
		return nil, e.fault(ctx, "sign access token", err)
	}

	if !known {
		e.metricInc(MetricNewDeviceLogin)
		e.emitAudit(ctx, AuditEvent{Type: AuditNewDeviceLogin, AccountID: a.ID, DeviceID: device.ID, Family: issued.Token.Family, Success: true})
		e.notify(ctx, Notification{Kind: NotifyNewDeviceLogin, AccountID: a.ID, Email: a.Email, Device: device})
	}

	return &LoginResult{
		AccountID:        a.ID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     issued.Value,
		RefreshExpiresAt: issued.Token.ExpiresAt,
		DeviceID:         device.ID,
	}, nil
}

func (e *Engine) mintAccess(a *credential.Account, now time.Time) (string, time.Time, error) {
	return e.jwt.CreateAccess(jwt.Subject{
		AccountID:   a.ID,
		Roles:       a.Roles,
		Permissions: e.roles.Resolve(a.Roles),
		PasswordAt:  a.PasswordChangedAt,
	}, now)
}

// Refresh rotates refreshToken and returns the new pair.
//
// A revoked token revokes its whole family; the caller sees ErrTokenInvalid
// and the event is audited as token reuse. An account that is no longer
// active has the family revoked and fails with ErrAccountNotActive.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	now := e.now()

	current, err := e.refresh.Lookup(ctx, refreshToken)
	if err != nil {
		return nil, e.refreshFailure(ctx, err)
	}

	a, err := e.accounts.AccountByID(ctx, current.AccountID)
	if errors.Is(err, credential.ErrNotFound) {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, e.fault(ctx, "refresh: load account", err)
	}
	if a.Status != credential.StatusActive {
		if current.Active {
			if _, err := e.refresh.RevokeFamily(ctx, current.Family, refresh.ReasonAccountInactive, refresh.ActorSystem, now); err != nil {
				return nil, e.fault(ctx, "refresh: revoke inactive family", err)
			}
		}
		e.metricInc(MetricRefreshFailure)
		return nil, ErrAccountNotActive
	}

	issued, err := e.refresh.Rotate(ctx, refreshToken, now)
	if err != nil {
		return nil, e.refreshFailure(ctx, err)
	}

	access, accessExp, err := e.mintAccess(a, now)
	if err != nil {
		return nil, e.fault(ctx, "refresh: sign access token", err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditEvent{Type: AuditRefresh, AccountID: a.ID, DeviceID: issued.Token.Device.ID, Family: issued.Token.Family, Success: true})
	return &LoginResult{
		AccountID:        a.ID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     issued.Value,
		RefreshExpiresAt: issued.Token.ExpiresAt,
		DeviceID:         issued.Token.Device.ID,
	}, nil
}

func (e *Engine) refreshFailure(ctx context.Context, err error) error {
	var reuse *refresh.ReuseError
	switch {
	case errors.As(err, &reuse):
		e.metricInc(MetricRefreshReuseDetected)
		e.emitAudit(ctx, AuditEvent{
			Type:      AuditTokenReuseDetected,
			AccountID: reuse.AccountID,
			Family:    reuse.Family,
			Error:     ErrTokenReused.Error(),
			Metadata:  map[string]string{"revoked": itoa(reuse.Revoked)},
		})
		e.logger.WarnContext(ctx, "authcore: refresh token reuse detected",
			"account_id", reuse.AccountID,
			"family", reuse.Family,
			"revoked", reuse.Revoked,
		)
		e.notifyAccount(ctx, NotifyTokenReuseDetected, reuse.AccountID, session.Device{})
		return ErrTokenInvalid
	case errors.Is(err, refresh.ErrTokenExpired):
		e.metricInc(MetricRefreshFailure)
		return ErrTokenExpired
	case errors.Is(err, refresh.ErrTokenInvalid):
		e.metricInc(MetricRefreshFailure)
		return ErrTokenInvalid
	}
	return e.fault(ctx, "refresh", err)
}

// ValidateAccess verifies an access token and returns its claims. Tokens
// issued before the last password change, or for accounts that are no
// longer active, are rejected.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*AccessResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()

	claims, err := e.jwt.ParseAccess(token, e.now())
	if err != nil {
		e.metricInc(MetricAccessRejected)
		if jwt.IsExpired(err) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	a, err := e.accounts.AccountByID(ctx, claims.AccountID())
	if errors.Is(err, credential.ErrNotFound) {
		e.metricInc(MetricAccessRejected)
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, e.fault(ctx, "validate access: load account", err)
	}
	if a.Status != credential.StatusActive {
		e.metricInc(MetricAccessRejected)
		return nil, ErrAccountNotActive
	}
	if claims.IssuedBefore(a.PasswordChangedAt) {
		e.metricInc(MetricAccessRejected)
		return nil, ErrTokenInvalid
	}

	res := &AccessResult{
		AccountID:   claims.AccountID(),
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		TokenID:     claims.ID,
		IssuedAt:    claims.IssuedAt.Time,
	}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res, nil
}

// credentialError maps credential package errors to the public taxonomy.
func (e *Engine) credentialError(ctx context.Context, op string, err error) error {
	var locked *credential.LockedError
	switch {
	case errors.As(err, &locked):
		return &AccountLockedError{RetryAfter: locked.RetryAfter}
	case errors.Is(err, credential.ErrInvalidCredentials), errors.Is(err, credential.ErrNotFound):
		return ErrInvalidCredentials
	case errors.Is(err, credential.ErrNotActive):
		return ErrAccountNotActive
	case errors.Is(err, credential.ErrPasswordReused):
		return ErrPasswordReused
	case errors.Is(err, credential.ErrWeakPassword):
		return withDetail(ErrWeakPassword, err, credential.ErrWeakPassword)
	case errors.Is(err, credential.ErrInvalidInput):
		return withDetail(ErrInvalidInput, err, credential.ErrInvalidInput)
	case errors.Is(err, credential.ErrDuplicate):
		return ErrAccountExists
	}
	return e.fault(ctx, op, err)
}

// withDetail rewraps err under the public sentinel, keeping the message
// that followed the internal one.
func withDetail(public, err, internal error) error {
	detail := strings.TrimPrefix(err.Error(), internal.Error()+": ")
	if detail == err.Error() {
		return public
	}
	return fmt.Errorf("%w: %s", public, detail)
}

// loadAccount fetches id for operations on an already authenticated
// account.
func (e *Engine) loadAccount(ctx context.Context, op, id string) (*credential.Account, error) {
	a, err := e.accounts.AccountByID(ctx, id)
	if errors.Is(err, credential.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown account", ErrInvalidInput)
	}
	if err != nil {
		return nil, e.fault(ctx, op, err)
	}
	return a, nil
}
