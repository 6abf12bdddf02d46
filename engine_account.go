package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/session"
)

// Register creates an account. The handle and email must be unused, the
// password must pass the strength policy and any requested roles must be
// registered.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	if err := e.rate.AllowRegistration(ctx, ClientIPFromContext(ctx)); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricRegisterRateLimited)
			return nil, ErrRateLimited
		}
		e.logger.WarnContext(ctx, "authcore: registration throttle unavailable", "error", err)
	}

	if err := e.roles.Validate(req.Roles); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	a, err := e.credentials.Register(ctx, credential.RegisterInput{
		Handle:   req.Handle,
		Email:    req.Email,
		Password: req.Password,
		Roles:    req.Roles,
	}, e.now())
	if err != nil {
		if errors.Is(err, credential.ErrDuplicate) {
			e.metricInc(MetricRegisterDuplicate)
		}
		return nil, e.credentialError(ctx, "register", err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, AuditEvent{Type: AuditRegister, AccountID: a.ID, Success: true})
	return accountView(a), nil
}

// GetAccount returns the public view of accountID.
func (e *Engine) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	a, err := e.loadAccount(ctx, "get account", accountID)
	if err != nil {
		return nil, err
	}
	return accountView(a), nil
}

// ChangePassword replaces the password of accountID after checking
// current. Every session of the account is revoked and the owner is
// notified.
func (e *Engine) ChangePassword(ctx context.Context, accountID, current, next string) error {
	if err := e.ready(); err != nil {
		return err
	}

	if err := e.credentials.ChangePassword(ctx, accountID, current, next, e.now()); err != nil {
		switch {
		case errors.Is(err, credential.ErrPasswordReused):
			e.metricInc(MetricPasswordReuseRejected)
		case errors.Is(err, credential.ErrInvalidCredentials), errors.Is(err, credential.ErrLocked):
			e.metricInc(MetricPasswordChangeFailure)
		}
		return e.credentialError(ctx, "change password", err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, AuditEvent{Type: AuditPasswordChanged, AccountID: accountID, Success: true})
	e.notifyAccount(ctx, NotifyPasswordChanged, accountID, session.Device{})
	return nil
}

// SetAccountStatus moves accountID to status. Any status other than active
// revokes every session. actor is recorded on the revoked tokens.
func (e *Engine) SetAccountStatus(ctx context.Context, accountID string, status AccountStatus, actor string) error {
	if err := e.ready(); err != nil {
		return err
	}

	if err := e.credentials.SetStatus(ctx, accountID, status, actor, e.now()); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return fmt.Errorf("%w: unknown account", ErrInvalidInput)
		}
		return e.credentialError(ctx, "set account status", err)
	}

	e.metricInc(MetricAccountStatusChanged)
	e.emitAudit(ctx, AuditEvent{
		Type:      AuditStatusChanged,
		AccountID: accountID,
		Success:   true,
		Metadata:  map[string]string{"status": status.String(), "actor": actor},
	})
	return nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
