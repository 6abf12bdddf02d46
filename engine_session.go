package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/session"
)

// Logout revokes every token in the family of refreshToken, ending that
// device session. Logging out an already revoked, expired or no longer
// stored token succeeds. Only a malformed value fails.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	t, err := e.refresh.Lookup(ctx, refreshToken)
	if errors.Is(err, refresh.ErrNotFound) {
		return nil
	}
	if errors.Is(err, refresh.ErrTokenInvalid) {
		return ErrTokenInvalid
	}
	if err != nil {
		return e.fault(ctx, "logout: lookup", err)
	}

	if _, err := e.refresh.RevokeFamily(ctx, t.Family, refresh.ReasonLogout, t.AccountID, e.now()); err != nil {
		return e.fault(ctx, "logout", err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, AuditEvent{Type: AuditLogout, AccountID: t.AccountID, DeviceID: t.Device.ID, Family: t.Family, Success: true})
	return nil
}

// LogoutAllDevices revokes every refresh token of accountID.
func (e *Engine) LogoutAllDevices(ctx context.Context, accountID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if accountID == "" {
		return ErrInvalidInput
	}

	n, err := e.refresh.RevokeAllForAccount(ctx, accountID, refresh.ReasonLogoutAll, accountID, e.now())
	if err != nil {
		return e.fault(ctx, "logout all", err)
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, AuditEvent{
		Type:      AuditLogoutAll,
		AccountID: accountID,
		Success:   true,
		Metadata:  map[string]string{"revoked": itoa(n)},
	})
	return nil
}

// LogoutDevice revokes every refresh token of accountID bound to deviceID.
// Unknown devices are not an error.
func (e *Engine) LogoutDevice(ctx context.Context, accountID, deviceID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if accountID == "" || deviceID == "" {
		return ErrInvalidInput
	}

	n, err := e.refresh.RevokeAllForDevice(ctx, accountID, deviceID, refresh.ReasonLogoutDevice, accountID, e.now())
	if err != nil {
		return e.fault(ctx, "logout device", err)
	}
	e.metricInc(MetricLogoutDevice)
	e.emitAudit(ctx, AuditEvent{
		Type:      AuditLogoutDevice,
		AccountID: accountID,
		DeviceID:  deviceID,
		Success:   true,
		Metadata:  map[string]string{"revoked": itoa(n)},
	})
	return nil
}

// ListSessions returns the live device sessions of accountID. When
// currentRefreshToken belongs to the account, its device is flagged
// Current.
func (e *Engine) ListSessions(ctx context.Context, accountID, currentRefreshToken string) ([]session.Info, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if accountID == "" {
		return nil, ErrInvalidInput
	}

	var currentFamily string
	if currentRefreshToken != "" {
		t, err := e.refresh.Lookup(ctx, currentRefreshToken)
		switch {
		case err == nil && t.AccountID == accountID:
			currentFamily = t.Family
		case err != nil && !errors.Is(err, refresh.ErrTokenInvalid):
			return nil, e.fault(ctx, "list sessions: lookup", err)
		}
	}

	infos, err := e.sessions.List(ctx, accountID, currentFamily, e.now())
	if err != nil {
		return nil, e.fault(ctx, "list sessions", err)
	}
	return infos, nil
}

// SweepExpired deletes one batch of expired refresh tokens and returns how
// many were removed. Expiry is enforced at use time, so calling it is only
// about reclaiming space.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.refresh.Sweep(ctx, e.now())
	if err != nil {
		return 0, e.fault(ctx, "sweep", err)
	}
	return n, nil
}
