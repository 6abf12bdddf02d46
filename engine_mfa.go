package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/refresh"
)

const (
	methodTOTP   = "totp"
	methodBackup = "backup_code"
)

// VerifySecondFactor completes a login started by Login for an MFA
// account. code is a TOTP code or an unused backup code. Each pending
// handle completes at most once and dies after its attempt budget.
func (e *Engine) VerifySecondFactor(ctx context.Context, handle, code string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	now := e.now()

	ps, err := e.pending.Get(ctx, handle, now)
	if errors.Is(err, refresh.ErrPendingInvalid) {
		e.metricInc(MetricSecondFactorFailure)
		return nil, ErrInvalidSecondFactor
	}
	if err != nil {
		return nil, e.fault(ctx, "verify second factor: load pending", err)
	}

	if err := e.checkSecondFactorBudget(ctx, ps.AccountID); err != nil {
		return nil, err
	}

	a, err := e.accounts.AccountByID(ctx, ps.AccountID)
	if err != nil && !errors.Is(err, credential.ErrNotFound) {
		return nil, e.fault(ctx, "verify second factor: load account", err)
	}
	if err != nil || !a.MFAEnabled {
		_ = e.pending.Consume(ctx, ps)
		return nil, ErrInvalidSecondFactor
	}
	if a.Status != credential.StatusActive {
		_ = e.pending.Consume(ctx, ps)
		return nil, ErrAccountNotActive
	}

	method, remaining, err := e.checkSecondFactor(ctx, a, code, true, now)
	if errors.Is(err, ErrInvalidSecondFactor) {
		e.secondFactorFailed(ctx, a.ID)
		if _, ferr := e.pending.Fail(ctx, ps); ferr != nil {
			e.logger.WarnContext(ctx, "authcore: pending failure not recorded", "error", ferr)
		}
		return nil, ErrInvalidSecondFactor
	}
	if err != nil {
		return nil, err
	}

	if err := e.pending.Consume(ctx, ps); err != nil {
		if errors.Is(err, refresh.ErrPendingInvalid) {
			return nil, ErrInvalidSecondFactor
		}
		return nil, e.fault(ctx, "verify second factor: consume pending", err)
	}
	e.secondFactorPassed(ctx, a.ID)

	res, err := e.issueSession(ctx, a, ps.Device, ps.RememberMe, true, now)
	if err != nil {
		return nil, err
	}
	if method == methodBackup {
		res.BackupCodesRemaining = remaining
		res.BackupCodesLow = remaining < mfa.LowBackupCodes
	}

	e.metricInc(MetricSecondFactorSuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditEvent{
		Type:      AuditSecondFactorSuccess,
		AccountID: a.ID,
		DeviceID:  ps.Device.ID,
		Success:   true,
		Metadata:  map[string]string{"method": method},
	})
	return res, nil
}

// EnrollMFA generates a new TOTP secret for accountID. MFA stays off until
// ConfirmMFAEnrollment accepts a code from it; enrolling again before that
// replaces the secret.
func (e *Engine) EnrollMFA(ctx context.Context, accountID string) (*MFAEnrollment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	a, err := e.loadAccount(ctx, "enroll mfa", accountID)
	if err != nil {
		return nil, err
	}
	if a.Status != credential.StatusActive {
		return nil, ErrAccountNotActive
	}
	if a.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	raw, encoded, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, e.fault(ctx, "enroll mfa: generate secret", err)
	}
	if err := e.accounts.SetMFASecret(ctx, a.ID, raw, e.now()); err != nil {
		return nil, e.fault(ctx, "enroll mfa: store secret", err)
	}

	label := a.Email
	if label == "" {
		label = a.Handle
	}
	e.emitAudit(ctx, AuditEvent{Type: AuditMFAEnrolled, AccountID: a.ID, Success: true})
	return &MFAEnrollment{Secret: encoded, URI: e.totp.ProvisionURI(encoded, label)}, nil
}

// ConfirmMFAEnrollment activates MFA once code matches the enrolled secret
// and returns the backup codes. They are shown once and only their digests
// are stored.
func (e *Engine) ConfirmMFAEnrollment(ctx context.Context, accountID, code string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	now := e.now()

	a, err := e.loadAccount(ctx, "confirm mfa", accountID)
	if err != nil {
		return nil, err
	}
	if a.Status != credential.StatusActive {
		return nil, ErrAccountNotActive
	}
	if a.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}
	if len(a.MFASecret) == 0 {
		return nil, ErrMFANotEnrolled
	}
	if err := e.checkSecondFactorBudget(ctx, a.ID); err != nil {
		return nil, err
	}

	ok, step, err := e.totp.Verify(a.MFASecret, code, now)
	if err != nil {
		return nil, e.fault(ctx, "confirm mfa: verify", err)
	}
	if !ok {
		e.secondFactorFailed(ctx, a.ID)
		return nil, ErrInvalidSecondFactor
	}

	set, err := mfa.GenerateBackupCodes(a.ID, e.config.BackupCodes)
	if err != nil {
		return nil, e.fault(ctx, "confirm mfa: backup codes", err)
	}
	if err := e.accounts.EnableMFA(ctx, a.ID, backupRecords(set.Digests), step, now); err != nil {
		if errors.Is(err, credential.ErrInvalidInput) {
			return nil, ErrMFANotEnrolled
		}
		return nil, e.fault(ctx, "confirm mfa: enable", err)
	}
	e.secondFactorPassed(ctx, a.ID)

	e.metricInc(MetricMFAEnabled)
	e.emitAudit(ctx, AuditEvent{Type: AuditMFAEnabled, AccountID: a.ID, Success: true})
	return set.Codes, nil
}

// DisableMFA turns MFA off. It needs both the current password and a valid
// second factor; either alone is refused.
func (e *Engine) DisableMFA(ctx context.Context, accountID, password, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	now := e.now()

	a, err := e.credentials.VerifyPassword(ctx, accountID, password, now)
	if err != nil {
		return e.credentialError(ctx, "disable mfa: verify password", err)
	}
	if !a.MFAEnabled {
		return ErrMFANotEnrolled
	}
	if err := e.checkSecondFactorBudget(ctx, a.ID); err != nil {
		return err
	}

	if _, _, err := e.checkSecondFactor(ctx, a, code, true, now); err != nil {
		if errors.Is(err, ErrInvalidSecondFactor) {
			e.secondFactorFailed(ctx, a.ID)
		}
		return err
	}
	if err := e.accounts.DisableMFA(ctx, a.ID, now); err != nil {
		return e.fault(ctx, "disable mfa", err)
	}
	e.secondFactorPassed(ctx, a.ID)

	e.metricInc(MetricMFADisabled)
	e.emitAudit(ctx, AuditEvent{Type: AuditMFADisabled, AccountID: a.ID, Success: true})
	return nil
}

// RegenerateBackupCodes replaces every backup code of accountID. It takes
// a TOTP code, not a backup code, so a leaked batch cannot renew itself.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, totpCode string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	now := e.now()

	a, err := e.loadAccount(ctx, "regenerate backup codes", accountID)
	if err != nil {
		return nil, err
	}
	if a.Status != credential.StatusActive {
		return nil, ErrAccountNotActive
	}
	if !a.MFAEnabled {
		return nil, ErrMFANotEnrolled
	}
	if err := e.checkSecondFactorBudget(ctx, a.ID); err != nil {
		return nil, err
	}

	if _, _, err := e.checkSecondFactor(ctx, a, totpCode, false, now); err != nil {
		if errors.Is(err, ErrInvalidSecondFactor) {
			e.secondFactorFailed(ctx, a.ID)
		}
		return nil, err
	}

	set, err := mfa.GenerateBackupCodes(a.ID, e.config.BackupCodes)
	if err != nil {
		return nil, e.fault(ctx, "regenerate backup codes: generate", err)
	}
	if err := e.accounts.ReplaceBackupCodes(ctx, a.ID, backupRecords(set.Digests), now); err != nil {
		return nil, e.fault(ctx, "regenerate backup codes: store", err)
	}
	e.secondFactorPassed(ctx, a.ID)

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, AuditEvent{Type: AuditBackupCodesRenewed, AccountID: a.ID, Success: true})
	return set.Codes, nil
}

// checkSecondFactor accepts a TOTP code once per step, or, when
// allowBackup is set, consumes a matching backup code. It returns the
// method used and, for backup codes, how many remain. Mismatches fail with
// ErrInvalidSecondFactor.
func (e *Engine) checkSecondFactor(ctx context.Context, a *credential.Account, code string, allowBackup bool, now time.Time) (string, int, error) {
	code = strings.TrimSpace(code)

	switch {
	case mfa.LooksLikeTOTP(code, e.config.TOTP.Digits):
		ok, step, err := e.totp.Verify(a.MFASecret, code, now)
		if err != nil {
			return "", 0, e.fault(ctx, "verify totp", err)
		}
		if !ok {
			return "", 0, ErrInvalidSecondFactor
		}
		advanced, err := e.accounts.AdvanceTOTPStep(ctx, a.ID, step)
		if err != nil {
			return "", 0, e.fault(ctx, "advance totp step", err)
		}
		if !advanced {
			e.metricInc(MetricTOTPReplay)
			return "", 0, ErrInvalidSecondFactor
		}
		return methodTOTP, 0, nil

	case allowBackup && mfa.LooksLikeBackupCode(code, e.config.BackupCodes.Length):
		consumed, remaining, err := e.accounts.ConsumeBackupCode(ctx, a.ID, mfa.BackupDigest(a.ID, code), now)
		if err != nil {
			return "", 0, e.fault(ctx, "consume backup code", err)
		}
		if !consumed {
			return "", 0, ErrInvalidSecondFactor
		}
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, AuditEvent{
			Type:      AuditBackupCodeUsed,
			AccountID: a.ID,
			Success:   true,
			Metadata:  map[string]string{"remaining": itoa(remaining)},
		})
		return methodBackup, remaining, nil
	}
	return "", 0, ErrInvalidSecondFactor
}

// checkSecondFactorBudget enforces the per-account failure window. An
// unreachable counter is logged and ignored; the pending-session attempt
// cap still applies.
func (e *Engine) checkSecondFactorBudget(ctx context.Context, accountID string) error {
	err := e.secondFactor.Check(ctx, accountID)
	if err == nil {
		return nil
	}
	if errors.Is(err, limiters.ErrSecondFactorRateLimited) {
		e.metricInc(MetricSecondFactorFailure)
		return ErrRateLimited
	}
	e.logger.WarnContext(ctx, "authcore: second factor throttle unavailable", "error", err)
	return nil
}

func (e *Engine) secondFactorFailed(ctx context.Context, accountID string) {
	e.metricInc(MetricSecondFactorFailure)
	e.emitAudit(ctx, AuditEvent{Type: AuditSecondFactorFailure, AccountID: accountID, Error: ErrInvalidSecondFactor.Error()})

	err := e.secondFactor.RecordFailure(ctx, accountID)
	if err != nil && !errors.Is(err, limiters.ErrSecondFactorRateLimited) {
		e.logger.WarnContext(ctx, "authcore: second factor throttle unavailable", "error", err)
	}
}

func (e *Engine) secondFactorPassed(ctx context.Context, accountID string) {
	if err := e.secondFactor.Reset(ctx, accountID); err != nil {
		e.logger.WarnContext(ctx, "authcore: second factor throttle unavailable", "error", err)
	}
}

func backupRecords(digests []string) []credential.BackupCode {
	out := make([]credential.BackupCode, len(digests))
	for i, d := range digests {
		out[i] = credential.BackupCode{Hash: d}
	}
	return out
}
