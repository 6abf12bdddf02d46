package authcore

import (
	"context"
	"io"
	"log/slog"

	"github.com/MrEthical07/authcore/internal/audit"
)

// AuditEvent is one security event emitted by the engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from a single background goroutine.
type AuditSink = audit.Sink

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc = audit.SinkFunc

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers events on a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes events as JSON lines.
type JSONWriterSink = audit.JSONWriterSink

// LogSink writes events to a structured logger.
type LogSink = audit.LogSink

// Audit event types.
const (
	AuditRegister            = "register"
	AuditLoginSuccess        = "login_success"
	AuditLoginFailure        = "login_failure"
	AuditLoginLocked         = "login_locked"
	AuditSecondFactorSuccess = "second_factor_success"
	AuditSecondFactorFailure = "second_factor_failure"
	AuditBackupCodeUsed      = "backup_code_used"
	AuditRefresh             = "refresh"
	AuditTokenReuseDetected  = "token_reuse_detected"
	AuditLogout              = "logout"
	AuditLogoutAll           = "logout_all"
	AuditLogoutDevice        = "logout_device"
	AuditPasswordChanged     = "password_changed"
	AuditMFAEnrolled         = "mfa_enrolled"
	AuditMFAEnabled          = "mfa_enabled"
	AuditMFADisabled         = "mfa_disabled"
	AuditBackupCodesRenewed  = "backup_codes_regenerated"
	AuditStatusChanged       = "account_status_changed"
	AuditNewDeviceLogin      = "new_device_login"
)

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewLogSink returns a sink writing to logger.
func NewLogSink(logger *slog.Logger) LogSink {
	return audit.LogSink{Logger: logger}
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	event.Timestamp = e.now()
	if event.IP == "" {
		event.IP = ClientIPFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}
