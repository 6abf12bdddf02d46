package authcore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/session"
)

// NotificationKind names a user-facing security notification.
type NotificationKind string

const (
	NotifyPasswordChanged    NotificationKind = "password_changed"
	NotifyNewDeviceLogin     NotificationKind = "new_device_login"
	NotifyTokenReuseDetected NotificationKind = "token_reuse_detected"
)

// Notification is handed to the Notifier. Delivery (email, push) is the
// implementation's concern.
type Notification struct {
	Kind      NotificationKind
	AccountID string
	Email     string
	Device    session.Device
	IP        string
	At        time.Time
}

// Notifier delivers notifications. Calls happen off the request path and
// failures are logged, never surfaced to the caller of the operation.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

const notifyTimeout = 10 * time.Second

// notify dispatches n on its own goroutine. The request context's values
// are kept but not its cancellation.
func (e *Engine) notify(ctx context.Context, n Notification) {
	if e.notifier == nil {
		return
	}
	if n.At.IsZero() {
		n.At = e.now()
	}
	if n.IP == "" {
		n.IP = ClientIPFromContext(ctx)
	}

	// Close flips closed under notifyMu, so no Add can race its Wait.
	e.notifyMu.Lock()
	if e.closed.Load() {
		e.notifyMu.Unlock()
		return
	}
	e.notifyWG.Add(1)
	e.notifyMu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer e.notifyWG.Done()
		nctx, cancel := context.WithTimeout(detached, notifyTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				e.metricInc(MetricNotifyFailure)
				e.logger.ErrorContext(nctx, "authcore: notifier panicked",
					"kind", string(n.Kind),
					"account_id", n.AccountID,
					"panic", r,
				)
			}
		}()

		if err := e.notifier.Notify(nctx, n); err != nil {
			e.metricInc(MetricNotifyFailure)
			e.logger.WarnContext(nctx, "authcore: notification failed",
				"kind", string(n.Kind),
				"account_id", n.AccountID,
				"error", err,
			)
		}
	}()
}

// notifyAccount resolves the account email before notifying. A failed
// lookup still notifies with an empty email.
func (e *Engine) notifyAccount(ctx context.Context, kind NotificationKind, accountID string, device session.Device) {
	if e.notifier == nil {
		return
	}
	n := Notification{Kind: kind, AccountID: accountID, Device: device}
	if a, err := e.accounts.AccountByID(ctx, accountID); err == nil {
		n.Email = a.Email
	}
	e.notify(ctx, n)
}
