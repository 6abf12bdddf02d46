package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "alice")
	ctx := context.Background()

	cases := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{"duplicate handle", RegisterRequest{Handle: "Alice", Email: "other@example.com", Password: testPassword}, ErrAccountExists},
		{"duplicate email", RegisterRequest{Handle: "alice2", Email: "ALICE@example.com", Password: testPassword}, ErrAccountExists},
		{"weak password", RegisterRequest{Handle: "bob", Email: "bob@example.com", Password: "short"}, ErrWeakPassword},
		{"bad handle", RegisterRequest{Handle: "b", Email: "bob@example.com", Password: testPassword}, ErrInvalidInput},
		{"bad email", RegisterRequest{Handle: "bob", Email: "not-an-email", Password: testPassword}, ErrInvalidInput},
		{"unknown role", RegisterRequest{Handle: "bob", Email: "bob@example.com", Password: testPassword, Roles: []string{"root"}}, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.engine.Register(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if got := env.engine.MetricsSnapshot().Counters[MetricRegisterDuplicate]; got != 2 {
		t.Fatalf("expected 2 duplicate registrations, got %d", got)
	}
}

func TestRegisterWithRoles(t *testing.T) {
	env := newTestEnv(t, nil)
	a, err := env.engine.Register(context.Background(), RegisterRequest{
		Handle:   "root.admin",
		Email:    "admin@example.com",
		Password: testPassword,
		Roles:    []string{"admin"},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	res := env.login(t, context.Background(), "root.admin")
	access, err := env.engine.ValidateAccess(context.Background(), res.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if access.AccountID != a.ID || !access.HasPermission("admin.users") {
		t.Fatalf("unexpected access result %+v", access)
	}
}

func TestChangePasswordRevokesSessionsAndNotifies(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.register(t, "alice")
	ctx := context.Background()
	before := env.login(t, ctx, "alice")

	env.clock.Advance(2 * time.Second)
	if err := env.engine.ChangePassword(ctx, a.ID, testPassword, otherPassword); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if _, err := env.engine.Refresh(ctx, before.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("old refresh token must be revoked, got %v", err)
	}
	if _, err := env.engine.ValidateAccess(ctx, before.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access token older than the change must be rejected, got %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must fail, got %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: otherPassword}); err != nil {
		t.Fatalf("new password login failed: %v", err)
	}

	env.flush()
	var changed int
	for _, k := range env.notifier.kinds() {
		if k == NotifyPasswordChanged {
			changed++
		}
	}
	if changed != 1 {
		t.Fatalf("expected one password_changed notification, got %d", changed)
	}
}

func TestChangePasswordWithinSameSecond(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.register(t, "amir")
	ctx := context.Background()
	before := env.login(t, ctx, "amir")

	env.clock.Advance(200 * time.Millisecond)
	if err := env.engine.ChangePassword(ctx, a.ID, testPassword, otherPassword); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, err := env.engine.ValidateAccess(ctx, before.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("token issued earlier in the same second must be rejected, got %v", err)
	}

	env.clock.Advance(100 * time.Millisecond)
	after, err := env.engine.Login(ctx, LoginRequest{Identifier: "amir", Password: otherPassword})
	if err != nil {
		t.Fatalf("login with the new password failed: %v", err)
	}
	if _, err := env.engine.ValidateAccess(ctx, after.AccessToken); err != nil {
		t.Fatalf("token issued after the change must be accepted, got %v", err)
	}
}

func TestChangePasswordRejectsHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.register(t, "alice")
	ctx := context.Background()

	passwords := []string{
		"second-passphrase-01",
		"third-passphrase-02",
		"fourth-passphrase-03",
		"fifth-passphrase-04",
		"sixth-passphrase-05",
		"seventh-passphrase-06",
	}
	current := testPassword
	for _, next := range passwords {
		if err := env.engine.ChangePassword(ctx, a.ID, current, next); err != nil {
			t.Fatalf("ChangePassword(%s) failed: %v", next, err)
		}
		current = next
	}

	// The last five previous passwords and the current one are refused.
	for _, reused := range append([]string{current}, passwords[:5]...) {
		if err := env.engine.ChangePassword(ctx, a.ID, current, reused); !errors.Is(err, ErrPasswordReused) {
			t.Fatalf("expected ErrPasswordReused for %s, got %v", reused, err)
		}
	}
	// The original password has aged out of the history.
	if err := env.engine.ChangePassword(ctx, a.ID, current, testPassword); err != nil {
		t.Fatalf("aged-out password must be accepted, got %v", err)
	}
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.register(t, "alice")

	err := env.engine.ChangePassword(context.Background(), a.ID, "wrong-password-123", otherPassword)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	err = env.engine.ChangePassword(context.Background(), a.ID, testPassword, "short")
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestSetAccountStatusUnknownAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	err := env.engine.SetAccountStatus(context.Background(), "01HZZZZZZZZZZZZZZZZZZZZZZZ", StatusSuspended, "admin")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
