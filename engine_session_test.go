package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.register(t, "alice")
	ctx := context.Background()
	r1 := env.login(t, ctx, "alice").RefreshToken

	env.clock.Advance(time.Minute)
	second, err := env.engine.Refresh(ctx, r1)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	r2 := second.RefreshToken
	if r2 == r1 || second.AccessToken == "" {
		t.Fatal("expected a new token pair")
	}

	if _, err := env.engine.Refresh(ctx, r1); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected replay to fail with ErrTokenInvalid, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, r2); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected successor to be revoked with its family, got %v", err)
	}

	env.engine.Close()
	reuse := env.audit.ofType(AuditTokenReuseDetected)
	if len(reuse) == 0 || reuse[0].AccountID != a.ID || reuse[0].Error != ErrTokenReused.Error() {
		t.Fatalf("expected token reuse audit event, got %+v", reuse)
	}
	kinds := env.notifier.kinds()
	if kinds[len(kinds)-1] != NotifyTokenReuseDetected {
		t.Fatalf("expected a reuse notification, got %v", kinds)
	}
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "alice")
	token := env.login(t, context.Background(), "alice").RefreshToken

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.engine.Refresh(context.Background(), token)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrTokenInvalid):
				failures++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 || failures != workers-1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d failures", successes, failures)
	}
}

func TestRefreshExpiredAndMalformed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "alice")
	ctx := context.Background()
	token := env.login(t, ctx, "alice").RefreshToken

	if _, err := env.engine.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}

	env.clock.Advance(7*24*time.Hour + time.Second)
	if _, err := env.engine.Refresh(ctx, token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRememberMeUsesLongerLifetime(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "alice")

	res, err := env.engine.Login(context.Background(), LoginRequest{Identifier: "alice", Password: testPassword, RememberMe: true})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !res.RefreshExpiresAt.Equal(t0.Add(30 * 24 * time.Hour)) {
		t.Fatalf("unexpected remember-me expiry %v", res.RefreshExpiresAt)
	}
}

func TestLogoutRevokesOnlyThatFamily(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "alice")
	ctx := context.Background()
	first := env.login(t, ctx, "alice").RefreshToken
	second := env.login(t, ctx, "alice").RefreshToken

	if err := env.engine.Logout(ctx, first); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if err := env.engine.Logout(ctx, first); err != nil {
		t.Fatalf("second Logout must succeed, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, second); err != nil {
		t.Fatalf("other family must survive: %v", err)
	}
	if err := env.engine.Logout(ctx, "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestLogoutOfEvictedTokenSucceeds(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "alice")
	ctx := context.Background()
	res := env.login(t, ctx, "alice")

	env.redis.FlushAll()

	if err := env.engine.Logout(ctx, res.RefreshToken); err != nil {
		t.Fatalf("Logout of an evicted token must succeed, got %v", err)
	}
}

func TestLogoutDeviceAndAllDevices(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.register(t, "alice")

	laptopCtx := WithUserAgent(WithClientIP(context.Background(), "192.0.2.10"), "Mozilla/5.0 (Windows NT 10.0) Chrome/126.0")
	phoneCtx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.7"), "Mozilla/5.0 (Linux; Android 14) Chrome/126.0 Mobile")
	laptop := env.login(t, laptopCtx, "alice")
	phone := env.login(t, phoneCtx, "alice")
	env.clock.Advance(time.Minute)
	phone2 := env.login(t, phoneCtx, "alice")

	sessions, err := env.engine.ListSessions(context.Background(), a.ID, laptop.RefreshToken)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(sessions))
	}
	if sessions[0].DeviceID != phone.DeviceID || sessions[0].Families != 2 || sessions[0].Current {
		t.Fatalf("unexpected phone entry %+v", sessions[0])
	}
	if sessions[1].DeviceID != laptop.DeviceID || !sessions[1].Current {
		t.Fatalf("unexpected laptop entry %+v", sessions[1])
	}

	if err := env.engine.LogoutDevice(context.Background(), a.ID, phone.DeviceID); err != nil {
		t.Fatalf("LogoutDevice failed: %v", err)
	}
	for _, r := range []string{phone.RefreshToken, phone2.RefreshToken} {
		if _, err := env.engine.Refresh(context.Background(), r); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("phone token must be revoked, got %v", err)
		}
	}

	if err := env.engine.LogoutAllDevices(context.Background(), a.ID); err != nil {
		t.Fatalf("LogoutAllDevices failed: %v", err)
	}
	if _, err := env.engine.Refresh(context.Background(), laptop.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("laptop token must be revoked, got %v", err)
	}
	sessions, err = env.engine.ListSessions(context.Background(), a.ID, "")
	if err != nil || len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %v / %v", sessions, err)
	}
}

func TestSweepExpiredRemovesOldTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "alice")
	env.login(t, context.Background(), "alice")
	env.login(t, context.Background(), "alice")

	env.clock.Advance(8 * 24 * time.Hour)
	n, err := env.engine.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 swept tokens, got %d", n)
	}
}
