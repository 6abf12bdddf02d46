package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, cfg Config) (*miniredis.Miniredis, *Limiter) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, New(rdb, cfg)
}

func TestLoginThrottlePerIP(t *testing.T) {
	mr, l := newLimiter(t, Config{MaxLoginFailures: 2, LoginWindow: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckLogin(ctx, "10.0.0.1"); err != nil {
			t.Fatalf("attempt %d rejected early: %v", i, err)
		}
		if err := l.RecordLoginFailure(ctx, "10.0.0.1"); err != nil {
			t.Fatalf("RecordLoginFailure error: %v", err)
		}
	}

	if err := l.CheckLogin(ctx, "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CheckLogin(ctx, "10.0.0.2"); err != nil {
		t.Fatalf("other address must be unaffected, got %v", err)
	}
	if n, _ := l.LoginFailures(ctx, "10.0.0.1"); n != 2 {
		t.Fatalf("expected 2 failures, got %d", n)
	}

	mr.FastForward(61 * time.Second)
	if err := l.CheckLogin(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("expected window reset, got %v", err)
	}
}

func TestRegistrationBudget(t *testing.T) {
	_, l := newLimiter(t, Config{MaxRegistrations: 1, RegistrationWindow: time.Hour})
	ctx := context.Background()

	if err := l.AllowRegistration(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("first registration rejected: %v", err)
	}
	if err := l.AllowRegistration(ctx, "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestDisabledAndNilLimiter(t *testing.T) {
	_, l := newLimiter(t, Config{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = l.RecordLoginFailure(ctx, "10.0.0.1")
	}
	if err := l.CheckLogin(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("zero budget must disable the throttle, got %v", err)
	}

	var nilLimiter *Limiter
	if nilLimiter.CheckLogin(ctx, "x") != nil || nilLimiter.AllowRegistration(ctx, "x") != nil {
		t.Fatal("nil limiter must allow everything")
	}
}
