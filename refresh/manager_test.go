package refresh_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/store/redisstore"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*refresh.Manager, *redisstore.Store) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	store := redisstore.New(client)
	return refresh.NewManager(store, refresh.DefaultConfig()), store
}

var laptop = refresh.Device{ID: "laptop", Name: "Firefox on Linux"}

func TestIssueAndRotate(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	first, err := m.Issue(ctx, "acct", laptop, false, t0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if first.Token.Family == "" || !first.Token.ExpiresAt.Equal(t0.Add(7*24*time.Hour)) {
		t.Fatalf("unexpected issued token %+v", first.Token)
	}

	next, err := m.Rotate(ctx, first.Value, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if next.Value == first.Value || next.Token.Family != first.Token.Family || next.Token.Parent != first.Token.ID {
		t.Fatalf("unexpected successor %+v", next.Token)
	}
	if next.Token.Device.ID != "laptop" {
		t.Fatalf("device was not carried over: %+v", next.Token.Device)
	}

	old, err := store.TokenByID(ctx, first.Token.ID)
	if err != nil {
		t.Fatalf("TokenByID failed: %v", err)
	}
	if old.Active || old.RevokedReason != refresh.ReasonRotation {
		t.Fatalf("predecessor not revoked by rotation: %+v", old)
	}
}

func TestRememberMeExtendsLifetime(t *testing.T) {
	m, _ := newTestManager(t)

	issued, err := m.Issue(context.Background(), "acct", laptop, true, t0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !issued.Token.ExpiresAt.Equal(t0.Add(30 * 24 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", issued.Token.ExpiresAt)
	}
}

func TestReuseRevokesFamily(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	r1, _ := m.Issue(ctx, "acct", laptop, false, t0)
	r2, err := m.Rotate(ctx, r1.Value, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	other, _ := m.Issue(ctx, "acct", laptop, false, t0)

	_, err = m.Rotate(ctx, r1.Value, t0.Add(2*time.Minute))
	var reuse *refresh.ReuseError
	if !errors.As(err, &reuse) || !errors.Is(err, refresh.ErrTokenReused) {
		t.Fatalf("expected ReuseError, got %v", err)
	}
	if reuse.Family != r1.Token.Family || reuse.AccountID != "acct" || reuse.Revoked != 1 {
		t.Fatalf("unexpected reuse details %+v", reuse)
	}

	if _, err := m.Rotate(ctx, r2.Value, t0.Add(3*time.Minute)); !errors.Is(err, refresh.ErrTokenReused) {
		t.Fatalf("expected successor to be dead after reuse, got %v", err)
	}
	if _, err := m.Rotate(ctx, other.Value, t0.Add(3*time.Minute)); err != nil {
		t.Fatalf("other family must survive, got %v", err)
	}
}

func TestConcurrentRotationHasOneWinner(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	issued, _ := m.Issue(ctx, "acct", laptop, false, t0)

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		reused  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Rotate(ctx, issued.Value, t0.Add(time.Minute))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, refresh.ErrTokenReused):
				reused++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 || reused != n-1 {
		t.Fatalf("expected 1 winner and %d reuse failures, got %d and %d", n-1, winners, reused)
	}
}

func TestRotateRejectsExpiredAndMalformed(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	issued, _ := m.Issue(ctx, "acct", laptop, false, t0)
	if _, err := m.Rotate(ctx, issued.Value, t0.Add(8*24*time.Hour)); !errors.Is(err, refresh.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	for _, v := range []string{"", "short", "!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"} {
		if _, err := m.Rotate(ctx, v, t0); !errors.Is(err, refresh.ErrTokenInvalid) {
			t.Fatalf("Rotate(%q) expected ErrTokenInvalid, got %v", v, err)
		}
	}
}

// evictingStore loses the predecessor between lookup and swap, like a Redis
// key expiring under memory pressure.
type evictingStore struct {
	refresh.Store
}

func (evictingStore) RotateToken(context.Context, string, *refresh.Token, time.Time) error {
	return refresh.ErrNotFound
}

func TestRotateOfEvictedTokenIsInvalid(t *testing.T) {
	_, store := newTestManager(t)
	m := refresh.NewManager(evictingStore{Store: store}, refresh.DefaultConfig())
	ctx := context.Background()

	issued, err := m.Issue(ctx, "acct", laptop, false, t0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := m.Rotate(ctx, issued.Value, t0.Add(time.Minute)); !errors.Is(err, refresh.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestRevokeScopes(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	phone := refresh.Device{ID: "phone"}

	a, _ := m.Issue(ctx, "acct", laptop, false, t0)
	b, _ := m.Issue(ctx, "acct", phone, false, t0)
	c, _ := m.Issue(ctx, "acct", phone, false, t0)

	tok, err := m.Revoke(ctx, a.Value, refresh.ReasonLogout, "acct", t0)
	if err != nil || tok.ID != a.Token.ID {
		t.Fatalf("Revoke = %+v, %v", tok, err)
	}
	if _, err := m.Revoke(ctx, a.Value, refresh.ReasonLogout, "acct", t0); err != nil {
		t.Fatalf("revoking twice must succeed, got %v", err)
	}

	n, err := m.RevokeAllForDevice(ctx, "acct", "phone", refresh.ReasonLogoutDevice, "acct", t0)
	if err != nil || n != 2 {
		t.Fatalf("RevokeAllForDevice = %d, %v", n, err)
	}
	for _, v := range []string{b.Value, c.Value} {
		if _, err := m.Rotate(ctx, v, t0.Add(time.Minute)); !errors.Is(err, refresh.ErrTokenReused) {
			t.Fatalf("expected revoked token to be refused, got %v", err)
		}
	}

	if n, err := m.RevokeAllForAccount(ctx, "acct", refresh.ReasonLogoutAll, "acct", t0); err != nil || n != 0 {
		t.Fatalf("RevokeAllForAccount = %d, %v", n, err)
	}
}

func TestSweepDeletesExpired(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	old, _ := m.Issue(ctx, "acct", laptop, false, t0)
	fresh, _ := m.Issue(ctx, "acct", laptop, false, t0.Add(7*24*time.Hour))

	n, err := m.Sweep(ctx, t0.Add(7*24*time.Hour+time.Second))
	if err != nil || n != 1 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
	if _, err := store.TokenByID(ctx, old.Token.ID); !errors.Is(err, refresh.ErrNotFound) {
		t.Fatalf("expected swept token to be gone, got %v", err)
	}
	if _, err := store.TokenByID(ctx, fresh.Token.ID); err != nil {
		t.Fatalf("fresh token swept: %v", err)
	}
}
