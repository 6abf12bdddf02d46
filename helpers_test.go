package authcore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/password"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	testPassword  = "correct-horse-battery"
	otherPassword = "another-long-passphrase"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
	fail  bool
	panic bool
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	if n.panic {
		panic("smtp client bug")
	}
	if n.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (n *recordingNotifier) kinds() []NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationKind, 0, len(n.notes))
	for _, note := range n.notes {
		out = append(out, note.Kind)
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, e AuditEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) ofType(typ string) []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEvent
	for _, e := range s.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	engine   *Engine
	clock    *testClock
	redis    *miniredis.Miniredis
	notifier *recordingNotifier
	audit    *recordingSink
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Hash = password.Config{
		MemoryKiB:   8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		clock:    &testClock{now: t0},
		redis:    mr,
		notifier: &recordingNotifier{},
		audit:    &recordingSink{},
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithPermissions([]string{"profile.read", "profile.write", "admin.users"}).
		WithRoles(map[string][]string{
			"member": {"profile.read", "profile.write"},
			"admin":  {"profile.read", "profile.write", "admin.users"},
		}).
		WithNotifier(env.notifier).
		WithAuditSink(env.audit).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

func (env *testEnv) register(t *testing.T, handle string) *Account {
	t.Helper()
	a, err := env.engine.Register(context.Background(), RegisterRequest{
		Handle:   handle,
		Email:    handle + "@example.com",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", handle, err)
	}
	return a
}

func (env *testEnv) login(t *testing.T, ctx context.Context, handle string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(ctx, LoginRequest{Identifier: handle, Password: testPassword})
	if err != nil {
		t.Fatalf("Login(%s) failed: %v", handle, err)
	}
	return res
}

// totpCode returns the code for the account's stored secret at the current
// test time.
func (env *testEnv) totpCode(t *testing.T, accountID string) string {
	t.Helper()
	a, err := env.engine.accounts.AccountByID(context.Background(), accountID)
	if err != nil {
		t.Fatalf("AccountByID failed: %v", err)
	}
	code, err := env.engine.totp.Code(a.MFASecret, env.clock.Now())
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	return code
}

// enableMFA enrolls and confirms MFA and returns the backup codes. The clock
// is moved to the next step so the confirmation code is not replayed.
func (env *testEnv) enableMFA(t *testing.T, accountID string) []string {
	t.Helper()
	ctx := context.Background()

	if _, err := env.engine.EnrollMFA(ctx, accountID); err != nil {
		t.Fatalf("EnrollMFA failed: %v", err)
	}
	codes, err := env.engine.ConfirmMFAEnrollment(ctx, accountID, env.totpCode(t, accountID))
	if err != nil {
		t.Fatalf("ConfirmMFAEnrollment failed: %v", err)
	}
	env.clock.Advance(30 * time.Second)
	return codes
}

func (env *testEnv) pendingHandle(t *testing.T, handle string) string {
	t.Helper()
	_, err := env.engine.Login(context.Background(), LoginRequest{Identifier: handle, Password: testPassword})
	var required *SecondFactorRequiredError
	if !errors.As(err, &required) {
		t.Fatalf("expected SecondFactorRequiredError, got %v", err)
	}
	return required.Handle
}

// flush waits for notifications in flight.
func (env *testEnv) flush() {
	env.engine.notifyWG.Wait()
}
