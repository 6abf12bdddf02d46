package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newEdManager(t *testing.T, mutate func(*Config)) *Manager {
	t.Helper()
	_, priv := newEdKeys(t)
	cfg := Config{SigningMethod: MethodEd25519, PrivateKey: priv, Issuer: "authcore", Audience: "api"}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestCreateAndParseAccess(t *testing.T) {
	m := newEdManager(t, nil)
	now := time.Now().Truncate(time.Second)

	token, exp, err := m.CreateAccess(Subject{
		AccountID:   "acct-1",
		Roles:       []string{"user"},
		Permissions: []string{"profile:read"},
	}, now)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if !exp.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("expected default 15m ttl, got exp %v", exp)
	}

	claims, err := m.ParseAccess(token, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.AccountID() != "acct-1" || claims.Roles[0] != "user" || claims.Permissions[0] != "profile:read" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ID == "" || !claims.IssuedAt.Time.Equal(now) {
		t.Fatalf("expected jti and iat, got %+v", claims.RegisteredClaims)
	}
}

func TestParseAccessExpired(t *testing.T) {
	m := newEdManager(t, nil)
	now := time.Now()

	token, _, err := m.CreateAccess(Subject{AccountID: "acct-1"}, now)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}

	_, err = m.ParseAccess(token, now.Add(16*time.Minute))
	if !IsExpired(err) {
		t.Fatalf("expected expiry error, got %v", err)
	}
}

func TestParseAccessRejectsWrongAlgorithm(t *testing.T) {
	m := newEdManager(t, nil)

	claims := Claims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "acct-1",
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	token, err := tok.SignedString([]byte("secret-secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.ParseAccess(token, time.Now()); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseAccessIssuerAudienceAndKid(t *testing.T) {
	_, priv := newEdKeys(t)
	issuer := newEdManager(t, func(c *Config) { c.PrivateKey = priv; c.KeyID = "k1" })
	now := time.Now()

	token, _, err := issuer.CreateAccess(Subject{AccountID: "acct-1"}, now)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := issuer.ParseAccess(token, now); err != nil {
		t.Fatalf("expected token to parse: %v", err)
	}

	otherAudience := newEdManager(t, func(c *Config) { c.PrivateKey = priv; c.KeyID = "k1"; c.Audience = "admin" })
	if _, err := otherAudience.ParseAccess(token, now); err == nil {
		t.Fatal("expected audience mismatch to be rejected")
	}

	otherKid := newEdManager(t, func(c *Config) { c.PrivateKey = priv; c.KeyID = "k2" })
	if _, err := otherKid.ParseAccess(token, now); err == nil {
		t.Fatal("expected kid mismatch to be rejected")
	}
}

func TestVerifyOnlyManagerCannotSign(t *testing.T) {
	pub, priv := newEdKeys(t)
	signer, err := NewManager(Config{SigningMethod: MethodEd25519, PrivateKey: priv})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	verifier, err := NewManager(Config{SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	if _, _, err := verifier.CreateAccess(Subject{AccountID: "a"}, time.Now()); !errors.Is(err, ErrSigningKey) {
		t.Fatalf("expected ErrSigningKey, got %v", err)
	}

	token, _, err := signer.CreateAccess(Subject{AccountID: "a"}, time.Now())
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := verifier.ParseAccess(token, time.Now()); err != nil {
		t.Fatalf("verifier rejected valid token: %v", err)
	}
}

func TestHS256(t *testing.T) {
	if _, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("short")}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected short secret to be rejected, got %v", err)
	}

	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, _, err := m.CreateAccess(Subject{AccountID: "a", Roles: []string{"admin"}}, time.Now())
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	claims, err := m.ParseAccess(token, time.Now())
	if err != nil || claims.Roles[0] != "admin" {
		t.Fatalf("parse access: claims=%+v err=%v", claims, err)
	}
}

func TestParseAccessRejectsTampered(t *testing.T) {
	m := newEdManager(t, nil)
	token, _, _ := m.CreateAccess(Subject{AccountID: "a"}, time.Now())

	tampered := token[:len(token)-2] + "AA"
	if tampered == token {
		tampered = token[:len(token)-2] + "BB"
	}
	if _, err := m.ParseAccess(tampered, time.Now()); err == nil {
		t.Fatal("expected tampered signature to be rejected")
	}
}

func TestPasswordStampRoundTrip(t *testing.T) {
	m := newEdManager(t, nil)
	changed := time.Date(2026, 3, 1, 12, 0, 0, 400_000_000, time.UTC)
	now := changed.Add(time.Second)

	token, _, err := m.CreateAccess(Subject{AccountID: "a", PasswordAt: changed}, now)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	claims, err := m.ParseAccess(token, now)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.IssuedBefore(changed) {
		t.Fatal("token stamped with the current change time must not be stale")
	}
	if !claims.IssuedBefore(changed.Add(time.Millisecond)) {
		t.Fatal("a later password change must make the token stale")
	}
}
