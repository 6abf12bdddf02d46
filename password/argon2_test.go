package password

import (
	"errors"
	"strings"
	"testing"
)

func fastConfig() Config {
	return Config{
		MemoryKiB:   8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	digest, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if !strings.HasPrefix(digest, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", digest)
	}

	ok, err := hasher.Verify("P@ssw0rd-Ascii", digest)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected password verification to succeed")
	}

	ok, err = hasher.Verify("P@ssw0rd-Ascii!", digest)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestHashUsesFreshSalt(t *testing.T) {
	hasher, _ := NewHasher(fastConfig())

	a, _ := hasher.Hash("same-password-1")
	b, _ := hasher.Hash("same-password-1")
	if a == b {
		t.Fatal("expected distinct digests for the same password")
	}
}

func TestVerifyRejectsMalformedDigest(t *testing.T) {
	hasher, _ := NewHasher(fastConfig())

	cases := []string{
		"",
		"plain",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$aGFzaGhhc2hoYXNoaGFzaA",
	}
	for _, c := range cases {
		ok, err := hasher.Verify("whatever-password", c)
		if ok || !errors.Is(err, ErrInvalidDigest) {
			t.Fatalf("digest %q: expected ErrInvalidDigest, got ok=%v err=%v", c, ok, err)
		}
	}
}

func TestNeedsUpgrade(t *testing.T) {
	oldHasher, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher(old) error: %v", err)
	}

	digest, err := oldHasher.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := fastConfig()
	stronger.Iterations = 2
	newHasher, err := NewHasher(stronger)
	if err != nil {
		t.Fatalf("NewHasher(new) error: %v", err)
	}

	upgrade, err := newHasher.NeedsUpgrade(digest)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if !upgrade {
		t.Fatal("expected upgrade for weaker digest")
	}

	upgrade, err = oldHasher.NeedsUpgrade(digest)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if upgrade {
		t.Fatal("expected no upgrade for current parameters")
	}
}

func TestMatchesAny(t *testing.T) {
	hasher, _ := NewHasher(fastConfig())

	one, _ := hasher.Hash("history-one-pw")
	two, _ := hasher.Hash("history-two-pw")

	if !hasher.MatchesAny("history-two-pw", one, "", "garbage", two) {
		t.Fatal("expected match against second digest")
	}
	if hasher.MatchesAny("history-new-pw", one, two) {
		t.Fatal("expected no match for unseen password")
	}
	if hasher.MatchesAny("history-one-pw") {
		t.Fatal("expected no match against empty history")
	}
}

func TestNewHasherRejectsWeakConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.MemoryKiB = 1024
	if _, err := NewHasher(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	cfg = fastConfig()
	cfg.SaltLength = 8
	if _, err := NewHasher(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
