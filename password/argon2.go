package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKiB   uint32 = 8 * 1024
	minIterations  uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

var phcEncoding = base64.RawStdEncoding

// Config holds the Argon2id work factor.
type Config struct {
	MemoryKiB   uint32 `yaml:"memory_kib"`
	Iterations  uint32 `yaml:"iterations"`
	Parallelism uint8  `yaml:"parallelism"`
	SaltLength  uint32 `yaml:"salt_length"`
	KeyLength   uint32 `yaml:"key_length"`
}

// DefaultConfig returns the production work factor (64 MiB, 3 passes, 2 lanes).
func DefaultConfig() Config {
	return Config{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate checks the parameters against the minimum accepted work factor.
func (c Config) Validate() error {
	switch {
	case c.MemoryKiB < minMemoryKiB:
		return fmt.Errorf("%w: memory must be >= %d KiB", ErrInvalidConfig, minMemoryKiB)
	case c.Iterations < minIterations:
		return fmt.Errorf("%w: iterations must be >= %d", ErrInvalidConfig, minIterations)
	case c.Parallelism < minParallelism:
		return fmt.Errorf("%w: parallelism must be >= %d", ErrInvalidConfig, minParallelism)
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("%w: salt length must be >= %d", ErrInvalidConfig, minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("%w: key length must be >= %d", ErrInvalidConfig, minKeyLength)
	}
	return nil
}

// Hasher produces and verifies Argon2id digests. It is safe for concurrent use.
type Hasher struct {
	cfg Config
}

type digest struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewHasher validates cfg and returns a Hasher bound to it.
func NewHasher(cfg Config) (*Hasher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Hasher{cfg: cfg}, nil
}

// Hash derives a digest for plaintext with a fresh random salt.
// Password bytes are used exactly as given, without Unicode normalization.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("password salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, h.cfg.Iterations, h.cfg.MemoryKiB, h.cfg.Parallelism, h.cfg.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.cfg.MemoryKiB,
		h.cfg.Iterations,
		h.cfg.Parallelism,
		phcEncoding.EncodeToString(salt),
		phcEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches encoded. The key comparison is
// constant time. A malformed digest yields ErrInvalidDigest, never a match.
func (h *Hasher) Verify(plaintext, encoded string) (bool, error) {
	d, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(plaintext), d.salt, d.iterations, d.memory, d.parallelism, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(computed, d.key) == 1, nil
}

// MatchesAny reports whether plaintext matches any of the given digests.
// Every digest is checked so the cost does not depend on match position;
// malformed entries are skipped.
func (h *Hasher) MatchesAny(plaintext string, encoded ...string) bool {
	matched := false
	for _, e := range encoded {
		if e == "" {
			continue
		}
		ok, err := h.Verify(plaintext, e)
		if err == nil && ok {
			matched = true
		}
	}
	return matched
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the hasher's current configuration.
func (h *Hasher) NeedsUpgrade(encoded string) (bool, error) {
	d, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}

	return h.cfg.MemoryKiB > d.memory ||
		h.cfg.Iterations > d.iterations ||
		h.cfg.Parallelism > d.parallelism ||
		h.cfg.KeyLength != uint32(len(d.key)), nil
}

func parseDigest(encoded string) (*digest, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, ErrInvalidDigest
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") || version != argon2.Version {
		return nil, ErrInvalidDigest
	}

	d := &digest{}
	if err := parseParams(parts[3], d); err != nil {
		return nil, err
	}

	if d.salt, err = phcEncoding.DecodeString(parts[4]); err != nil || len(d.salt) < int(minSaltLength) {
		return nil, ErrInvalidDigest
	}
	if d.key, err = phcEncoding.DecodeString(parts[5]); err != nil || len(d.key) < int(minKeyLength) {
		return nil, ErrInvalidDigest
	}

	return d, nil
}

func parseParams(part string, d *digest) error {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return ErrInvalidDigest
	}

	seen := 0
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return ErrInvalidDigest
		}

		switch name {
		case "m":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < minMemoryKiB {
				return ErrInvalidDigest
			}
			d.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < minIterations {
				return ErrInvalidDigest
			}
			d.iterations = uint32(v)
		case "p":
			v, err := strconv.ParseUint(raw, 10, 8)
			if err != nil || uint8(v) < minParallelism {
				return ErrInvalidDigest
			}
			d.parallelism = uint8(v)
		default:
			return ErrInvalidDigest
		}
		seen++
	}

	if seen != 3 || d.memory == 0 || d.iterations == 0 || d.parallelism == 0 {
		return ErrInvalidDigest
	}
	return nil
}
