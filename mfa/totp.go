package mfa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SecretBytes is the size of generated shared secrets (160 bits).
const SecretBytes = 20

var (
	// ErrEmptySecret is returned when verifying against a missing secret.
	ErrEmptySecret = errors.New("mfa: empty totp secret")
	// ErrUnsupportedAlgorithm is returned for HMAC algorithms other than SHA1, SHA256 and SHA512.
	ErrUnsupportedAlgorithm = errors.New("mfa: unsupported totp algorithm")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTPConfig controls code generation and the accepted clock-drift window.
type TOTPConfig struct {
	Issuer    string `yaml:"issuer"`
	Digits    int    `yaml:"digits"`
	Period    int    `yaml:"period"`
	Algorithm string `yaml:"algorithm"`
	// Skew is the number of steps accepted on either side of the current one.
	Skew      int    `yaml:"skew"`
}

// DefaultTOTPConfig returns 6 digit SHA1 codes on a 30 second step with a
// one step window.
func DefaultTOTPConfig() TOTPConfig {
	return TOTPConfig{
		Issuer:    "authcore",
		Digits:    6,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      1,
	}
}

// Validate checks the configuration.
func (c TOTPConfig) Validate() error {
	if c.Issuer == "" {
		return errors.New("mfa: totp issuer must be set")
	}
	if c.Digits < 6 || c.Digits > 8 {
		return errors.New("mfa: totp digits must be between 6 and 8")
	}
	if c.Period <= 0 {
		return errors.New("mfa: totp period must be > 0")
	}
	if c.Skew < 0 || c.Skew > 3 {
		return errors.New("mfa: totp skew must be between 0 and 3")
	}
	if _, err := hmacFunc(c.Algorithm); err != nil {
		return err
	}
	return nil
}

// TOTP generates and verifies time-based codes.
type TOTP struct {
	cfg TOTPConfig
}

// NewTOTP returns a TOTP bound to cfg. An empty algorithm means SHA1.
func NewTOTP(cfg TOTPConfig) *TOTP {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	return &TOTP{cfg: cfg}
}

// GenerateSecret returns a fresh random secret and its unpadded base32 form.
func (t *TOTP) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, SecretBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, "", fmt.Errorf("mfa: secret: %w", err)
	}
	return raw, secretEncoding.EncodeToString(raw), nil
}

// EncodeSecret returns the unpadded base32 form of a raw secret.
func EncodeSecret(raw []byte) string {
	return secretEncoding.EncodeToString(raw)
}

// ProvisionURI builds the otpauth:// URI authenticator apps import.
func (t *TOTP) ProvisionURI(secretBase32, account string) string {
	label := url.PathEscape(t.cfg.Issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", t.cfg.Issuer)
	v.Set("period", strconv.Itoa(t.cfg.Period))
	v.Set("digits", strconv.Itoa(t.cfg.Digits))
	v.Set("algorithm", strings.ToUpper(t.cfg.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Step returns the time step containing now.
func (t *TOTP) Step(now time.Time) int64 {
	return now.Unix() / int64(t.cfg.Period)
}

// Verify checks code against the current step and Skew steps on either side.
// On a match it returns the matched step so the caller can reject any later
// submission for a step at or below it.
func (t *TOTP) Verify(secret []byte, code string, now time.Time) (bool, int64, error) {
	if len(secret) == 0 {
		return false, 0, ErrEmptySecret
	}

	trimmed := strings.TrimSpace(code)
	if !LooksLikeTOTP(trimmed, t.cfg.Digits) {
		return false, 0, nil
	}

	base := t.Step(now)
	for offset := -t.cfg.Skew; offset <= t.cfg.Skew; offset++ {
		step := base + int64(offset)
		if step < 0 {
			continue
		}
		generated, err := hotp(secret, step, t.cfg.Digits, t.cfg.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, step, nil
		}
	}

	return false, 0, nil
}

// Code returns the code for the step containing at.
func (t *TOTP) Code(secret []byte, at time.Time) (string, error) {
	return hotp(secret, t.Step(at), t.cfg.Digits, t.cfg.Algorithm)
}

// LooksLikeTOTP reports whether code is exactly digits ASCII digits.
func LooksLikeTOTP(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func hotp(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[offset : offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}
