package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

// BackupAlphabet omits characters that are easy to confuse (0/O, 1/I).
const BackupAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// LowBackupCodes is the remaining count below which callers are told to regenerate.
const LowBackupCodes = 3

// BackupConfig controls backup code generation.
type BackupConfig struct {
	Count  int `yaml:"count"`
	Length int `yaml:"length"`
}

// DefaultBackupConfig returns ten codes of ten characters.
func DefaultBackupConfig() BackupConfig {
	return BackupConfig{Count: 10, Length: 10}
}

// Validate checks the configuration.
func (c BackupConfig) Validate() error {
	if c.Count <= 0 {
		return errors.New("mfa: backup code count must be > 0")
	}
	if c.Length < 8 {
		return errors.New("mfa: backup code length must be >= 8")
	}
	return nil
}

// BackupSet is a freshly generated batch: Codes are shown to the user once,
// Digests are what gets stored.
type BackupSet struct {
	Codes   []string
	Digests []string
}

// GenerateBackupCodes returns a new batch bound to accountID.
func GenerateBackupCodes(accountID string, cfg BackupConfig) (*BackupSet, error) {
	set := &BackupSet{
		Codes:   make([]string, 0, cfg.Count),
		Digests: make([]string, 0, cfg.Count),
	}

	for i := 0; i < cfg.Count; i++ {
		raw, err := randomCode(cfg.Length)
		if err != nil {
			return nil, err
		}
		set.Codes = append(set.Codes, FormatBackupCode(raw))
		set.Digests = append(set.Digests, BackupDigest(accountID, raw))
	}

	return set, nil
}

// FormatBackupCode splits a code in two groups for display.
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalBackupCode uppercases and strips separators from user input.
func CanonicalBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// BackupDigest returns the stored form of a code: hex SHA-256 over the
// account id and the canonical code. Binding the account id keeps one
// account's digests useless against another.
func BackupDigest(accountID, code string) string {
	canonical := CanonicalBackupCode(code)
	data := make([]byte, 0, len(accountID)+1+len(canonical))
	data = append(data, accountID...)
	data = append(data, 0)
	data = append(data, canonical...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LooksLikeBackupCode reports whether code canonicalizes to a plausible
// backup code of the given length.
func LooksLikeBackupCode(code string, length int) bool {
	c := CanonicalBackupCode(code)
	if len(c) != length {
		return false
	}
	for i := 0; i < len(c); i++ {
		if strings.IndexByte(BackupAlphabet, c[i]) < 0 {
			return false
		}
	}
	return true
}

func randomCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	limit := big.NewInt(int64(len(BackupAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupAlphabet[n.Int64()])
	}
	return b.String(), nil
}
