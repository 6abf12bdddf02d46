package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy is the strength rule set applied to new passwords.
type Policy struct {
	MinLength     int  `yaml:"min_length"`
	MaxLength     int  `yaml:"max_length"`
	// RejectTrivial rejects repeated characters, short PIN-like digit runs
	// and a small list of well-known passwords.
	RejectTrivial bool `yaml:"reject_trivial"`
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{MinLength: 10, MaxLength: 128, RejectTrivial: true}
}

var trivialPasswords = map[string]struct{}{
	"password":      {},
	"password1":     {},
	"password123":   {},
	"passw0rd":      {},
	"1234567890":    {},
	"123456789":     {},
	"qwertyuiop":    {},
	"qwerty123":     {},
	"iloveyou":      {},
	"letmein123":    {},
	"welcome123":    {},
	"administrator": {},
}

// Check validates plaintext against the policy. Length is counted in runes.
func (p Policy) Check(plaintext string) error {
	n := utf8.RuneCountInString(plaintext)
	if n < p.MinLength {
		return ErrTooShort
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return ErrTooLong
	}
	if p.RejectTrivial && trivial(plaintext) {
		return ErrWeak
	}
	return nil
}

func trivial(plaintext string) bool {
	s := strings.TrimSpace(plaintext)
	if s == "" {
		return true
	}

	if _, ok := trivialPasswords[strings.ToLower(s)]; ok {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	repeated, digits := true, true
	for _, r := range s {
		if r != first {
			repeated = false
		}
		if !unicode.IsDigit(r) {
			digits = false
		}
	}

	return repeated || (digits && utf8.RuneCountInString(s) < 12)
}
