package password

import "errors"

var (
	// ErrTooShort is returned when a password has fewer runes than the policy minimum.
	ErrTooShort = errors.New("password too short")
	// ErrTooLong is returned when a password exceeds the policy maximum.
	ErrTooLong = errors.New("password too long")
	// ErrWeak is returned for trivially guessable passwords.
	ErrWeak = errors.New("weak password")
	// ErrInvalidDigest is returned for malformed or unsupported PHC strings.
	ErrInvalidDigest = errors.New("invalid password digest")
	// ErrInvalidConfig is returned by NewHasher for parameters below the safe floor.
	ErrInvalidConfig = errors.New("invalid argon2 config")
)
