package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// OpaqueTokenBytes is the entropy of refresh tokens and pending handles.
const OpaqueTokenBytes = 32

var opaqueEncoding = base64.RawURLEncoding

// NewOpaqueToken returns 256 random bits, base64url without padding.
func NewOpaqueToken() (string, error) {
	var raw [OpaqueTokenBytes]byte
	if _, err := io.ReadFull(rand.Reader, raw[:]); err != nil {
		return "", fmt.Errorf("random token: %w", err)
	}
	return opaqueEncoding.EncodeToString(raw[:]), nil
}

// LookupKey returns the hex SHA-256 of a well-formed opaque token. Only this
// digest is persisted, so a store dump does not yield usable credentials.
func LookupKey(token string) (string, bool) {
	if len(token) != opaqueEncoding.EncodedLen(OpaqueTokenBytes) {
		return "", false
	}
	raw, err := opaqueEncoding.DecodeString(token)
	if err != nil || len(raw) != OpaqueTokenBytes {
		return "", false
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:]), true
}
