package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBindingValue returns a short stable digest of v for use as an opaque id.
func HashBindingValue(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:16])
}
