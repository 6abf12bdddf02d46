package refresh

import "time"

// Revocation reasons recorded on tokens.
const (
	ReasonRotation        = "rotation"
	ReasonReuseDetected   = "reuse_detected"
	ReasonLogout          = "logout"
	ReasonLogoutAll       = "logout_all"
	ReasonLogoutDevice    = "logout_device"
	ReasonPasswordChange  = "password_change"
	ReasonAccountInactive = "account_inactive"
)

// ActorSystem marks revocations the core performs on its own.
const ActorSystem = "system"

// Device describes the client a token was issued to.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
	OS       string `json:"os,omitempty"`
	Browser  string `json:"browser,omitempty"`
	Location string `json:"location,omitempty"`
	// Trusted is set when the login that started the family passed a
	// second factor.
	Trusted  bool   `json:"trusted,omitempty"`
}

// Token is a persisted refresh token. It is immutable once revoked.
type Token struct {
	// ID is the lookup key derived from the opaque value.
	ID         string
	AccountID  string
	Device     Device
	Family     string
	// Parent is the ID of the rotated predecessor, empty for the first
	// token of a family.
	Parent     string
	Active     bool
	RememberMe bool
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time
	UseCount   int

	RevokedAt     *time.Time
	RevokedReason string
	RevokedBy     string
}

// Usable reports whether t can be rotated at now.
func (t *Token) Usable(now time.Time) bool {
	return t.Active && t.ExpiresAt.After(now)
}

// Revocation is the metadata stamped on tokens being revoked.
type Revocation struct {
	Reason string
	Actor  string
	At     time.Time
}

// Issued is a freshly minted token together with its opaque value. The
// value exists only here and must be handed to the client.
type Issued struct {
	Value string
	Token Token
}
