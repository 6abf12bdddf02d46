package authcore

import (
	"time"

	"github.com/MrEthical07/authcore/credential"
)

// AccountStatus is the account lifecycle state.
type AccountStatus = credential.Status

const (
	StatusActive    = credential.StatusActive
	StatusPending   = credential.StatusPending
	StatusSuspended = credential.StatusSuspended
	StatusInactive  = credential.StatusInactive
)

// RegisterRequest is the input of Engine.Register. Roles default to the
// configured account roles.
type RegisterRequest struct {
	Handle   string
	Email    string
	Password string
	Roles    []string
}

// LoginRequest is the input of Engine.Login. The identifier is a handle or
// an email address.
type LoginRequest struct {
	Identifier string
	Password   string
	RememberMe bool
}

// Account is the public view of an account. It carries no secrets.
type Account struct {
	ID                string        `json:"id"`
	Handle            string        `json:"handle"`
	Email             string        `json:"email"`
	Roles             []string      `json:"roles"`
	Status            AccountStatus `json:"-"`
	StatusName        string        `json:"status"`
	MFAEnabled        bool          `json:"mfa_enabled"`
	PasswordChangedAt time.Time     `json:"password_changed_at"`
	CreatedAt         time.Time     `json:"created_at"`
}

func accountView(a *credential.Account) *Account {
	return &Account{
		ID:                a.ID,
		Handle:            a.Handle,
		Email:             a.Email,
		Roles:             append([]string(nil), a.Roles...),
		Status:            a.Status,
		StatusName:        a.Status.String(),
		MFAEnabled:        a.MFAEnabled,
		PasswordChangedAt: a.PasswordChangedAt,
		CreatedAt:         a.CreatedAt,
	}
}

// LoginResult is a fresh token pair.
type LoginResult struct {
	AccountID        string    `json:"account_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	DeviceID         string    `json:"device_id"`

	// BackupCodesRemaining is set when the second factor was a backup code.
	BackupCodesRemaining int  `json:"backup_codes_remaining,omitempty"`
	// BackupCodesLow signals that fewer than three unused backup codes
	// remain and the caller should prompt for regeneration.
	BackupCodesLow       bool `json:"backup_codes_low,omitempty"`
}

// MFAEnrollment is returned by Engine.EnrollMFA. MFA stays off until a code
// generated from Secret is confirmed.
type MFAEnrollment struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// AccessResult is a validated access token.
type AccessResult struct {
	AccountID   string
	Roles       []string
	Permissions []string
	TokenID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// HasPermission reports whether the token grants perm.
func (r *AccessResult) HasPermission(perm string) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// HasRole reports whether the token carries role.
func (r *AccessResult) HasRole(role string) bool {
	for _, x := range r.Roles {
		if x == role {
			return true
		}
	}
	return false
}
