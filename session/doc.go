// Package session is the device registry: it turns connection metadata
// into device descriptors and presents an account's refresh token families
// as per-device sessions.
//
// Sessions are not stored separately. [Registry.List] derives them from
// the account's active refresh tokens; revocation per device or per family
// goes through the refresh manager.
package session
