// Package credential owns accounts: identity, password digest and history,
// lockout counters, MFA secret and backup codes.
//
// [Service] composes the lockout guard, the account lookup and the password
// hasher into Authenticate, and runs password changes and status
// transitions. Accounts are never deleted; deactivation is a status.
//
// Persistence is behind [Store]. Its mutations are targeted so that a
// concurrent lockout write can never undo a password change.
package credential
