// Package limiters holds the account-scoped attempt controls.
//
//   - [Guard] is the lockout state machine. It is pure: state lives on the
//     account record and the caller persists whatever Guard returns.
//   - [SecondFactorLimiter] caps failed second-factor attempts per account
//     across pending sessions with a Redis fixed-window counter.
//
// Both are keyed by account id, never by client address.
package limiters
