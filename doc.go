// Package authcore is a session and credential security core: password
// hashing, account lockout, TOTP and backup-code second factors, signed
// access tokens, and rotating refresh tokens grouped into families with
// reuse detection.
//
// # Architecture boundaries
//
// [Engine] composes the sub-packages and owns every operation a transport
// exposes (register, login, second factor, refresh, logout, password and
// MFA management, session listing). Persistence sits behind
// [credential.Store], [refresh.Store] and [refresh.PendingStore];
// store/redisstore and store/pgstore implement them.
//
// # What this package does NOT do
//
//   - Parse HTTP requests (see middleware and examples/http-demo).
//   - Deliver email. Notifications go to the [Notifier] collaborator and
//     never fail the operation that triggered them.
//   - Return infrastructure detail. Faults are logged and reported as
//     [ErrUnavailable].
package authcore
