// Package middleware adapts the engine to net/http.
//
//   - [ClientMetadata] copies the client IP and User-Agent into the request
//     context so logins and refreshes can fingerprint the device.
//   - [Guard] verifies the bearer access token through Engine.ValidateAccess
//     and stores the result in the request context.
//   - [RequirePermission] and [RequireRole] authorize a route against the
//     result Guard stored.
//
// The package makes no authentication decisions of its own.
package middleware
