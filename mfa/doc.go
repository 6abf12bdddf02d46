// Package mfa implements the second-factor primitives: RFC 6238 time-based
// one-time codes and single-use backup codes.
//
// The package holds no state. Replay protection and single-use enforcement
// need durable storage and are applied by the caller using the step numbers
// and digests returned here.
package mfa
