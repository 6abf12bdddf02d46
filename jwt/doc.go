// Package jwt issues and verifies the short-lived access tokens handed out
// after authentication.
//
// Tokens carry the account id as sub, role and permission names, iat, exp
// and a random jti. Verification is stateless. Checks that need the account
// record, such as rejecting tokens minted before a password change, are the
// caller's job.
package jwt
