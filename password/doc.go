// Package password hashes and verifies account passwords with Argon2id and
// enforces the strength policy applied at registration and password change.
//
// Digests use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Salt and hash are unpadded standard base64. [Hasher.NeedsUpgrade] reports
// digests produced with weaker parameters than the current configuration.
//
// The package is stateless. It never stores or logs plaintext.
package password
