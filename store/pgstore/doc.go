// Package pgstore implements credential.Store, refresh.Store and
// refresh.PendingStore on PostgreSQL through pgx.
//
// Conditional writes (refresh rotation, backup code consumption, TOTP step
// advance, pending attempt counting) are single guarded statements or
// short transactions, so concurrent callers observe exactly one winner.
// Create the tables with Migrate or apply Schema by hand.
package pgstore
