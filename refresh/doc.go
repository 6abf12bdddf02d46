// Package refresh issues, rotates and revokes opaque refresh tokens.
//
// Every login starts a family. Rotation retires the presented token and
// inserts its successor in one conditional write, so a family never has two
// active members. Presenting a retired token again is treated as theft and
// revokes the whole family.
//
// Token values are 256 random bits and are never persisted: stores see only
// their SHA-256 lookup key. The package also owns pending second-factor
// sessions, which live in the same backend as the tokens.
//
// Persistence is behind [Store] and [PendingStore]; see store/redisstore and
// store/pgstore.
package refresh
