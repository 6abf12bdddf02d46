// Package redisstore implements the account, refresh token and pending
// session stores on Redis.
//
// Accounts are JSON documents mutated under WATCH with bounded retries.
// Refresh tokens are hashes updated by Lua scripts, so rotation and
// family revocation are single atomic steps on the server.
package redisstore
