// Package internal holds helpers private to authcore: opaque token
// generation and lookup-key derivation.
//
// Sub-packages:
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - ids: sortable account identifiers
//   - limiters: lockout state machine and second-factor attempt throttle
//   - rate: Redis fixed-window counters for the per-client throttles
package internal
