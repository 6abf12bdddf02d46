// Package rate provides the Redis fixed-window counters behind the
// per-client login throttle.
//
// Counters use INCR with an EXPIRE set on the first hit of a window, so every
// engine instance sharing the Redis deployment sees the same budget. Keys:
//   - alc: login failures per client address
//   - alr: registrations per client address
package rate
