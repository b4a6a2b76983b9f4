// Package rate provides internal primitives used to build Redis-backed rate
// limit keys, errors, and limiter behavior for security-sensitive
// authentication workflows.
//
// # Window semantics
//
// Counters use fixed windows: the first increment in a window sets the TTL,
// subsequent increments ride the same expiry. Login failures are counted per
// (ip, email) pair; refresh attempts per token family.
package rate
