// Package internal contains helper utilities that are intentionally private to
// tokamak, including identifier minting and device-label normalization.
//
// # Sub-packages
//
//   - rate: Redis-backed fixed-window rate limiting for login and refresh.
package internal
