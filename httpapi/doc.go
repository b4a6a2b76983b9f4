// Package httpapi exposes the token lifecycle engine over a JSON HTTP API.
//
// The handler set covers registration, login, refresh, logout and session
// introspection. Refresh failures are reported uniformly so a caller cannot
// distinguish an expired token from one that triggered reuse detection.
package httpapi
