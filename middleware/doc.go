// Package middleware provides net/http middleware that authenticates
// requests with the engine's stateless access token verification.
package middleware
