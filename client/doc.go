// Package client holds the caller side of the token lifecycle: a token
// store, a single-flight refresh coordinator and an http.RoundTripper that
// attaches the current access token.
//
// When several goroutines hit an expired access token at once, the
// coordinator collapses their renewals into a single refresh call so only
// one rotation reaches the server. Without this, the losers would present
// the retired refresh token and trip reuse detection.
package client
