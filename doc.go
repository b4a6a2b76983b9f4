// Package tokamak is an embeddable token lifecycle engine built around
// refresh token rotation with reuse detection.
//
// Every login mints a token family: one short-lived access JWT plus one
// refresh JWT that must be exchanged, not reused. Refreshing retires the
// presented token and issues a successor inside a single atomic registry
// operation; presenting a retired token compromises the entire family and
// kills every descendant token at once.
//
// The engine is storage-agnostic about users (bring a UserProvider) and
// keeps family state in Redis. Construct it with the builder:
//
//	eng, err := tokamak.New().
//		WithConfig(cfg).
//		WithRedis(client).
//		WithUserProvider(users).
//		Build()
package tokamak
