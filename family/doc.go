// Package family tracks refresh token families and the rotation protocol
// built on them.
//
// Every login creates a family with exactly one live token. Each refresh
// atomically retires the presented token and installs its successor; a
// presented token that is not the family's current one is treated as reuse
// and compromises the whole family. All state transitions run inside Redis
// Lua scripts so concurrent refreshes cannot observe intermediate states.
package family
