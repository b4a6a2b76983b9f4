// Package token signs and verifies the two JWT kinds the engine issues.
//
// Access tokens are short lived and verified statelessly. Refresh tokens
// additionally carry the family ID and a unique token ID (jti) so the
// registry can enforce single-use rotation. Both kinds are signed with
// ed25519 or HS256; ed25519 supports key rotation through a kid header
// and a verify key set.
package token
