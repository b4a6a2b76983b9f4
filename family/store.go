package family

import (
	"context"
	"errors"
	"time"
)

// ErrFamilyNotFound is returned when the referenced family does not exist
// or has expired out of the registry.
var ErrFamilyNotFound = errors.New("token family not found")

// ErrFamilyCompromised is returned when an operation targets a family that
// reuse detection already burned.
var ErrFamilyCompromised = errors.New("token family compromised")

// ErrReuseDetected is returned by Rotate when the presented token is not the
// family's current token. The family has been compromised as a side effect.
var ErrReuseDetected = errors.New("refresh token reuse detected")

// ErrRecordNotFound is returned when a token record does not exist.
var ErrRecordNotFound = errors.New("token record not found")

// ErrStoreUnavailable wraps backend transport failures.
var ErrStoreUnavailable = errors.New("registry store unavailable")

// Store is the token family registry. Implementations must make Rotate
// atomic: two concurrent rotations presenting the same token must resolve
// to exactly one winner, with the loser observing reuse.
type Store interface {
	// CreateFamily persists a new family together with its first token
	// record. All-or-nothing.
	CreateFamily(ctx context.Context, fam *Family) error

	// Rotate verifies that presentedID is the family's current token and
	// atomically replaces it with nextID. On success the returned Family
	// reflects the post-rotation state. A stale presented token returns
	// ErrReuseDetected after compromising the family and revoking every
	// outstanding record in it.
	Rotate(ctx context.Context, familyID, presentedID, nextID string) (*Family, error)

	GetFamily(ctx context.Context, familyID string) (*Family, error)
	GetRecord(ctx context.Context, tokenID string) (*Record, error)

	// RevokeRecord marks a single token revoked. When the token is the
	// family's current one the family moves to revoked as well.
	// Idempotent.
	RevokeRecord(ctx context.Context, tokenID string) error

	// RevokeFamily ends a family deliberately, revoking all of its
	// outstanding records. A compromised family stays compromised.
	RevokeFamily(ctx context.Context, familyID string) error

	// Compromise force-marks a family compromised and revokes all of its
	// records.
	Compromise(ctx context.Context, familyID string) error

	// RevokeAllForUser revokes every active family of a user and returns
	// how many families were ended.
	RevokeAllForUser(ctx context.Context, userID string) (int, error)

	// ActiveSessions lists the user's families that are still active.
	ActiveSessions(ctx context.Context, userID string) ([]SessionInfo, error)

	// Sweep drops index entries whose backing family has expired.
	// O(n) over the keyspace; run it from a background loop, not a
	// request path.
	Sweep(ctx context.Context) (int, error)

	// Ping checks backend availability and reports round-trip latency.
	Ping(ctx context.Context) (time.Duration, error)
}
