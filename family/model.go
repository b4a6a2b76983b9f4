package family

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a token family.
type State string

const (
	// StateActive means the family can still rotate tokens.
	StateActive State = "active"
	// StateRevoked means the family was ended deliberately (logout,
	// admin revocation). Its tokens no longer refresh.
	StateRevoked State = "revoked"
	// StateCompromised means token reuse was detected. Terminal.
	StateCompromised State = "compromised"
)

// ParseState converts a stored state string back to a [State].
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateActive, StateRevoked, StateCompromised:
		return State(s), nil
	default:
		return "", fmt.Errorf("unknown family state %q", s)
	}
}

// CanTransition reports whether the state machine permits moving to next.
// Compromised is terminal; a revoked family can still be escalated to
// compromised when one of its tokens is presented again.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateActive:
		return next == StateRevoked || next == StateCompromised
	case StateRevoked:
		return next == StateCompromised
	default:
		return false
	}
}

func (s State) String() string { return string(s) }

// Family is one refresh lineage: the chain of tokens descending from a
// single login. Exactly one token is current at any time.
type Family struct {
	FamilyID       string
	UserID         string
	Email          string
	Role           string
	Device         string
	CurrentTokenID string
	State          State
	CreatedAt      time.Time
}

// Record is the registry entry for a single refresh token.
type Record struct {
	TokenID  string
	FamilyID string
	UserID   string
	Email    string
	Device   string
	IssuedAt time.Time
	Revoked  bool
}

// SessionInfo is the user-facing view of one active family. TokenID names
// the family's current refresh token so a caller can target a single-record
// revoke; no token material is included.
type SessionInfo struct {
	TokenID   string    `json:"token_id"`
	FamilyID  string    `json:"family_id"`
	Device    string    `json:"device"`
	IssuedAt  time.Time `json:"issued_at"`
	CreatedAt time.Time `json:"created_at"`
}
