package tokamak

import (
	"context"
	"time"

	"github.com/tokamak-auth/tokamak/family"
)

// UserRecord is the account record returned by a [UserProvider].
type UserRecord struct {
	UserID       string
	Email        string
	Role         string
	PasswordHash string
}

// CreateUserInput is the input for [UserProvider.CreateUser].
type CreateUserInput struct {
	Email        string
	PasswordHash string
	Role         string
}

// UserProvider is the interface callers implement to integrate the engine
// with their user database. CreateUser must fail with a duplicate error when
// the email is already taken; the engine maps that to [ErrAccountExists].
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
}

// TokenPair is one issued access/refresh pair. TokenID and FamilyID identify
// the refresh token in the registry.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenID      string `json:"-"`
	FamilyID     string `json:"-"`
}

// AuthResult is returned by [Engine.VerifyAccess].
type AuthResult struct {
	UserID    string
	Email     string
	Role      string
	ExpiresAt time.Time
}

// RegisterResult is returned by [Engine.Register].
type RegisterResult struct {
	UserID string
	Email  string
	Role   string
	Tokens TokenPair
}

// SessionInfo is the user-facing view of one active token family.
type SessionInfo = family.SessionInfo
