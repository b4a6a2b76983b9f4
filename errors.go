package tokamak

import "errors"

var (
	// ErrValidation marks malformed input (empty email, short password).
	ErrValidation = errors.New("invalid request")
	// ErrInvalidCredentials is returned when the email or password is wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountExists is returned by Register for a taken email.
	ErrAccountExists = errors.New("account already exists")
	// ErrUserNotFound is returned when a user lookup comes back empty.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnauthorized covers access token verification failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenInvalid is returned for malformed or unverifiable access tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrRefreshInvalid is returned for refresh tokens that do not verify or
	// whose family no longer exists.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is returned when a retired refresh token is presented.
	// The family has already been compromised when callers see this.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrLoginRateLimited is returned when the failed login budget for an
	// (ip, email) pair is exhausted.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned when a family refreshes too often.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrEngineNotReady is returned by operations on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrRegistryUnavailable wraps registry backend failures.
	ErrRegistryUnavailable = errors.New("token registry unavailable")
)
