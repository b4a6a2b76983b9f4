package tokamak

import (
	"context"
	"errors"
	"strings"

	"github.com/tokamak-auth/tokamak/internal/rate"
)

// Register creates a new account and logs it in, returning the first token
// pair of the account's first family.
func (e *Engine) Register(ctx context.Context, email, plainPassword string) (*RegisterResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrValidation
	}

	hash, err := e.passwordHash.Hash(plainPassword)
	if err != nil {
		return nil, errors.Join(ErrValidation, err)
	}

	user, err := e.userProvider.CreateUser(ctx, CreateUserInput{
		Email:        email,
		PasswordHash: hash,
		Role:         "user",
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricRegisterDuplicate)
			return nil, ErrAccountExists
		}
		return nil, err
	}

	pair, err := e.issueNewFamily(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)

	return &RegisterResult{
		UserID: user.UserID,
		Email:  user.Email,
		Role:   user.Role,
		Tokens: pair,
	}, nil
}

// Login verifies credentials and mints a new token family. Unknown emails
// and wrong passwords are indistinguishable to the caller.
func (e *Engine) Login(ctx context.Context, email, plainPassword string) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" || plainPassword == "" {
		return TokenPair{}, ErrValidation
	}

	ip := clientIPFromContext(ctx)
	if err := e.rateLimiter.CheckLogin(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, EventSecurityAlert, false, auditRef{email: email}, ErrLoginRateLimited, func() map[string]string {
				return map[string]string{"reason": "LOGIN_RATE_LIMITED"}
			})
			return TokenPair{}, ErrLoginRateLimited
		}
		return TokenPair{}, errors.Join(ErrRegistryUnavailable, err)
	}

	user, err := e.userProvider.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return TokenPair{}, e.failLogin(ctx, email, ip)
		}
		return TokenPair{}, err
	}

	ok, err := e.passwordHash.Verify(plainPassword, user.PasswordHash)
	if err != nil || !ok {
		return TokenPair{}, e.failLogin(ctx, email, ip)
	}

	if err := e.rateLimiter.ResetLogin(ctx, email, ip); err != nil {
		return TokenPair{}, errors.Join(ErrRegistryUnavailable, err)
	}

	pair, err := e.issueNewFamily(ctx, user)
	if err != nil {
		return TokenPair{}, err
	}

	e.metricInc(MetricLoginSuccess)

	return pair, nil
}

// failLogin records a failed attempt and returns the uniform credentials
// error, escalating to the rate limit error when this attempt crossed the
// budget.
func (e *Engine) failLogin(ctx context.Context, email, ip string) error {
	e.metricInc(MetricLoginFailure)

	if err := e.rateLimiter.IncrementLogin(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			return ErrLoginRateLimited
		}
		return errors.Join(ErrRegistryUnavailable, err)
	}

	return ErrInvalidCredentials
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
