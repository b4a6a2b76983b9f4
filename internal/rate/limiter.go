package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableLoginThrottle   bool
	MaxLoginAttempts      int
	LoginWindow           time.Duration
	EnableRefreshThrottle bool
	MaxRefreshAttempts    int
	RefreshWindow         time.Duration
}

// Limiter enforces per-(ip,email) login budgets and per-family refresh
// budgets using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func loginKey(ip, email string) string {
	if ip == "" {
		ip = "-"
	}
	return "tkl:" + ip + ":" + email
}

func refreshKey(familyID string) string {
	return "tkr:" + familyID
}

// CheckLogin reports whether the (ip, email) pair is still within its failed
// login budget. Returns [ErrRateLimited] once the budget is exhausted.
func (l *Limiter) CheckLogin(ctx context.Context, email, ip string) error {
	if !l.config.EnableLoginThrottle {
		return nil
	}

	count, err := l.redis.Get(ctx, loginKey(ip, email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	return nil
}

// IncrementLogin records a failed login attempt for the (ip, email) pair.
// Returns [ErrRateLimited] when the attempt crosses the budget.
func (l *Limiter) IncrementLogin(ctx context.Context, email, ip string) error {
	if !l.config.EnableLoginThrottle {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, loginKey(ip, email), l.config.LoginWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	return nil
}

// ResetLogin clears the failed-login counter after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, email, ip string) error {
	if !l.config.EnableLoginThrottle {
		return nil
	}

	if err := l.redis.Del(ctx, loginKey(ip, email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// CheckRefresh enforces the per-family refresh budget by incrementing the
// counter and applying the window TTL.
func (l *Limiter) CheckRefresh(ctx context.Context, familyID string) error {
	if !l.config.EnableRefreshThrottle {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, refreshKey(familyID), l.config.RefreshWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}

	return nil
}

// LoginAttempts returns the current failure counter for an (ip, email) pair.
// Missing keys return zero and do not reveal account existence.
func (l *Limiter) LoginAttempts(ctx context.Context, email, ip string) (int, error) {
	count, err := l.redis.Get(ctx, loginKey(ip, email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
