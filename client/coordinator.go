package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnauthorized is returned by a call function to signal that the
	// server rejected the access token and a renewal should be attempted.
	ErrUnauthorized = errors.New("client: unauthorized")

	// ErrReauthenticate means the stored refresh token no longer works.
	// The tokens have been cleared; the user must log in again.
	ErrReauthenticate = errors.New("client: reauthentication required")

	// ErrNoTokens means the store holds no token pair yet.
	ErrNoTokens = errors.New("client: no tokens stored")
)

const defaultRenewTimeout = 10 * time.Second

// TokenPair is the client-side copy of an access/refresh pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenStore persists the current pair between calls.
type TokenStore interface {
	Load(ctx context.Context) (TokenPair, error)
	Save(ctx context.Context, pair TokenPair) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the pair in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	pair TokenPair
	set  bool
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load(context.Context) (TokenPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return TokenPair{}, ErrNoTokens
	}
	return s.pair, nil
}

func (s *MemoryStore) Save(_ context.Context, pair TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = pair
	s.set = true
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = TokenPair{}
	s.set = false
	return nil
}

// RenewFunc exchanges a refresh token for a new pair, typically by calling
// the server's refresh endpoint.
type RenewFunc func(ctx context.Context, refreshToken string) (TokenPair, error)

// Coordinator serializes token renewal across concurrent callers.
type Coordinator struct {
	store TokenStore
	renew RenewFunc

	renewTimeout time.Duration
	group        singleflight.Group
}

// Config tunes the coordinator.
type Config struct {
	// RenewTimeout bounds the detached renewal call. Zero means 10 seconds.
	RenewTimeout time.Duration
}

func NewCoordinator(store TokenStore, renew RenewFunc, cfg Config) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("client: token store is required")
	}
	if renew == nil {
		return nil, errors.New("client: renew func is required")
	}
	if cfg.RenewTimeout <= 0 {
		cfg.RenewTimeout = defaultRenewTimeout
	}
	return &Coordinator{
		store:        store,
		renew:        renew,
		renewTimeout: cfg.RenewTimeout,
	}, nil
}

// SetTokens installs a fresh pair, typically after login.
func (c *Coordinator) SetTokens(ctx context.Context, pair TokenPair) error {
	return c.store.Save(ctx, pair)
}

// AccessToken returns the current access token without triggering renewal.
func (c *Coordinator) AccessToken(ctx context.Context) (string, error) {
	pair, err := c.store.Load(ctx)
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

// Do runs call with the current access token. If call reports
// ErrUnauthorized the coordinator renews the pair once and retries.
// Concurrent retries share a single renewal.
func (c *Coordinator) Do(ctx context.Context, call func(ctx context.Context, accessToken string) error) error {
	pair, err := c.store.Load(ctx)
	if err != nil {
		return err
	}

	err = call(ctx, pair.AccessToken)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	renewed, err := c.Renew(ctx, pair.AccessToken)
	if err != nil {
		return err
	}

	return call(ctx, renewed.AccessToken)
}

// Renew exchanges the stored refresh token for a new pair. staleAccess is
// the access token the caller just failed with; if the store already holds
// a different one, another caller renewed first and that pair is returned
// as is.
//
// The refresh call itself runs on a detached context so the first caller
// cancelling does not abort a renewal other callers are waiting on.
func (c *Coordinator) Renew(ctx context.Context, staleAccess string) (TokenPair, error) {
	v, err, _ := c.group.Do("renew", func() (any, error) {
		current, err := c.store.Load(ctx)
		if err != nil {
			return TokenPair{}, err
		}
		if current.AccessToken != staleAccess {
			// Already renewed by the flight we just missed.
			return current, nil
		}

		renewCtx, cancel := context.WithTimeout(context.Background(), c.renewTimeout)
		defer cancel()

		renewed, err := c.renew(renewCtx, current.RefreshToken)
		if err != nil {
			// The refresh token is spent or revoked. Clear the pair so
			// later calls fail fast instead of replaying a dead token.
			_ = c.store.Clear(ctx)
			return TokenPair{}, errors.Join(ErrReauthenticate, err)
		}

		if err := c.store.Save(ctx, renewed); err != nil {
			return TokenPair{}, err
		}
		return renewed, nil
	})
	if err != nil {
		return TokenPair{}, err
	}
	return v.(TokenPair), nil
}
