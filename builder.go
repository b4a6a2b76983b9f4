package tokamak

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/tokamak-auth/tokamak/family"
	"github.com/tokamak-auth/tokamak/internal/rate"
	"github.com/tokamak-auth/tokamak/password"
	"github.com/tokamak-auth/tokamak/token"
)

// Builder assembles an [Engine]. Builders are single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  family.Store

	userProvider UserProvider
	auditSink    AuditSink

	built bool
}

// New starts a builder with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder's configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing the token registry and rate
// limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore overrides the registry with a custom [family.Store]
// implementation. When set, Redis is only needed if throttling is enabled.
func (b *Builder) WithStore(store family.Store) *Builder {
	b.store = store
	return b
}

// WithUserProvider sets the user database integration. Required.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithAuditSink sets the audit event destination.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates configuration, wires the components, and returns an
// immutable [Engine].
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	throttling := cfg.Security.EnableLoginThrottle || cfg.Security.EnableRefreshThrottle
	if b.redis == nil && (b.store == nil || throttling) {
		return nil, errors.New("redis client required")
	}

	store := b.store
	if store == nil {
		var err error
		store, err = family.NewRedisStore(b.redis, family.RedisConfig{
			Prefix:         cfg.Family.RedisPrefix,
			RefreshTTL:     cfg.JWT.RefreshTTL,
			RetentionGrace: cfg.Family.RetentionGrace,
		})
		if err != nil {
			return nil, err
		}
	}

	tm, err := token.NewManager(token.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: token.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
	})
	if err != nil {
		return nil, err
	}

	ph, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       cfg,
		store:        store,
		tokens:       tm,
		passwordHash: ph,
		userProvider: b.userProvider,
	}

	engine.rateLimiter = rate.New(b.redis, rate.Config{
		EnableLoginThrottle:   cfg.Security.EnableLoginThrottle,
		MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
		LoginWindow:           cfg.Security.LoginCooldown,
		EnableRefreshThrottle: cfg.Security.EnableRefreshThrottle,
		MaxRefreshAttempts:    cfg.Security.MaxRefreshAttempts,
		RefreshWindow:         cfg.Security.RefreshCooldown,
	})
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	if cfg.Family.SweepInterval > 0 {
		engine.startSweeper(cfg.Family.SweepInterval)
	}

	b.built = true

	return engine, nil
}
