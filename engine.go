package tokamak

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tokamak-auth/tokamak/family"
	"github.com/tokamak-auth/tokamak/internal/rate"
	"github.com/tokamak-auth/tokamak/password"
	"github.com/tokamak-auth/tokamak/token"
)

// Engine is the token lifecycle engine. Build it once with [New] and share
// it; all methods are safe for concurrent use.
type Engine struct {
	config       Config
	store        family.Store
	tokens       *token.Manager
	passwordHash *password.Hasher
	rateLimiter  *rate.Limiter
	userProvider UserProvider
	audit        *auditDispatcher
	metrics      *Metrics

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
	closeOnce sync.Once
}

// VerifyAccess statelessly verifies an access token and returns the
// authenticated identity.
func (e *Engine) VerifyAccess(ctx context.Context, accessToken string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.tokens.ParseAccess(accessToken)
	e.metricObserve(MetricVerifyLatency, time.Since(start))
	if err != nil {
		return nil, ErrTokenInvalid
	}

	result := &AuthResult{
		UserID: claims.UID,
		Email:  claims.Email,
		Role:   claims.Role,
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}

	return result, nil
}

// Sessions lists the caller's active token families.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrValidation
	}

	sessions, err := e.store.ActiveSessions(ctx, userID)
	if err != nil {
		return nil, e.registryError(err)
	}

	return sessions, nil
}

// Ping checks registry availability and reports round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	latency, err := e.store.Ping(ctx)
	if err != nil {
		return latency, e.registryError(err)
	}

	return latency, nil
}

// Close stops the background sweeper and drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.sweepStop != nil {
			close(e.sweepStop)
			e.sweepWG.Wait()
		}
		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine's counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

func (e *Engine) registryError(err error) error {
	if errors.Is(err, family.ErrStoreUnavailable) {
		return errors.Join(ErrRegistryUnavailable, err)
	}
	return err
}

func (e *Engine) startSweeper(interval time.Duration) {
	e.sweepStop = make(chan struct{})
	e.sweepWG.Add(1)

	go func() {
		defer e.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				// Sweep failures are transient; the next tick retries.
				_, _ = e.store.Sweep(context.Background())
			case <-e.sweepStop:
				return
			}
		}
	}()
}
