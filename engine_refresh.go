package tokamak

import (
	"context"
	"errors"

	"github.com/tokamak-auth/tokamak/family"
	"github.com/tokamak-auth/tokamak/internal"
	"github.com/tokamak-auth/tokamak/internal/rate"
)

// Refresh exchanges a refresh token for a new access/refresh pair. The
// presented token is retired atomically with the issuance of its successor.
// Presenting a retired token compromises the whole family; callers receive
// [ErrRefreshReuse], which the HTTP layer deliberately reports as a plain
// invalid-token failure.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, EventRefreshFailed, false, auditRef{}, ErrRefreshInvalid, nil)
		return TokenPair{}, ErrRefreshInvalid
	}

	ref := auditRef{
		userID:   claims.UID,
		email:    claims.Email,
		familyID: claims.FID,
		tokenID:  claims.ID,
	}

	if err := e.rateLimiter.CheckRefresh(ctx, claims.FID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, EventRefreshFailed, false, ref, ErrRefreshRateLimited, nil)
			return TokenPair{}, ErrRefreshRateLimited
		}
		return TokenPair{}, errors.Join(ErrRegistryUnavailable, err)
	}

	nextID := internal.NewTokenID()
	fam, err := e.store.Rotate(ctx, claims.FID, claims.ID, nextID)
	if err != nil {
		return TokenPair{}, e.refreshFailure(ctx, ref, err)
	}

	pair, err := e.signPair(fam.UserID, fam.Email, fam.Role, fam.FamilyID, nextID)
	if err != nil {
		// The rotation committed; without a signed successor the family
		// is unusable, so retire it rather than strand it.
		_ = e.store.RevokeFamily(ctx, fam.FamilyID)
		e.metricInc(MetricRefreshFailure)
		return TokenPair{}, err
	}

	e.metricInc(MetricRefreshSuccess)
	ref.tokenID = nextID
	e.emitAudit(ctx, EventRefreshSuccess, true, ref, nil, func() map[string]string {
		return map[string]string{"retired_token_id": claims.ID}
	})

	return pair, nil
}

func (e *Engine) refreshFailure(ctx context.Context, ref auditRef, err error) error {
	e.metricInc(MetricRefreshFailure)

	switch {
	case errors.Is(err, family.ErrReuseDetected):
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricFamilyCompromised)
		e.emitAudit(ctx, EventSecurityAlert, false, ref, ErrRefreshReuse, func() map[string]string {
			return map[string]string{"reason": AlertPossibleTokenReuse}
		})
		e.emitAudit(ctx, EventRefreshFailed, false, ref, ErrRefreshReuse, nil)
		return ErrRefreshReuse
	case errors.Is(err, family.ErrFamilyCompromised):
		// The reuse alert fired when the family was first burned; later
		// presentations are just dead tokens.
		e.emitAudit(ctx, EventRefreshFailed, false, ref, ErrRefreshInvalid, nil)
		return ErrRefreshInvalid
	case errors.Is(err, family.ErrFamilyNotFound):
		e.emitAudit(ctx, EventRefreshFailed, false, ref, ErrRefreshInvalid, nil)
		return ErrRefreshInvalid
	default:
		e.emitAudit(ctx, EventRefreshFailed, false, ref, e.registryError(err), nil)
		return e.registryError(err)
	}
}
