package tokamak

import (
	"context"
	"errors"
	"strconv"

	"github.com/tokamak-auth/tokamak/family"
)

// Logout retires the family behind the presented refresh token. A token that
// no longer verifies or is already retired is treated as a successful
// logout; the caller's goal state is reached either way.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil
	}

	if err := e.store.RevokeFamily(ctx, claims.FID); err != nil {
		if errors.Is(err, family.ErrFamilyNotFound) {
			return nil
		}
		return e.registryError(err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, EventLogout, true, auditRef{
		userID:   claims.UID,
		email:    claims.Email,
		familyID: claims.FID,
		tokenID:  claims.ID,
	}, nil, nil)

	return nil
}

// LogoutAll ends every active session of a user and returns how many
// families were retired.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrValidation
	}

	count, err := e.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, e.registryError(err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, EventLogoutAll, true, auditRef{userID: userID}, nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.Itoa(count)}
	})

	return count, nil
}

// RevokeToken revokes one refresh token by its registry ID. Revoking the
// family's current token ends the family. Idempotent.
func (e *Engine) RevokeToken(ctx context.Context, tokenID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if tokenID == "" {
		return ErrValidation
	}

	if err := e.store.RevokeRecord(ctx, tokenID); err != nil {
		if errors.Is(err, family.ErrRecordNotFound) {
			return ErrRefreshInvalid
		}
		return e.registryError(err)
	}

	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, EventTokenRevoked, true, auditRef{tokenID: tokenID}, nil, nil)

	return nil
}

// RevokeFamily force-retires an entire family, for admin tooling and
// incident response.
func (e *Engine) RevokeFamily(ctx context.Context, familyID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if familyID == "" {
		return ErrValidation
	}

	if err := e.store.RevokeFamily(ctx, familyID); err != nil {
		if errors.Is(err, family.ErrFamilyNotFound) {
			return ErrRefreshInvalid
		}
		return e.registryError(err)
	}

	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, EventTokenRevoked, true, auditRef{familyID: familyID}, nil, nil)

	return nil
}
