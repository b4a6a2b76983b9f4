package tokamak

import (
	"context"
	"time"

	"github.com/tokamak-auth/tokamak/family"
	"github.com/tokamak-auth/tokamak/internal"
)

// issueNewFamily mints a fresh token family for the user: one family record,
// one live token, one signed access/refresh pair. The registry write happens
// before signing so a signing failure cannot leave an unregistered token in
// the wild; a leftover family with no issued token is harmless and expires.
func (e *Engine) issueNewFamily(ctx context.Context, user UserRecord) (TokenPair, error) {
	familyID := internal.NewFamilyID()
	tokenID := internal.NewTokenID()
	device := internal.NormalizeDevice(deviceInfoFromContext(ctx))

	fam := &family.Family{
		FamilyID:       familyID,
		UserID:         user.UserID,
		Email:          user.Email,
		Role:           user.Role,
		Device:         device,
		CurrentTokenID: tokenID,
		State:          family.StateActive,
		CreatedAt:      time.Now(),
	}
	if err := e.store.CreateFamily(ctx, fam); err != nil {
		return TokenPair{}, e.registryError(err)
	}

	pair, err := e.signPair(user.UserID, user.Email, user.Role, familyID, tokenID)
	if err != nil {
		// Best effort: retire the family we just created.
		_ = e.store.RevokeFamily(ctx, familyID)
		return TokenPair{}, err
	}

	e.metricInc(MetricTokenIssued)
	e.emitAudit(ctx, EventTokenIssued, true, auditRef{
		userID:   user.UserID,
		email:    user.Email,
		familyID: familyID,
		tokenID:  tokenID,
	}, nil, func() map[string]string {
		return map[string]string{"device": device}
	})

	return pair, nil
}

func (e *Engine) signPair(userID, email, role, familyID, tokenID string) (TokenPair, error) {
	access, err := e.tokens.SignAccess(userID, email, role)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := e.tokens.SignRefresh(userID, email, role, familyID, tokenID)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenID:      tokenID,
		FamilyID:     familyID,
	}, nil
}
