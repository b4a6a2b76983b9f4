package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tokamak-auth/tokamak"
	"github.com/tokamak-auth/tokamak/middleware"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// DeviceInfo optionally names the client device; when absent the
	// User-Agent header is used instead.
	DeviceInfo string `json:"device_info"`
}

// deviceContext lets an explicit device_info field take precedence over the
// User-Agent picked up by the request middleware.
func deviceContext(r *http.Request, device string) context.Context {
	ctx := r.Context()
	if device != "" {
		ctx = tokamak.WithDeviceInfo(ctx, device)
	}
	return ctx
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := a.engine.Register(deviceContext(r, req.DeviceInfo), req.Email, req.Password)
	if err != nil {
		a.respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"user_id":       result.UserID,
		"email":         result.Email,
		"role":          result.Role,
		"access_token":  result.Tokens.AccessToken,
		"refresh_token": result.Tokens.RefreshToken,
		"token_id":      result.Tokens.TokenID,
		"family_id":     result.Tokens.FamilyID,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := a.engine.Login(deviceContext(r, req.DeviceInfo), req.Email, req.Password)
	if err != nil {
		a.respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := a.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, pair)
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	auth, err := a.engine.VerifyAccess(r.Context(), req.Token)
	if err != nil {
		// Verification is a query, not a gate: a bad token is a valid
		// answer, not an error.
		respondJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"data": map[string]any{
			"user_id":    auth.UserID,
			"email":      auth.Email,
			"role":       auth.Role,
			"expires_at": auth.ExpiresAt,
		},
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := a.engine.Logout(r.Context(), req.RefreshToken); err != nil {
		a.respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	count, err := a.engine.LogoutAll(r.Context(), auth.UserID)
	if err != nil {
		a.respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "logged_out",
		"sessions_revoked": count,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":    auth.UserID,
		"email":      auth.Email,
		"role":       auth.Role,
		"expires_at": auth.ExpiresAt,
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := a.engine.Sessions(r.Context(), auth.UserID)
	if err != nil {
		a.respondEngineError(w, err)
		return
	}
	if sessions == nil {
		sessions = []tokamak.SessionInfo{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	latency, err := a.engine.Ping(r.Context())
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "down"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"redis_rtt": latency.String(),
	})
}

// respondEngineError maps engine sentinels onto HTTP statuses. Refresh
// reuse intentionally shares the generic 401 body with any other invalid
// refresh token.
func (a *API) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tokamak.ErrValidation):
		respondError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, tokamak.ErrAccountExists):
		respondError(w, http.StatusConflict, "account already exists")
	case errors.Is(err, tokamak.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, tokamak.ErrRefreshReuse),
		errors.Is(err, tokamak.ErrRefreshInvalid):
		respondError(w, http.StatusUnauthorized, "invalid refresh token")
	case errors.Is(err, tokamak.ErrTokenInvalid),
		errors.Is(err, tokamak.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, tokamak.ErrLoginRateLimited),
		errors.Is(err, tokamak.ErrRefreshRateLimited):
		respondError(w, http.StatusTooManyRequests, "too many attempts")
	default:
		msg := "internal error"
		if a.opts.DevMode {
			msg = err.Error()
		}
		respondError(w, http.StatusInternalServerError, msg)
	}
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]any{"error": msg})
}
