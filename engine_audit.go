package tokamak

import (
	"context"
	"errors"
	"time"
)

// Audit event types. These names are a wire contract for downstream
// consumers; treat them as stable.
const (
	EventTokenIssued    = "TOKEN_ISSUED"
	EventRefreshSuccess = "TOKEN_REFRESH_SUCCESS"
	EventRefreshFailed  = "TOKEN_REFRESH_FAILED"
	EventTokenRevoked   = "TOKEN_REVOKED"
	EventSecurityAlert  = "SECURITY_ALERT"
	EventLogout         = "LOGOUT"
	EventLogoutAll      = "LOGOUT_ALL"
)

// AlertPossibleTokenReuse is the reason attached to the SECURITY_ALERT
// event emitted when reuse detection trips.
const AlertPossibleTokenReuse = "POSSIBLE_TOKEN_REUSE_ATTACK"

// AuditErrorCode is the normalized error label recorded on audit events.
type AuditErrorCode string

const (
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrFamilyNotFound     AuditErrorCode = "family_not_found"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

type auditRef struct {
	userID   string
	email    string
	familyID string
	tokenID  string
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	ref auditRef,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    ref.userID,
		Email:     ref.email,
		FamilyID:  ref.familyID,
		TokenID:   ref.tokenID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrRegistryUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
