package medauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventLoginRateLimited    = "login_rate_limited"
	auditEventAccountLocked       = "account_locked"
	auditEventLockoutExempted     = "lockout_exempted"
	auditEventStepUpRequired      = "step_up_required"
	auditEventTOTPSuccess         = "totp_success"
	auditEventTOTPFailure         = "totp_failure"
	auditEventWebAuthnSuccess     = "webauthn_success"
	auditEventWebAuthnFailure     = "webauthn_failure"
	auditEventRefreshSuccess      = "refresh_success"
	auditEventRefreshFailure      = "refresh_failure"
	auditEventRefreshRateLimited  = "refresh_rate_limited"
	auditEventAccessRotated       = "access_token_rotated"
	auditEventDeviceMismatch      = "device_mismatch"
	auditEventHijackDetected      = "session_hijack_detected"
	auditEventReplayDetected      = "fingerprint_replay_detected"
	auditEventSessionCreated      = "session_created"
	auditEventSessionInvalidated  = "session_invalidated"
	auditEventSessionSuperseded   = "session_superseded"
	auditEventLogout              = "logout"
	auditEventPasswordChanged     = "password_changed"
	auditEventPasswordChangeFail  = "password_change_failure"
	auditEventPasswordReuse       = "password_reuse_attempt"
	auditEventAnomalyDetected     = "anomaly_detected"
	auditEventAnomalySessionKill  = "anomaly_session_killed"
	auditEventAnomalyAlertSent    = "anomaly_alert_sent"
	auditEventSecretGuardWarning  = "secret_guard_warning"
	auditEventFingerprintSpoofing = "fingerprint_spoofing_suspected"
)

// AuditErrorCode is the compact machine-readable error tag recorded on
// failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenInvalid       AuditErrorCode = "token_invalid"
	auditErrTokenBlacklisted   AuditErrorCode = "token_blacklisted"
	auditErrSessionInvalid     AuditErrorCode = "session_invalid"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrDeviceMismatch     AuditErrorCode = "device_mismatch"
	auditErrReplay             AuditErrorCode = "replay_detected"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrMFAInvalid         AuditErrorCode = "mfa_invalid"
	auditErrMFAAttempts        AuditErrorCode = "mfa_attempts_exceeded"
	auditErrValidation         AuditErrorCode = "validation_failed"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	severity string,
	success bool,
	userID string,
	sessionID string,
	req RequestContext,
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
		Timestamp:         time.Now().UTC(),
		EventType:         eventType,
		Severity:          severity,
		UserID:            userID,
		SessionID:         sessionID,
		IP:                req.IP,
		DeviceFingerprint: req.ClientFingerprint,
		Success:           success,
		Metadata:          metadata,
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
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenBlacklisted):
		return auditErrTokenBlacklisted
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionInvalid):
		return auditErrSessionInvalid
	case errors.Is(err, ErrDeviceMismatch):
		return auditErrDeviceMismatch
	case errors.Is(err, ErrReplayDetected):
		return auditErrReplay
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrTOTPInvalid),
		errors.Is(err, ErrTOTPNotConfigured),
		errors.Is(err, ErrWebAuthnInvalid),
		errors.Is(err, ErrWebAuthnNotConfigured),
		errors.Is(err, ErrMFAChallengeInvalid),
		errors.Is(err, ErrMFAChallengeExpired):
		return auditErrMFAInvalid
	case errors.Is(err, ErrMFAChallengeAttempts):
		return auditErrMFAAttempts
	case errors.Is(err, ErrValidationFailed):
		return auditErrValidation
	default:
		return auditErrInternal
	}
}
