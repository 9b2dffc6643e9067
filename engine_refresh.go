package medauth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/avenlock/medauth/fingerprint"
	"github.com/avenlock/medauth/internal/rate"
	"github.com/avenlock/medauth/session"
	"github.com/avenlock/medauth/token"
)

// rotationMarkerWindow bounds the race between concurrent proactive
// rotation attempts for the same access token.
const rotationMarkerWindow = 10 * time.Second

// RefreshToken exchanges a valid refresh token for a fresh token pair. The
// session's device binding is re-validated first: a mismatched or hijacked
// device kills the session outright rather than just refusing the refresh.
func (e *Engine) RefreshToken(ctx context.Context, refreshToken string, req RequestContext) (*AuthResult, error) {
	if e == nil || e.tokens == nil {
		return failureResult(), ErrEngineNotReady
	}

	claims, err := e.tokens.Verify(ctx, refreshToken, token.TypeRefresh)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		mapped := mapTokenError(err)
		e.emitAudit(ctx, auditEventRefreshFailure, SeverityInfo, false, "", "", req, mapped, nil)
		return failureResult(), mapped
	}

	sess, err := e.sessions.GetByRefreshTokenID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshFailure, SeverityWarning, false, claims.UserID, "", req, ErrSessionNotFound, nil)
			return failureResult(), ErrSessionNotFound
		}
		return failureResult(), errInternal(err)
	}

	if err := e.limiter.CheckRefresh(ctx, sess.ID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, SeverityWarning, false, sess.UserID, sess.ID, req, ErrRefreshRateLimited, nil)
			return failureResult(), ErrRefreshRateLimited
		}
		return failureResult(), errInternal(err)
	}

	now := time.Now()
	if sess.UserID != claims.UserID || !sess.RefreshAlive(now) {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, SeverityWarning, false, sess.UserID, sess.ID, req, ErrSessionInvalid, nil)
		return failureResult(), ErrSessionInvalid
	}

	current := e.requestFingerprint(req)
	validation, err := e.fingerprints.ValidateSession(ctx, fingerprintAttributes(req),
		req.ClientFingerprint, sess.Fingerprint, sess.FPComponents,
		fingerprint.Options{EnforceReplay: true})
	if err != nil {
		return failureResult(), errInternal(err)
	}
	if !validation.Valid {
		return failureResult(), e.rejectDeviceBinding(ctx, sess, req, validation)
	}

	def, ok := e.roleDefinitionByName(sess.Role)
	if !ok {
		return failureResult(), ErrSessionInvalid
	}

	payload := token.Payload{
		UserID:      sess.UserID,
		Role:        sess.Role,
		Permissions: def.Permissions,
	}
	access, err := e.tokens.Issue(payload, token.TypeAccess)
	if err != nil {
		return failureResult(), errInternal(err)
	}
	refresh, err := e.tokens.Issue(payload, token.TypeRefresh)
	if err != nil {
		return failureResult(), errInternal(err)
	}

	lastActivity := time.Unix(sess.LastActivity, 0)
	oldAccessID := sess.AccessTokenID
	oldRefreshID := sess.RefreshTokenID

	updated := *sess
	updated.AccessTokenID = access.ID
	updated.RefreshTokenID = refresh.ID
	updated.LastActivity = now.Unix()
	updated.ExpiresAt = access.ExpiresAt.Unix()
	updated.RefreshExpiresAt = refresh.ExpiresAt.Unix()

	if err := e.sessions.RotateTokens(ctx, &updated, oldAccessID, oldRefreshID, token.ReasonRefreshRotation); err != nil {
		return failureResult(), errInternal(err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, SeverityInfo, true, sess.UserID, sess.ID, req, nil, nil)

	e.submitTokenUseAssessment(updated, req, current.Components.Encode(), now, lastActivity)

	return &AuthResult{
		Success:          true,
		Message:          "Token refreshed",
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		ExpiresIn:        access.ExpiresIn,
		RefreshExpiresIn: refresh.ExpiresIn,
		SessionID:        sess.ID,
		UserID:           sess.UserID,
		Role:             sess.Role,
	}, nil
}

// RotateAccessToken proactively replaces an access token once its remaining
// lifetime falls inside the rotation window. When concurrent requests race,
// exactly one rotates; the others keep the original token, which stays
// valid until its natural expiry.
func (e *Engine) RotateAccessToken(ctx context.Context, accessToken string, req RequestContext) (*AuthResult, error) {
	if e == nil || e.tokens == nil {
		return failureResult(), ErrEngineNotReady
	}

	claims, sess, err := e.VerifyAccessToken(ctx, accessToken)
	if err != nil {
		return failureResult(), err
	}

	now := time.Now()
	remaining := claims.ExpiresAt.Time.Sub(now)
	if remaining > e.config.Token.RotateWithin {
		e.metricInc(MetricRotationSkipped)
		return &AuthResult{
			Success:     true,
			Message:     "Rotation not due",
			AccessToken: accessToken,
			ExpiresIn:   int64(remaining.Seconds()),
			SessionID:   sess.ID,
			UserID:      sess.UserID,
			Role:        sess.Role,
		}, nil
	}

	alreadyRotated, err := e.markers.RecentlyRotated(ctx, claims.ID, rotationMarkerWindow)
	if err != nil {
		return failureResult(), errInternal(err)
	}
	if alreadyRotated {
		// A concurrent request won the rotation. Keep the original token;
		// it remains usable until expiry.
		e.metricInc(MetricRotationSkipped)
		return &AuthResult{
			Success:     true,
			Message:     "Rotation already in progress",
			AccessToken: accessToken,
			ExpiresIn:   int64(remaining.Seconds()),
			SessionID:   sess.ID,
			UserID:      sess.UserID,
			Role:        sess.Role,
		}, nil
	}

	access, err := e.tokens.Issue(token.Payload{
		UserID:      claims.UserID,
		Role:        claims.Role,
		Permissions: claims.Permissions,
	}, token.TypeAccess)
	if err != nil {
		return failureResult(), errInternal(err)
	}

	oldAccessID := sess.AccessTokenID
	updated := *sess
	updated.AccessTokenID = access.ID
	updated.LastActivity = now.Unix()
	updated.ExpiresAt = access.ExpiresAt.Unix()

	if err := e.sessions.SwapAccessToken(ctx, &updated, oldAccessID, token.ReasonRotation); err != nil {
		return failureResult(), errInternal(err)
	}

	e.metricInc(MetricAccessRotated)
	e.emitAudit(ctx, auditEventAccessRotated, SeverityInfo, true, sess.UserID, sess.ID, req, nil, nil)

	return &AuthResult{
		Success:     true,
		Message:     "Access token rotated",
		AccessToken: access.Token,
		ExpiresIn:   access.ExpiresIn,
		SessionID:   sess.ID,
		UserID:      sess.UserID,
		Role:        sess.Role,
	}, nil
}

// rejectDeviceBinding kills the session and maps the validation outcome to
// the caller-facing error.
func (e *Engine) rejectDeviceBinding(ctx context.Context, sess *session.Session, req RequestContext, v fingerprint.Validation) error {
	if _, err := e.sessions.Invalidate(ctx, sess, token.ReasonSecurityViolation); err != nil {
		return errInternal(err)
	}
	e.metricInc(MetricSessionInvalidated)

	switch {
	case v.Classification == fingerprint.ClassificationHijack:
		e.metricInc(MetricHijackDetected)
		e.emitAudit(ctx, auditEventHijackDetected, SeverityCritical, false, sess.UserID, sess.ID, req, ErrSessionInvalid, func() map[string]string {
			return map[string]string{"similarity": formatSimilarity(v.Similarity)}
		})
		return ErrSessionInvalid
	case v.Reason == fingerprint.ReasonReplay:
		e.metricInc(MetricReplayDetected)
		e.emitAudit(ctx, auditEventReplayDetected, SeverityHigh, false, sess.UserID, sess.ID, req, ErrReplayDetected, nil)
		return ErrReplayDetected
	case v.Reason == fingerprint.ReasonPublicHash:
		e.metricInc(MetricDeviceMismatch)
		e.emitAudit(ctx, auditEventFingerprintSpoofing, SeverityHigh, false, sess.UserID, sess.ID, req, ErrDeviceMismatch, nil)
		return ErrDeviceMismatch
	default:
		e.metricInc(MetricDeviceMismatch)
		e.emitAudit(ctx, auditEventDeviceMismatch, SeverityWarning, false, sess.UserID, sess.ID, req, ErrDeviceMismatch, func() map[string]string {
			return map[string]string{"similarity": formatSimilarity(v.Similarity)}
		})
		return ErrDeviceMismatch
	}
}

func (e *Engine) roleDefinitionByName(name string) (RoleDefinition, bool) {
	for _, def := range e.config.Roles {
		if def.Name == name {
			return def, true
		}
	}
	return RoleDefinition{}, false
}

func fingerprintAttributes(req RequestContext) fingerprint.Attributes {
	return fingerprint.Attributes{
		IP:                 req.IP,
		UserAgent:          req.UserAgent,
		AcceptLanguage:     req.AcceptLanguage,
		AcceptEncoding:     req.AcceptEncoding,
		ClientHintPlatform: req.ClientHintPlatform,
		ClientHintMobile:   req.ClientHintMobile,
		ClientHintVendor:   req.ClientHintVendor,
	}
}

func formatSimilarity(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
