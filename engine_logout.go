package medauth

import (
	"context"
	"errors"

	"github.com/avenlock/medauth/session"
	"github.com/avenlock/medauth/token"
)

// Logout invalidates the session backing the presented access token and
// blacklists both of its tokens. A token that no longer maps to a live
// session yields a failure result, not an error: logout of a dead session
// is not an incident.
func (e *Engine) Logout(ctx context.Context, accessToken string, req RequestContext) (*AuthResult, error) {
	if e == nil || e.tokens == nil {
		return failureResult(), ErrEngineNotReady
	}

	claims, err := e.tokens.Verify(ctx, accessToken, token.TypeAccess)
	if err != nil {
		// Expired or already blacklisted tokens cannot identify a live
		// session; there is nothing left to invalidate.
		return &AuthResult{Success: false, Message: "No active session"}, nil
	}

	sess, err := e.sessions.GetByAccessTokenID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return &AuthResult{Success: false, Message: "No active session"}, nil
		}
		return failureResult(), errInternal(err)
	}

	invalidated, err := e.sessions.Invalidate(ctx, sess, token.ReasonLogout)
	if err != nil {
		return failureResult(), errInternal(err)
	}
	if !invalidated {
		return &AuthResult{Success: false, Message: "No active session"}, nil
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventLogout, SeverityInfo, true, sess.UserID, sess.ID, req, nil, nil)

	return &AuthResult{
		Success:   true,
		Message:   "Logged out",
		SessionID: sess.ID,
		UserID:    sess.UserID,
	}, nil
}

// LogoutAll invalidates every session for the user. Used by administrative
// tooling and by password changes.
func (e *Engine) LogoutAll(ctx context.Context, userID string, req RequestContext) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrValidationFailed
	}

	count, err := e.sessions.InvalidateAll(ctx, userID, token.ReasonLogout)
	if err != nil {
		return 0, errInternal(err)
	}
	if count > 0 {
		e.metricInc(MetricSessionInvalidated)
		e.emitAudit(ctx, auditEventSessionInvalidated, SeverityInfo, true, userID, "", req, nil, nil)
	}
	return count, nil
}
