package medauth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/avenlock/medauth/token"
)

const passwordRejectedMessage = "Password not accepted"

// ChangePassword verifies the current password, enforces the reuse policy
// against retained history, installs the new hash, and invalidates every
// session for the user. The caller must re-authenticate afterwards.
//
// A reuse rejection is deliberately indistinguishable from a policy
// rejection at the API boundary; revealing which historical password
// matched would leak the very secret history exists to protect.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, req RequestContext) (*AuthResult, error) {
	if e == nil || e.userProvider == nil {
		return failureResult(), ErrEngineNotReady
	}
	if userID == "" || currentPassword == "" || newPassword == "" {
		return &AuthResult{Success: false, Message: passwordRejectedMessage}, ErrValidationFailed
	}
	if len(newPassword) < e.config.Password.MinLength {
		return &AuthResult{Success: false, Message: passwordRejectedMessage}, ErrValidationFailed
	}

	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrProviderUserNotFound) {
			return failureResult(), ErrInvalidCredentials
		}
		return failureResult(), errInternal(err)
	}

	ok, err := e.hasher.Verify(currentPassword, user.PasswordHash, user.Salt)
	if err != nil {
		return failureResult(), errInternal(err)
	}
	if !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeFail, SeverityInfo, false, userID, "", req, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "invalid_current_password"}
		})
		return failureResult(), ErrInvalidCredentials
	}

	reused, err := e.passwordReused(ctx, user, newPassword)
	if err != nil {
		return failureResult(), errInternal(err)
	}
	if reused {
		e.metricInc(MetricPasswordReuseRejected)
		e.emitAudit(ctx, auditEventPasswordReuse, SeverityWarning, false, userID, "", req, ErrPasswordReuse, func() map[string]string {
			return map[string]string{"history_depth": strconv.Itoa(e.config.Password.HistoryDepth)}
		})
		return &AuthResult{Success: false, Message: passwordRejectedMessage}, ErrPasswordReuse
	}

	newHash, err := e.hasher.Hash(newPassword, user.Salt)
	if err != nil {
		return failureResult(), errInternal(err)
	}

	if err := e.userProvider.UpdatePasswordHash(ctx, userID, newHash); err != nil {
		return failureResult(), errInternal(err)
	}
	// The superseded hash enters history; the new one is covered by the
	// current-hash check until the next change retires it in turn.
	if err := e.userProvider.AppendPasswordHistory(ctx, PasswordHistoryEntry{
		UserID:    userID,
		Hash:      user.PasswordHash,
		CreatedAt: time.Now(),
	}); err != nil {
		return failureResult(), errInternal(err)
	}

	invalidated, err := e.sessions.InvalidateAll(ctx, userID, token.ReasonPasswordChange)
	if err != nil {
		return failureResult(), errInternal(err)
	}
	if invalidated > 0 {
		e.metricInc(MetricSessionInvalidated)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChanged, SeverityInfo, true, userID, "", req, nil, func() map[string]string {
		return map[string]string{"sessions_invalidated": strconv.Itoa(invalidated)}
	})

	return &AuthResult{
		Success: true,
		Message: "Password changed",
		UserID:  userID,
	}, nil
}

// passwordReused checks the candidate against the current hash and the
// newest history entries. The per-user salt never rotates, so the KDF is
// deterministic and historical hashes stay comparable.
func (e *Engine) passwordReused(ctx context.Context, user UserRecord, candidate string) (bool, error) {
	if ok, err := e.hasher.Verify(candidate, user.PasswordHash, user.Salt); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}

	if e.config.Password.HistoryDepth == 0 {
		return false, nil
	}

	entries, err := e.userProvider.PasswordHistory(ctx, user.UserID, e.config.Password.HistoryDepth)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		ok, err := e.hasher.Verify(candidate, entry.Hash, user.Salt)
		if err != nil {
			// Entries hashed under retired parameters are unreadable, not
			// reusable; skip them.
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
