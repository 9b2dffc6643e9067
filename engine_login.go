package medauth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avenlock/medauth/internal"
	"github.com/avenlock/medauth/internal/rate"
	"github.com/avenlock/medauth/internal/stores"
	"github.com/avenlock/medauth/session"
	"github.com/avenlock/medauth/token"
)

const (
	challengeTypeTOTP     = "totp"
	challengeTypeWebAuthn = "webauthn"
)

// The login lock is held only across supersede-and-create, normally a few
// milliseconds; the window bounds how long a crashed holder can block
// logins for one user.
const (
	loginLockWindow     = 5 * time.Second
	loginLockRetryDelay = 20 * time.Millisecond
	loginLockAttempts   = 50
)

var errLoginContended = errors.New("login finalization contended")

// Authenticate runs the login state machine: rate limit, user lookup,
// lockout gate, password verification, failure accounting, then either a
// second-factor challenge or a full session.
//
// Every rejection carries [GenericFailureMessage]; the returned error
// distinguishes causes for server-side logging only and must never reach
// the client verbatim.
func (e *Engine) Authenticate(ctx context.Context, username, plain string, req RequestContext) (*AuthResult, error) {
	if e == nil || e.userProvider == nil {
		return failureResult(), ErrEngineNotReady
	}

	start := time.Now()
	defer func() {
		e.metricObserve(MetricAuthenticateLatency, time.Since(start))
	}()

	username = strings.TrimSpace(username)
	if username == "" || plain == "" {
		e.metricInc(MetricLoginFailure)
		return failureResult(), ErrValidationFailed
	}

	if err := e.limiter.CheckLogin(ctx, username, req.IP); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, SeverityWarning, false, "", "", req, ErrLoginRateLimited, nil)
			return failureResult(), ErrLoginRateLimited
		}
		return failureResult(), errInternal(err)
	}

	user, err := e.userProvider.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrProviderUserNotFound) {
			// Burn a hash so unknown usernames cost the same as wrong
			// passwords.
			e.hasher.DummyVerify()
			_ = e.limiter.IncrementLogin(ctx, username, req.IP)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, SeverityInfo, false, "", "", req, ErrInvalidCredentials, func() map[string]string {
				return map[string]string{"reason": "unknown_user"}
			})
			return failureResult(), ErrInvalidCredentials
		}
		return failureResult(), errInternal(err)
	}

	now := time.Now()
	if user.Locked(now) {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, SeverityWarning, false, user.UserID, "", req, ErrAccountLocked, func() map[string]string {
			return map[string]string{"locked_until": user.LockedUntil.UTC().Format(time.RFC3339)}
		})
		return failureResult(), ErrAccountLocked
	}

	ok, err := e.hasher.Verify(plain, user.PasswordHash, user.Salt)
	if err != nil {
		return failureResult(), errInternal(err)
	}
	if !ok {
		return e.handleFailedPassword(ctx, user, username, req, now)
	}

	_ = e.limiter.ResetLogin(ctx, username, req.IP)
	if user.FailedAttempts > 0 {
		if err := e.userProvider.ResetFailedAttempts(ctx, user.UserID); err != nil {
			return failureResult(), errInternal(err)
		}
	}

	if user.TOTPEnabled || user.WebAuthnEnabled {
		return e.issueStepUpChallenge(ctx, user, req, now)
	}

	return e.finalizeLogin(ctx, user, req, now)
}

func (e *Engine) handleFailedPassword(ctx context.Context, user UserRecord, username string, req RequestContext, now time.Time) (*AuthResult, error) {
	_ = e.limiter.IncrementLogin(ctx, username, req.IP)
	e.metricInc(MetricLoginFailure)

	attempts, err := e.userProvider.RecordFailedAttempt(ctx, user.UserID)
	if err != nil {
		return failureResult(), errInternal(err)
	}

	if attempts >= e.config.Lockout.Threshold {
		def := e.roleDefinition(user.Role)
		if def.ExemptFromLockout {
			// Availability safeguard: exempt roles are never locked out,
			// but the event is loud enough that nobody misses it.
			e.metricInc(MetricLockoutExempted)
			e.emitAudit(ctx, auditEventLockoutExempted, SeverityHigh, false, user.UserID, "", req, ErrInvalidCredentials, func() map[string]string {
				return map[string]string{
					"role":     def.Name,
					"attempts": strconv.Itoa(attempts),
				}
			})
		} else {
			until := now.Add(e.config.Lockout.Duration)
			if err := e.userProvider.LockAccount(ctx, user.UserID, until); err != nil {
				return failureResult(), errInternal(err)
			}
			e.metricInc(MetricAccountLocked)
			e.emitAudit(ctx, auditEventAccountLocked, SeverityWarning, false, user.UserID, "", req, ErrAccountLocked, func() map[string]string {
				return map[string]string{
					"attempts":     strconv.Itoa(attempts),
					"locked_until": until.UTC().Format(time.RFC3339),
				}
			})
		}
	}

	e.emitAudit(ctx, auditEventLoginFailure, SeverityInfo, false, user.UserID, "", req, ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"reason": "wrong_password", "attempts": strconv.Itoa(attempts)}
	})

	return failureResult(), ErrInvalidCredentials
}

func (e *Engine) issueStepUpChallenge(ctx context.Context, user UserRecord, req RequestContext, now time.Time) (*AuthResult, error) {
	challengeType := challengeTypeTOTP
	if !user.TOTPEnabled {
		challengeType = challengeTypeWebAuthn
	}

	ch := &stores.Challenge{
		ChallengeID: uuid.NewString(),
		UserID:      user.UserID,
		Type:        challengeType,
		ExpiresAt:   now.Add(e.config.MFA.ChallengeTTL).Unix(),
	}
	if err := e.challenges.Save(ctx, ch, e.config.MFA.ChallengeTTL); err != nil {
		return failureResult(), errInternal(err)
	}

	e.metricInc(MetricStepUpRequired)
	e.emitAudit(ctx, auditEventStepUpRequired, SeverityInfo, true, user.UserID, "", req, nil, func() map[string]string {
		return map[string]string{"type": challengeType}
	})

	return &AuthResult{
		Success:         false,
		Message:         "Additional verification required",
		RequireTOTP:     challengeType == challengeTypeTOTP,
		RequireWebAuthn: challengeType == challengeTypeWebAuthn,
		UserID:          user.UserID,
	}, nil
}

// finalizeLogin supersedes prior sessions, issues the token pair, and binds
// the new session to the request's device fingerprint. Supersede-and-create
// is serialized per user: without the lock two concurrent logins can each
// invalidate the same prior set and leave two valid sessions.
func (e *Engine) finalizeLogin(ctx context.Context, user UserRecord, req RequestContext, now time.Time) (*AuthResult, error) {
	fp := e.requestFingerprint(req)
	def := e.roleDefinition(user.Role)

	if err := e.acquireLoginLock(ctx, user.UserID); err != nil {
		return failureResult(), err
	}
	defer func() {
		_ = e.markers.ReleaseLogin(ctx, user.UserID)
	}()

	superseded, err := e.sessions.InvalidateAll(ctx, user.UserID, token.ReasonRotation)
	if err != nil {
		return failureResult(), errInternal(err)
	}
	if superseded > 0 {
		e.metricInc(MetricSessionSuperseded)
		e.emitAudit(ctx, auditEventSessionSuperseded, SeverityInfo, true, user.UserID, "", req, nil, func() map[string]string {
			return map[string]string{"count": strconv.Itoa(superseded)}
		})
	}

	payload := token.Payload{
		UserID:      user.UserID,
		Role:        def.Name,
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

	sid, err := internal.NewSessionID()
	if err != nil {
		return failureResult(), errInternal(err)
	}

	sess := &session.Session{
		ID:               sid.String(),
		UserID:           user.UserID,
		Role:             def.Name,
		AccessTokenID:    access.ID,
		RefreshTokenID:   refresh.ID,
		IP:               req.IP,
		UserAgent:        req.UserAgent,
		Fingerprint:      fp.Value,
		FPComponents:     fp.Components.Encode(),
		CreatedAt:        now.Unix(),
		LastActivity:     now.Unix(),
		ExpiresAt:        access.ExpiresAt.Unix(),
		RefreshExpiresAt: refresh.ExpiresAt.Unix(),
		Valid:            true,
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		return failureResult(), errInternal(err)
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventLoginSuccess, SeverityInfo, true, user.UserID, sess.ID, req, nil, func() map[string]string {
		return map[string]string{"role": def.Name}
	})
	e.emitAudit(ctx, auditEventSessionCreated, SeverityInfo, true, user.UserID, sess.ID, req, nil, nil)

	e.submitLoginAssessment(user, req, fp.Components.Encode(), now)

	return &AuthResult{
		Success:          true,
		Message:          "Authentication successful",
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		ExpiresIn:        access.ExpiresIn,
		RefreshExpiresIn: refresh.ExpiresIn,
		SessionID:        sess.ID,
		UserID:           user.UserID,
		Role:             def.Name,
	}, nil
}

func (e *Engine) acquireLoginLock(ctx context.Context, userID string) error {
	for attempt := 0; attempt < loginLockAttempts; attempt++ {
		held, err := e.markers.LoginInFlight(ctx, userID, loginLockWindow)
		if err != nil {
			return errInternal(err)
		}
		if !held {
			return nil
		}
		select {
		case <-ctx.Done():
			return errInternal(ctx.Err())
		case <-time.After(loginLockRetryDelay):
		}
	}
	return errInternal(errLoginContended)
}
