package medauth

import (
	"context"
	"errors"
	"time"

	"github.com/avenlock/medauth/internal/stores"
)

// TOTPProvision is the enrollment material for an authenticator app. The
// embedding application persists SealedSecret on the user's TOTP record;
// SecretBase32 and URI are shown to the user once and then discarded.
type TOTPProvision struct {
	SealedSecret []byte
	SecretBase32 string
	URI          string
}

// ProvisionTOTP generates and seals a fresh TOTP secret. Persistence is the
// embedder's responsibility; the engine never sees the plaintext secret
// again outside of a verification call.
func (e *Engine) ProvisionTOTP(ctx context.Context, userID, account string) (*TOTPProvision, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" || account == "" {
		return nil, ErrValidationFailed
	}

	raw, encoded, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, errInternal(err)
	}
	sealed, err := e.sealer.Seal(raw)
	if err != nil {
		return nil, errInternal(err)
	}

	return &TOTPProvision{
		SealedSecret: sealed,
		SecretBase32: encoded,
		URI:          e.totp.ProvisionURI(encoded, account),
	}, nil
}

// VerifyTOTP completes a pending TOTP step-up. A matching code consumes the
// challenge and produces a full session; failures consume attempts until
// the challenge self-destructs.
func (e *Engine) VerifyTOTP(ctx context.Context, userID, code string, req RequestContext) (*AuthResult, error) {
	if e == nil || e.userProvider == nil {
		return failureResult(), ErrEngineNotReady
	}

	if userID == "" || len(code) != e.config.MFA.TOTP.Digits || !isNumericString(code) {
		return failureResult(), ErrValidationFailed
	}

	ch, err := e.getChallenge(ctx, userID, challengeTypeTOTP, req)
	if err != nil {
		return failureResult(), err
	}

	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrProviderUserNotFound) {
			return failureResult(), ErrMFAChallengeInvalid
		}
		return failureResult(), errInternal(err)
	}

	rec, err := e.userProvider.GetTOTPRecord(ctx, userID)
	if err != nil {
		return failureResult(), errInternal(err)
	}
	if rec == nil || !rec.Enabled || len(rec.Secret) == 0 {
		return failureResult(), ErrTOTPNotConfigured
	}

	secret, err := e.sealer.Open(rec.Secret)
	if err != nil {
		return failureResult(), errInternal(err)
	}

	now := time.Now()
	ok, counter, err := e.totp.VerifyCode(secret, code, now)
	if err != nil {
		return failureResult(), errInternal(err)
	}
	if !ok {
		return failureResult(), e.failChallenge(ctx, userID, ch, req, ErrTOTPInvalid, "wrong_code")
	}
	if counter <= rec.LastUsedCounter {
		// Same time-step, second use: a shoulder-surfed or intercepted
		// code being replayed.
		return failureResult(), e.failChallenge(ctx, userID, ch, req, ErrTOTPInvalid, "code_replay")
	}

	if err := e.userProvider.UpdateTOTPLastUsedCounter(ctx, userID, counter); err != nil {
		return failureResult(), errInternal(err)
	}
	if _, err := e.challenges.Delete(ctx, userID); err != nil {
		return failureResult(), errInternal(err)
	}

	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, auditEventTOTPSuccess, SeverityInfo, true, userID, "", req, nil, nil)

	return e.finalizeLogin(ctx, user, req, now)
}

// VerifyWebAuthn completes a pending WebAuthn step-up through the configured
// assertion verifier.
func (e *Engine) VerifyWebAuthn(ctx context.Context, userID string, assertion []byte, req RequestContext) (*AuthResult, error) {
	if e == nil || e.userProvider == nil {
		return failureResult(), ErrEngineNotReady
	}
	if userID == "" || len(assertion) == 0 {
		return failureResult(), ErrValidationFailed
	}
	if e.webauthn == nil {
		return failureResult(), ErrWebAuthnNotConfigured
	}

	ch, err := e.getChallenge(ctx, userID, challengeTypeWebAuthn, req)
	if err != nil {
		return failureResult(), err
	}

	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrProviderUserNotFound) {
			return failureResult(), ErrMFAChallengeInvalid
		}
		return failureResult(), errInternal(err)
	}

	creds, err := e.userProvider.GetWebAuthnCredentials(ctx, userID)
	if err != nil {
		return failureResult(), errInternal(err)
	}
	if len(creds) == 0 {
		return failureResult(), ErrWebAuthnNotConfigured
	}

	ok, err := e.webauthn.VerifyAssertion(ctx, userID, assertion, creds)
	if err != nil {
		return failureResult(), errInternal(err)
	}
	if !ok {
		e.metricInc(MetricWebAuthnFailure)
		return failureResult(), e.failChallenge(ctx, userID, ch, req, ErrWebAuthnInvalid, "assertion_rejected")
	}

	if _, err := e.challenges.Delete(ctx, userID); err != nil {
		return failureResult(), errInternal(err)
	}

	e.metricInc(MetricWebAuthnSuccess)
	e.emitAudit(ctx, auditEventWebAuthnSuccess, SeverityInfo, true, userID, "", req, nil, nil)

	return e.finalizeLogin(ctx, user, req, time.Now())
}

func (e *Engine) getChallenge(ctx context.Context, userID, wantType string, req RequestContext) (*stores.Challenge, error) {
	ch, err := e.challenges.Get(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound):
			return nil, ErrMFAChallengeInvalid
		case errors.Is(err, stores.ErrChallengeExpired):
			e.emitAudit(ctx, auditEventTOTPFailure, SeverityInfo, false, userID, "", req, ErrMFAChallengeExpired, nil)
			return nil, ErrMFAChallengeExpired
		default:
			return nil, errInternal(err)
		}
	}
	if ch.Type != wantType {
		return nil, ErrMFAChallengeInvalid
	}
	return ch, nil
}

// failChallenge records a failed attempt and maps attempt exhaustion onto
// its own error so callers can stop prompting.
func (e *Engine) failChallenge(ctx context.Context, userID string, ch *stores.Challenge, req RequestContext, cause error, reason string) error {
	eventType := auditEventTOTPFailure
	if ch.Type == challengeTypeWebAuthn {
		eventType = auditEventWebAuthnFailure
	} else {
		e.metricInc(MetricTOTPFailure)
	}

	err := e.challenges.RecordFailure(ctx, userID, e.config.MFA.MaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeExceeded):
			e.emitAudit(ctx, eventType, SeverityWarning, false, userID, "", req, ErrMFAChallengeAttempts, func() map[string]string {
				return map[string]string{"reason": "attempts_exceeded"}
			})
			return ErrMFAChallengeAttempts
		case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeExpired):
			return ErrMFAChallengeInvalid
		default:
			return errInternal(err)
		}
	}

	e.emitAudit(ctx, eventType, SeverityInfo, false, userID, "", req, cause, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return cause
}
