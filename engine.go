package medauth

import (
	"context"
	"errors"
	"time"

	"github.com/avenlock/medauth/anomaly"
	"github.com/avenlock/medauth/fingerprint"
	"github.com/avenlock/medauth/internal/audit"
	"github.com/avenlock/medauth/internal/rate"
	"github.com/avenlock/medauth/internal/seal"
	"github.com/avenlock/medauth/internal/stores"
	"github.com/avenlock/medauth/password"
	"github.com/avenlock/medauth/secrets"
	"github.com/avenlock/medauth/session"
	"github.com/avenlock/medauth/token"
)

// Engine is the composed security core. Construct through [Builder]; a zero
// Engine is unusable. All exported methods are safe for concurrent use.
type Engine struct {
	config       Config
	secretReport secrets.Report

	userProvider UserProvider
	webauthn     WebAuthnVerifier
	mailer       Mailer

	sessions     *session.Store
	tokens       *token.Service
	hasher       *password.Hasher
	fingerprints *fingerprint.Engine
	limiter      *rate.Limiter
	markers      *stores.Markers
	history      *stores.History
	challenges   *stores.Challenges
	sealer       *seal.Cipher
	totp         *totpManager

	detector     *anomaly.Detector
	worker       *anomaly.Worker
	geoResolver  anomaly.Resolver
	anomalyStore anomaly.Store

	audit   *audit.Dispatcher
	metrics *Metrics
}

// Close drains the audit dispatcher and the anomaly worker. Pending
// background work completes before Close returns.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.worker != nil {
		e.worker.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// SecretReport exposes the guard outcome from Build, including warnings
// about substituted development secrets.
func (e *Engine) SecretReport() secrets.Report {
	if e == nil {
		return secrets.Report{}
	}
	return e.secretReport
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

func (e *Engine) roleDefinition(r Role) RoleDefinition {
	if def, ok := e.config.Roles[r]; ok {
		return def
	}
	return RoleDefinition{Name: "unknown"}
}

// VerifyUserPassword checks credentials without any session side effects.
// Unknown users burn a dummy hash so the caller cannot tell the two
// failure modes apart by timing.
func (e *Engine) VerifyUserPassword(ctx context.Context, username, plain string) (bool, error) {
	if e == nil || e.userProvider == nil {
		return false, ErrEngineNotReady
	}

	user, err := e.userProvider.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrProviderUserNotFound) {
			e.hasher.DummyVerify()
			return false, nil
		}
		return false, errInternal(err)
	}

	ok, err := e.hasher.Verify(plain, user.PasswordHash, user.Salt)
	if err != nil {
		return false, errInternal(err)
	}
	return ok, nil
}

// VerifyAccessToken verifies signature, type, expiry, and blacklist state,
// then confirms a valid session still backs the token.
func (e *Engine) VerifyAccessToken(ctx context.Context, accessToken string) (*token.Claims, *session.Session, error) {
	if e == nil || e.tokens == nil {
		return nil, nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Verify(ctx, accessToken, token.TypeAccess)
	if err != nil {
		return nil, nil, mapTokenError(err)
	}

	sess, err := e.sessions.GetByAccessTokenID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, errInternal(err)
	}
	if !sess.Alive(time.Now()) {
		return nil, nil, ErrSessionInvalid
	}

	return claims, sess, nil
}

func (e *Engine) requestFingerprint(req RequestContext) fingerprint.Fingerprint {
	return e.fingerprints.Generate(fingerprintAttributes(req))
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrBlacklisted):
		return ErrTokenBlacklisted
	case errors.Is(err, token.ErrInvalid):
		return ErrTokenInvalid
	default:
		return errInternal(err)
	}
}

func errInternal(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrInternal, err)
}
