package medauth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

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

// Builder assembles an [Engine]. Required: config, redis, user provider.
// Optional: WebAuthn verifier, geo resolver, anomaly store, mailer, audit
// sink.
type Builder struct {
	config Config

	redis redis.UniversalClient

	userProvider UserProvider
	webauthn     WebAuthnVerifier
	geoResolver  anomaly.Resolver
	anomalyStore anomaly.Store
	mailer       Mailer
	auditSink    AuditSink

	built bool
}

// New starts a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithWebAuthnVerifier supplies the assertion checker. Without one,
// WebAuthn-enabled accounts fail step-up with ErrWebAuthnNotConfigured.
func (b *Builder) WithWebAuthnVerifier(v WebAuthnVerifier) *Builder {
	b.webauthn = v
	return b
}

// WithGeoResolver supplies IP geolocation for the travel and drift
// detectors. Without one those detectors are skipped.
func (b *Builder) WithGeoResolver(r anomaly.Resolver) *Builder {
	b.geoResolver = r
	return b
}

// WithAnomalyStore supplies durable storage for detections.
func (b *Builder) WithAnomalyStore(s anomaly.Store) *Builder {
	b.anomalyStore = s
	return b
}

// WithMailer supplies the security-alert channel.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates configuration and secrets, then wires every component.
// In production any secret-guard failure aborts with ErrSecretsRejected;
// in development weak secrets are replaced with random process-local values
// and reported as warnings.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	report := secrets.Validate(cfg.Secrets, cfg.Environment)
	if !report.Valid {
		return nil, fmt.Errorf("%w: %s", ErrSecretsRejected, strings.Join(report.Errors, "; "))
	}
	effective := report.Secrets

	engine := &Engine{
		config:       cfg,
		secretReport: report,
		userProvider: b.userProvider,
		webauthn:     b.webauthn,
		mailer:       b.mailer,
	}

	engine.sessions = session.NewStore(b.redis, cfg.Session.RedisPrefix)
	engine.markers = stores.NewMarkers(b.redis, cfg.Session.RedisPrefix)
	engine.history = stores.NewHistory(b.redis, cfg.Session.RedisPrefix, cfg.Session.HistoryTTL)
	engine.challenges = stores.NewChallenges(b.redis, cfg.Session.RedisPrefix)
	engine.limiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle:        cfg.RateLimit.EnableIPThrottle,
		EnableRefreshThrottle:   cfg.RateLimit.EnableRefreshThrottle,
		MaxLoginAttempts:        cfg.RateLimit.MaxLoginAttempts,
		LoginCooldownDuration:   cfg.RateLimit.LoginCooldownDuration,
		MaxRefreshAttempts:      cfg.RateLimit.MaxRefreshAttempts,
		RefreshCooldownDuration: cfg.RateLimit.RefreshCooldownDuration,
	})

	tokens, err := token.NewService(token.Config{
		AccessSecret:  []byte(effective.AccessTokenKey),
		RefreshSecret: []byte(effective.RefreshTokenKey),
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
	}, engine.sessions)
	if err != nil {
		return nil, err
	}
	engine.tokens = tokens

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		KeyLength:   cfg.Password.KeyLength,
	}, effective.Pepper)
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	// Domain-separated subkeys from the single crypto key.
	fpSecret := deriveKey(effective.CryptoKey, "fingerprint")
	sealKey := deriveKey(effective.CryptoKey, "seal")

	fp, err := fingerprint.New(fingerprint.Config{
		Secret:          fpSecret,
		Weights:         cfg.Fingerprint.Weights,
		Threshold:       cfg.Fingerprint.Threshold,
		StrictThreshold: cfg.Fingerprint.StrictThreshold,
		ReplayWindow:    cfg.Fingerprint.ReplayWindow,
	}, engine.markers)
	if err != nil {
		return nil, err
	}
	engine.fingerprints = fp

	sealer, err := seal.NewCipher(sealKey)
	if err != nil {
		return nil, err
	}
	engine.sealer = sealer

	engine.totp = newTOTPManager(cfg.MFA.TOTP)
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	// Non-fatal guard findings (generated fallbacks, deprecation notices)
	// still belong in the audit trail.
	for _, warning := range report.Warnings {
		w := warning
		engine.emitAudit(context.Background(), auditEventSecretGuardWarning, SeverityWarning, true, "", "", RequestContext{}, nil, func() map[string]string {
			return map[string]string{"warning": w}
		})
	}

	if cfg.Anomaly.Enabled {
		engine.detector = anomaly.NewDetector(cfg.Anomaly.Detector)
		engine.worker = anomaly.NewWorker(cfg.Anomaly.WorkerBuffer)
		engine.geoResolver = b.geoResolver
		engine.anomalyStore = b.anomalyStore
	}

	b.built = true

	return engine, nil
}

func deriveKey(master, purpose string) []byte {
	sum := sha256.Sum256([]byte(master + ":" + purpose))
	return sum[:]
}
