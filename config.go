package medauth

import (
	"errors"
	"time"

	"github.com/avenlock/medauth/anomaly"
	"github.com/avenlock/medauth/fingerprint"
	"github.com/avenlock/medauth/secrets"
)

// Config is the full engine configuration. A zero Config is not usable;
// start from DefaultConfig and override.
type Config struct {
	Environment secrets.Environment
	Secrets     secrets.Set
	Token       TokenConfig
	Password    PasswordConfig
	Fingerprint FingerprintConfig
	Session     SessionConfig
	Lockout     LockoutConfig
	MFA         MFAConfig
	Anomaly     AnomalyConfig
	RateLimit   RateLimitConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
	Roles       map[Role]RoleDefinition
}

// TokenConfig controls JWT issuance. Signing secrets come from
// Config.Secrets, never from here.
type TokenConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration
	// RotateWithin triggers proactive access-token rotation when the
	// remaining lifetime drops below this value.
	RotateWithin time.Duration
}

// PasswordConfig controls Argon2id hashing and password history.
type PasswordConfig struct {
	Memory       uint32 // in KB
	Time         uint32
	Parallelism  uint8
	KeyLength    uint32
	HistoryDepth int
	MinLength    int
}

// FingerprintConfig tunes device fingerprint matching. The HMAC secret
// comes from Config.Secrets.CryptoKey derivation, not from here.
type FingerprintConfig struct {
	Threshold       float64
	StrictThreshold float64
	ReplayWindow    time.Duration
	Weights         fingerprint.Weights
}

// SessionConfig controls the Redis session layer.
type SessionConfig struct {
	RedisPrefix string
	// HistoryTTL bounds how long login history samples are retained for
	// anomaly detection.
	HistoryTTL time.Duration
}

// LockoutConfig controls the durable per-account lockout. This is distinct
// from the volume rate limiter: lockout counts wrong passwords against a
// known account and survives across IPs.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

// MFAConfig controls the post-password step-up.
type MFAConfig struct {
	TOTP         TOTPConfig
	ChallengeTTL time.Duration
	MaxAttempts  int
}

// AnomalyConfig controls behavioral detection. Detection runs off the
// request path; thresholds decide when a detection escalates to an alert
// or a session kill.
type AnomalyConfig struct {
	Enabled             bool
	Detector            anomaly.Config
	LoginAlertThreshold int
	TokenKillThreshold  int
	WorkerBuffer        int
}

// RateLimitConfig mirrors the volume throttle in front of credential
// verification.
type RateLimitConfig struct {
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

// AuditConfig controls the background audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns hardened defaults for a development environment.
// Production deployments must set Environment and Secrets explicitly.
func DefaultConfig() Config {
	return Config{
		Environment: secrets.Development,
		Token: TokenConfig{
			AccessTTL:    15 * time.Minute,
			RefreshTTL:   7 * 24 * time.Hour,
			Issuer:       "medauth",
			Leeway:       30 * time.Second,
			RotateWithin: 15 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:       64 * 1024,
			Time:         3,
			Parallelism:  4,
			KeyLength:    32,
			HistoryDepth: 10,
			MinLength:    8,
		},
		Fingerprint: FingerprintConfig{
			Threshold:       0.7,
			StrictThreshold: 0.95,
			ReplayWindow:    5 * time.Minute,
			Weights:         fingerprint.DefaultWeights(),
		},
		Session: SessionConfig{
			RedisPrefix: "ma",
			HistoryTTL:  30 * 24 * time.Hour,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  15 * time.Minute,
		},
		MFA: MFAConfig{
			TOTP:         defaultTOTPConfig(),
			ChallengeTTL: 3 * time.Minute,
			MaxAttempts:  5,
		},
		Anomaly: AnomalyConfig{
			Enabled:             true,
			Detector:            anomaly.DefaultConfig(),
			LoginAlertThreshold: 70,
			TokenKillThreshold:  60,
			WorkerBuffer:        64,
		},
		RateLimit: RateLimitConfig{
			EnableIPThrottle:        true,
			EnableRefreshThrottle:   true,
			MaxLoginAttempts:        20,
			LoginCooldownDuration:   time.Minute,
			MaxRefreshAttempts:      20,
			RefreshCooldownDuration: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Roles: DefaultRoles(),
	}
}

// ProductionConfig is DefaultConfig with the environment switched to
// production and audit plus metrics enabled. Secrets must still be set.
func ProductionConfig() Config {
	cfg := DefaultConfig()
	cfg.Environment = secrets.Production
	cfg.Audit.Enabled = true
	cfg.Metrics.Enabled = true
	return cfg
}

// Validate rejects configurations that would weaken the security posture.
func (c *Config) Validate() error {
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must exceed AccessTTL")
	}
	if c.Token.Leeway < 0 {
		return errors.New("Token Leeway must be >= 0")
	}
	if c.Token.RotateWithin < 0 || c.Token.RotateWithin > c.Token.AccessTTL {
		return errors.New("Token RotateWithin must be within the access TTL")
	}

	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.HistoryDepth < 0 {
		return errors.New("Password HistoryDepth must be >= 0")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}

	if c.Fingerprint.Threshold <= 0 || c.Fingerprint.Threshold > 1 {
		return errors.New("Fingerprint Threshold must be in (0, 1]")
	}
	if c.Fingerprint.StrictThreshold < c.Fingerprint.Threshold || c.Fingerprint.StrictThreshold > 1 {
		return errors.New("Fingerprint StrictThreshold must be in [Threshold, 1]")
	}
	if c.Fingerprint.ReplayWindow < 0 {
		return errors.New("Fingerprint ReplayWindow must be >= 0")
	}

	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix is required")
	}
	if c.Session.HistoryTTL <= 0 {
		return errors.New("Session HistoryTTL must be > 0")
	}

	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	if c.MFA.ChallengeTTL <= 0 {
		return errors.New("MFA ChallengeTTL must be > 0")
	}
	if c.MFA.MaxAttempts <= 0 {
		return errors.New("MFA MaxAttempts must be > 0")
	}
	if c.MFA.TOTP.Digits != 6 && c.MFA.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.MFA.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.MFA.TOTP.Skew < 0 || c.MFA.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be between 0 and 2")
	}

	if c.Anomaly.Enabled {
		if c.Anomaly.LoginAlertThreshold <= 0 || c.Anomaly.LoginAlertThreshold > 100 {
			return errors.New("Anomaly LoginAlertThreshold must be in (0, 100]")
		}
		if c.Anomaly.TokenKillThreshold <= 0 || c.Anomaly.TokenKillThreshold > 100 {
			return errors.New("Anomaly TokenKillThreshold must be in (0, 100]")
		}
	}

	if c.RateLimit.MaxLoginAttempts <= 0 {
		return errors.New("RateLimit MaxLoginAttempts must be > 0")
	}
	if c.RateLimit.LoginCooldownDuration <= 0 {
		return errors.New("RateLimit LoginCooldownDuration must be > 0")
	}
	if c.RateLimit.EnableRefreshThrottle {
		if c.RateLimit.MaxRefreshAttempts <= 0 {
			return errors.New("RateLimit MaxRefreshAttempts must be > 0 when refresh throttle is enabled")
		}
		if c.RateLimit.RefreshCooldownDuration <= 0 {
			return errors.New("RateLimit RefreshCooldownDuration must be > 0 when refresh throttle is enabled")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if len(c.Roles) == 0 {
		return errors.New("at least one role definition is required")
	}
	for role, def := range c.Roles {
		if !role.Known() {
			return errors.New("unknown role in Roles map")
		}
		if def.Name == "" {
			return errors.New("role definitions require a name")
		}
	}

	return nil
}
