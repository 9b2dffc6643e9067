package medauth

import (
	"context"
	"time"
)

// Role is a closed enumeration of account roles. Policy never branches on
// role names; capabilities such as lockout exemption hang off the
// [RoleDefinition] registered for the role.
type Role uint8

const (
	// RoleAssistant is the default clerical role.
	RoleAssistant Role = iota
	// RoleClinician covers treating staff.
	RoleClinician
	// RoleAdmin is the highest administrative role. Its default definition
	// is exempt from automatic lockout as a break-glass availability
	// safeguard; excessive failures are logged at high severity instead.
	RoleAdmin
)

// Known reports whether the value is a member of the closed enumeration.
func (r Role) Known() bool {
	return r <= RoleAdmin
}

// RoleDefinition attaches capabilities and a permission list to a [Role].
type RoleDefinition struct {
	Name              string
	Permissions       []string
	ExemptFromLockout bool
}

// DefaultRoles returns the built-in role registry. Callers may replace or
// extend it through [Config.Roles].
func DefaultRoles() map[Role]RoleDefinition {
	return map[Role]RoleDefinition{
		RoleAssistant: {
			Name:        "assistant",
			Permissions: []string{"patients.read", "analyses.read"},
		},
		RoleClinician: {
			Name:        "clinician",
			Permissions: []string{"patients.read", "patients.write", "analyses.read", "analyses.write"},
		},
		RoleAdmin: {
			Name:              "admin",
			Permissions:       []string{"*"},
			ExemptFromLockout: true,
		},
	}
}

// UserRecord is the credential record managed by the [UserProvider]. The
// pepper is process-wide configuration and never appears here.
type UserRecord struct {
	UserID          string
	Username        string
	Email           string
	PasswordHash    string
	Salt            string
	Role            Role
	TOTPEnabled     bool
	WebAuthnEnabled bool
	FailedAttempts  int
	LockedUntil     time.Time
}

// Locked reports whether the account's lockout window is still active.
func (u UserRecord) Locked(now time.Time) bool {
	return !u.LockedUntil.IsZero() && now.Before(u.LockedUntil)
}

// TOTPRecord carries the sealed TOTP secret and the last-used HOTP counter
// for replay protection. Secret holds AES-GCM ciphertext; the plaintext
// exists only for the duration of a verification call.
type TOTPRecord struct {
	Secret          []byte
	Enabled         bool
	Verified        bool
	LastUsedCounter int64
}

// WebAuthnCredential is an opaque registered authenticator. The engine never
// inspects it; the configured [WebAuthnVerifier] does.
type WebAuthnCredential struct {
	CredentialID string
	PublicKey    []byte
	SignCount    uint32
	AddedAt      time.Time
}

// PasswordHistoryEntry is one append-only historical hash. Entries are never
// deleted; reuse checks read the newest N.
type PasswordHistoryEntry struct {
	UserID    string
	Hash      string
	CreatedAt time.Time
}

// UserProvider is the durable-store contract the embedding application must
// implement. All methods are called on the request path and should honor
// ctx deadlines.
//
// Lockout bookkeeping (failed attempts, lock-until) lives on the credential
// record so that the invariant survives process restarts.
type UserProvider interface {
	GetUserByUsername(ctx context.Context, username string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)

	UpdatePasswordHash(ctx context.Context, userID, newHash string) error

	// RecordFailedAttempt increments and returns the consecutive-failure
	// counter. ResetFailedAttempts zeroes it and clears any lock.
	RecordFailedAttempt(ctx context.Context, userID string) (int, error)
	ResetFailedAttempts(ctx context.Context, userID string) error
	LockAccount(ctx context.Context, userID string, until time.Time) error

	GetTOTPRecord(ctx context.Context, userID string) (*TOTPRecord, error)
	UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error

	GetWebAuthnCredentials(ctx context.Context, userID string) ([]WebAuthnCredential, error)

	// PasswordHistory returns the newest limit entries, most recent first.
	PasswordHistory(ctx context.Context, userID string, limit int) ([]PasswordHistoryEntry, error)
	AppendPasswordHistory(ctx context.Context, entry PasswordHistoryEntry) error
}

// WebAuthnVerifier is the externally supplied assertion checker. The
// cryptographic protocol is out of scope here; the engine only orchestrates
// the step-up around it.
type WebAuthnVerifier interface {
	VerifyAssertion(ctx context.Context, userID string, assertion []byte, registered []WebAuthnCredential) (bool, error)
}

// Mailer delivers security-alert email. Implementations must be safe for
// concurrent use; the engine calls them from the anomaly worker, never from
// the request path.
type Mailer interface {
	SendSecurityAlert(ctx context.Context, userID, email string, riskScore int, descriptions []string) error
}

// RequestContext carries the per-request attributes the HTTP layer extracts
// before calling into the core.
type RequestContext struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	// Client hint headers; absence is tolerated.
	ClientHintPlatform string
	ClientHintMobile   string
	ClientHintVendor   string
	// ClientFingerprint is the fingerprint value echoed back by the client,
	// if any. Validated against the server-computed HMAC form.
	ClientFingerprint string
}

// AuthResult is the result-object contract shared with the surrounding CRUD
// application. Message never distinguishes failure causes.
type AuthResult struct {
	Success bool
	Message string

	RequireTOTP     bool
	RequireWebAuthn bool

	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	RefreshExpiresIn int64

	SessionID string
	UserID    string
	Role      string
}

func failureResult() *AuthResult {
	return &AuthResult{Success: false, Message: GenericFailureMessage}
}
