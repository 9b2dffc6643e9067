package medauth

import "errors"

var (
	// ErrInvalidCredentials covers unknown usernames and wrong passwords.
	// The two cases are logged distinctly server-side but are never
	// distinguishable through the public API.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is active. The
	// caller-facing message stays identical to ErrInvalidCredentials.
	ErrAccountLocked = errors.New("account locked")
	// ErrTokenExpired marks a structurally valid token past its expiry.
	// Callers typically branch to a silent refresh.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid marks a token that fails signature, type, or claim
	// checks. Callers typically branch to a forced re-login.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenBlacklisted marks a token whose id is in the blacklist. Such
	// tokens are permanently unusable regardless of signature validity.
	ErrTokenBlacklisted = errors.New("token blacklisted")
	// ErrSessionInvalid is returned when no valid session backs an
	// operation that requires one.
	ErrSessionInvalid  = errors.New("session invalid")
	ErrSessionNotFound = errors.New("session not found")
	// ErrDeviceMismatch is returned when the request's device fingerprint
	// does not match the session binding.
	ErrDeviceMismatch = errors.New("device fingerprint mismatch")
	// ErrReplayDetected is returned when a fingerprint/IP pair revalidates
	// inside the replay window.
	ErrReplayDetected = errors.New("fingerprint replay detected")
	// ErrValidationFailed covers malformed inputs: 2FA code format,
	// password policy violations, empty identifiers.
	ErrValidationFailed = errors.New("validation failed")
	// ErrPasswordReuse is returned when a password change matches one of
	// the retained history entries.
	ErrPasswordReuse         = errors.New("password reuse rejected")
	ErrTOTPInvalid           = errors.New("invalid totp code")
	ErrTOTPNotConfigured     = errors.New("totp not configured")
	ErrWebAuthnInvalid       = errors.New("invalid webauthn assertion")
	ErrWebAuthnNotConfigured = errors.New("webauthn not configured")
	ErrMFAChallengeInvalid   = errors.New("mfa challenge invalid")
	ErrMFAChallengeExpired   = errors.New("mfa challenge expired")
	// ErrMFAChallengeAttempts is terminal for the pending challenge; the
	// user must authenticate again from the start.
	ErrMFAChallengeAttempts = errors.New("mfa challenge attempts exceeded")
	ErrLoginRateLimited     = errors.New("login rate limited")
	ErrRefreshRateLimited   = errors.New("refresh rate limited")
	// ErrSecretsRejected is returned by Build when the secret guard fails
	// in a production environment.
	ErrSecretsRejected = errors.New("operational secrets rejected")
	ErrEngineNotReady  = errors.New("engine not initialized")
	// ErrInternal wraps backend failures that must not leak detail.
	ErrInternal = errors.New("internal failure")
	// ErrProviderUserNotFound must be returned (possibly wrapped) by
	// [UserProvider] implementations when no record matches. The engine
	// converts it into the generic rejection.
	ErrProviderUserNotFound = errors.New("provider user not found")
)

// GenericFailureMessage is the single caller-facing message for every
// rejected authentication attempt. Locked accounts, unknown users, and
// wrong passwords all read the same at the boundary.
const GenericFailureMessage = "Invalid credentials"
