package internaldefs

import (
	medauth "github.com/avenlock/medauth"
)

// CounterDef names one engine counter for an exporter backend.
type CounterDef struct {
	ID   medauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for an exporter backend.
type HistogramDef struct {
	ID   medauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: medauth.MetricLoginSuccess, Name: "medauth_login_success_total", Help: "Successful logins."},
	{ID: medauth.MetricLoginFailure, Name: "medauth_login_failure_total", Help: "Rejected login attempts."},
	{ID: medauth.MetricLoginRateLimited, Name: "medauth_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: medauth.MetricAccountLocked, Name: "medauth_account_locked_total", Help: "Automatic account lockouts."},
	{ID: medauth.MetricLockoutExempted, Name: "medauth_lockout_exempted_total", Help: "Lockout thresholds crossed by exempt roles."},
	{ID: medauth.MetricStepUpRequired, Name: "medauth_step_up_required_total", Help: "Logins deferred pending a second factor."},
	{ID: medauth.MetricTOTPSuccess, Name: "medauth_totp_success_total", Help: "Successful TOTP verifications."},
	{ID: medauth.MetricTOTPFailure, Name: "medauth_totp_failure_total", Help: "Failed TOTP verifications."},
	{ID: medauth.MetricWebAuthnSuccess, Name: "medauth_webauthn_success_total", Help: "Successful WebAuthn assertions."},
	{ID: medauth.MetricWebAuthnFailure, Name: "medauth_webauthn_failure_total", Help: "Rejected WebAuthn assertions."},
	{ID: medauth.MetricRefreshSuccess, Name: "medauth_refresh_success_total", Help: "Successful token refreshes."},
	{ID: medauth.MetricRefreshFailure, Name: "medauth_refresh_failure_total", Help: "Rejected token refreshes."},
	{ID: medauth.MetricRefreshRateLimited, Name: "medauth_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: medauth.MetricAccessRotated, Name: "medauth_access_rotated_total", Help: "Proactive access-token rotations."},
	{ID: medauth.MetricRotationSkipped, Name: "medauth_rotation_skipped_total", Help: "Rotation requests resolved without rotating."},
	{ID: medauth.MetricDeviceMismatch, Name: "medauth_device_mismatch_total", Help: "Device fingerprint mismatches."},
	{ID: medauth.MetricHijackDetected, Name: "medauth_hijack_detected_total", Help: "Sessions killed on hijack classification."},
	{ID: medauth.MetricReplayDetected, Name: "medauth_replay_detected_total", Help: "Fingerprint replay rejections."},
	{ID: medauth.MetricSessionCreated, Name: "medauth_session_created_total", Help: "Created sessions."},
	{ID: medauth.MetricSessionInvalidated, Name: "medauth_session_invalidated_total", Help: "Invalidated sessions."},
	{ID: medauth.MetricSessionSuperseded, Name: "medauth_session_superseded_total", Help: "Sessions superseded by a newer login."},
	{ID: medauth.MetricLogout, Name: "medauth_logout_total", Help: "Logout operations."},
	{ID: medauth.MetricPasswordChangeSuccess, Name: "medauth_password_change_success_total", Help: "Successful password changes."},
	{ID: medauth.MetricPasswordChangeInvalidOld, Name: "medauth_password_change_invalid_old_total", Help: "Password changes rejected on current-password check."},
	{ID: medauth.MetricPasswordReuseRejected, Name: "medauth_password_reuse_rejected_total", Help: "Password changes rejected by the history policy."},
	{ID: medauth.MetricAnomalyDetected, Name: "medauth_anomaly_detected_total", Help: "Behavioral anomaly detections."},
	{ID: medauth.MetricAnomalySessionKilled, Name: "medauth_anomaly_session_killed_total", Help: "Sessions killed on token-usage risk."},
	{ID: medauth.MetricAnomalyAlertSent, Name: "medauth_anomaly_alert_sent_total", Help: "Security alert emails sent."},
}

var HistogramDefs = []HistogramDef{
	{ID: medauth.MetricAuthenticateLatency, Name: "medauth_authenticate_latency_seconds", Help: "Authenticate latency histogram."},
}

// HistogramBoundSuffix mirrors the engine's fixed millisecond buckets.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed width.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form
// metric backends expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
