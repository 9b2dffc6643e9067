// Package medauth is the authentication, session-lifecycle, and anti-spoofing
// core of a hospital-workflow backend. It verifies credentials, drives the
// multi-factor step-up state machine, issues and rotates typed JWT pairs,
// binds sessions to device fingerprints, and scores login and token-use
// events for behavioral anomalies.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// medauth is the public surface. It exposes [Engine], [Builder], [Config],
// sentinel errors, and value types (AuthResult, RequestContext, AuditEvent).
// Leaf components ([secrets], [password], [token], [fingerprint],
// [session], [anomaly]) live in their own packages, and all coordination code
// (audit dispatch, challenge stores, markers, login history, rate limiting)
// lives under internal/ and is never exported.
//
// The surrounding CRUD application is an external collaborator. It supplies
// a [UserProvider] for durable account state, optional [anomaly.Store],
// [anomaly.Resolver], [Mailer], and [WebAuthnVerifier] capabilities, and
// consumes plain result objects. Cookie attributes, HTTP routing, and email
// delivery mechanics are the caller's problem; the core only produces token
// strings, expiry seconds, and result objects.
//
// # Failure discipline
//
// Externally observable failures collapse to a generic message so that
// unknown-user, wrong-password, and locked-account outcomes are
// indistinguishable at the boundary. The precise cause always reaches the
// audit sink. Anomaly detection is advisory: a detector or GeoIP failure is
// logged and swallowed, never surfaced into an auth decision.
package medauth
