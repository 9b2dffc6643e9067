// Package secrets validates the operational secrets the engine depends on
// (token signing keys, the password pepper, the at-rest crypto key) before
// any token may be issued.
//
// Validation is environment-aware. In production every failure is fatal and
// the process must not start. In development, missing secrets are replaced
// by freshly generated random fallbacks with a warning. In test, missing
// secrets are substituted with deterministic placeholders so fixtures stay
// reproducible.
//
// [ProductionSecret] enforces the production policy at the type level: it
// cannot be constructed from a denylisted or structurally weak value.
package secrets
