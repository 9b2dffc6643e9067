// Package anomaly scores login and token-use events for behavioral
// irregularities: impossible travel, logins at unusual hours, device
// changes, and refresh-time location or fingerprint drift.
//
// Detection is advisory and strictly post-hoc. The engine submits events to
// a background [Worker] with its own error boundary; a slow GeoIP lookup or
// a failing store can never delay or fail an auth decision. Every firing
// detector persists a [Detection] record regardless of whether any action
// was taken, so incidents can be audited and resolved later.
package anomaly
