// Package audit holds the internal security-event model, sink
// implementations, and the asynchronous dispatcher. The root package
// re-exports the public-facing types.
package audit
