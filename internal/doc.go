// Package internal holds shared primitives for the medauth engine: random
// identifier generation and the coordination subpackages (audit dispatch,
// Redis-backed stores, rate limiting, secret sealing). Nothing here is part
// of the public API.
package internal
