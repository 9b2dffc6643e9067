// Package fingerprint derives a deterministic, tamper-resistant device
// fingerprint from stable request attributes and validates client-echoed
// values against it.
//
// Two forms exist. The secure form is an HMAC-SHA256 over the canonical
// component vector keyed with a server-held secret; without that secret a
// client cannot forge it. The public hash is an unkeyed SHA-256 of the same
// vector, safe to hand to clients for comparison. A client that submits the
// public hash where the HMAC form is expected is synthesizing rather than
// echoing, and is flagged suspicious.
//
// Similarity is always computed over the plaintext component vector with
// per-component weights, never over digest bytes, which carry no
// proportional relationship to input similarity.
package fingerprint
