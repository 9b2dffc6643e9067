// Package token issues and verifies the two typed JWT kinds the engine
// hands out: short-lived access tokens and longer-lived refresh tokens.
// Each type is signed with its own secret so a captured token of one kind
// cannot be replayed as the other.
//
// Every token carries a fresh random id (jti). The id, never the token
// string, is tracked in the append-only [Blacklist]: a blacklisted id
// fails verification permanently regardless of signature validity.
//
// Expired and invalid tokens yield distinct errors ([ErrExpired],
// [ErrInvalid]) so callers can branch between silent refresh and forced
// re-login; the distinction is for the caller's control flow only and must
// not surface as different client-facing text.
package token
