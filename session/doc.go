// Package session persists the engine's session state in Redis and enforces
// the single-active-session policy's storage half: invalidating a session
// always blacklists both of its token ids inside one Lua script, so a crash
// can never leave an access token usable without its session.
//
// Sessions are stored as versioned binary blobs. The validity flag sits at a
// fixed offset directly after the version byte so invalidation scripts can
// flip it in place without decoding the record.
package session
