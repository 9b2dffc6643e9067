package session

import "time"

// Session binds a login's token pair to its originating device context.
// Exactly one valid session is intended per user; a new successful login
// supersedes all prior ones.
type Session struct {
	ID     string
	UserID string
	Role   string

	AccessTokenID  string
	RefreshTokenID string

	IP        string
	UserAgent string

	// Fingerprint is the HMAC device fingerprint; FPComponents the encoded
	// plaintext component vector used for similarity checks.
	Fingerprint  string
	FPComponents string

	CreatedAt        int64
	LastActivity     int64
	ExpiresAt        int64
	RefreshExpiresAt int64

	Valid bool
}

// Alive reports the session validity invariant: flagged valid and not past
// its expiry.
func (s *Session) Alive(now time.Time) bool {
	return s != nil && s.Valid && now.Unix() < s.ExpiresAt
}

// RefreshAlive reports whether the refresh window is still open.
func (s *Session) RefreshAlive(now time.Time) bool {
	return s != nil && s.Valid && now.Unix() < s.RefreshExpiresAt
}
