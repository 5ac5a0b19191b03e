package domain

import "time"

// Session is a user's authenticated presence on one device. Tokens are held only as SHA-256 digests.
type Session struct {
	ID                string
	UserID            string
	AccessTokenHash   string
	RefreshTokenHash  string // empty when the session was opened without remember-me
	DeviceFingerprint string
	DeviceInfo        string // raw user agent
	IPAddress         string
	CreatedAt         time.Time
	LastUsed          time.Time
	ExpiresAt         time.Time
	Revoked           bool
	RevokedAt         *time.Time // nil when not revoked
}

// Active reports whether the session is usable at now: not revoked and not expired.
func (s *Session) Active(now time.Time) bool {
	return s != nil && !s.Revoked && now.Before(s.ExpiresAt)
}

// HasRefreshToken reports whether the session keeps a persistent refresh token.
func (s *Session) HasRefreshToken() bool {
	return s != nil && s.RefreshTokenHash != ""
}

// TokenUpdate carries the new token state written on login into an existing slot or on rotation.
type TokenUpdate struct {
	AccessTokenHash  string
	RefreshTokenHash string // empty clears the stored refresh digest
	ExpiresAt        time.Time
	LastUsed         time.Time
}
