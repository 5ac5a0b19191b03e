package repository

import (
	"context"
	"time"

	"github.com/Svyat0y/form-builder-backend/internal/session/domain"
)

// Repository defines persistence for sessions. Token lookups take SHA-256 digests, never raw tokens.
// Every mutation is conditional on the row not being revoked; revocation is terminal.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	// Update overwrites the token state of a non-revoked session. Reports false when no row matched.
	Update(ctx context.Context, id string, u domain.TokenUpdate) (bool, error)
	// Rotate is Update additionally conditioned on the session still holding currentRefreshHash.
	Rotate(ctx context.Context, id, currentRefreshHash string, u domain.TokenUpdate) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	FindByDeviceFingerprint(ctx context.Context, userID, fingerprint string) (*domain.Session, error)
	CountActive(ctx context.Context, userID string) (int, error)
	// EvictOldest revokes the user's active sessions beyond the keep most recently used ones.
	EvictOldest(ctx context.Context, userID string, keep int) (int64, error)
	FindValidAccessToken(ctx context.Context, accessHash string) (*domain.Session, error)
	FindValidRefreshToken(ctx context.Context, refreshHash string) (*domain.Session, error)
	RevokeByAccess(ctx context.Context, accessHash string) error
	RevokeByRefresh(ctx context.Context, refreshHash string) error
	// RevokeByID revokes the session only when it belongs to userID. Reports whether a row was revoked.
	RevokeByID(ctx context.Context, userID, id string) (bool, error)
	RevokeAllByUser(ctx context.Context, userID string) (int64, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	ListActive(ctx context.Context, userID string) ([]*domain.Session, error)
	// PurgeExpiredOrRevoked deletes expired sessions and revoked sessions beyond the newest
	// keepRevokedPerUser per user.
	PurgeExpiredOrRevoked(ctx context.Context, keepRevokedPerUser int) (int64, error)
}
