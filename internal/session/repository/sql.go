package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Svyat0y/form-builder-backend/internal/session/domain"
	"github.com/jmoiron/sqlx"
)

const sessionColumns = `id, user_id, access_token_hash, refresh_token_hash, device_fingerprint, device_info,
ip_address, created_at, last_used, expires_at, revoked, revoked_at`

type sessionRow struct {
	ID                string         `db:"id"`
	UserID            string         `db:"user_id"`
	AccessTokenHash   string         `db:"access_token_hash"`
	RefreshTokenHash  sql.NullString `db:"refresh_token_hash"`
	DeviceFingerprint string         `db:"device_fingerprint"`
	DeviceInfo        string         `db:"device_info"`
	IPAddress         string         `db:"ip_address"`
	CreatedAt         time.Time      `db:"created_at"`
	LastUsed          time.Time      `db:"last_used"`
	ExpiresAt         time.Time      `db:"expires_at"`
	Revoked           bool           `db:"revoked"`
	RevokedAt         sql.NullTime   `db:"revoked_at"`
}

func (r sessionRow) toDomain() *domain.Session {
	s := &domain.Session{
		ID:                r.ID,
		UserID:            r.UserID,
		AccessTokenHash:   r.AccessTokenHash,
		RefreshTokenHash:  r.RefreshTokenHash.String,
		DeviceFingerprint: r.DeviceFingerprint,
		DeviceInfo:        r.DeviceInfo,
		IPAddress:         r.IPAddress,
		CreatedAt:         r.CreatedAt,
		LastUsed:          r.LastUsed,
		ExpiresAt:         r.ExpiresAt,
		Revoked:           r.Revoked,
	}
	if r.RevokedAt.Valid {
		t := r.RevokedAt.Time
		s.RevokedAt = &t
	}
	return s
}

func nullHash(h string) sql.NullString {
	return sql.NullString{String: h, Valid: h != ""}
}

// SQLRepository persists sessions in Postgres or SQLite through sqlx. All times are written in UTC.
type SQLRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLRepository returns a session repository that uses the given db for persistence.
func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db, now: time.Now}
}

// Create persists a new, non-revoked session. The caller sets ID, ExpiresAt and LastUsed.
func (r *SQLRepository) Create(ctx context.Context, s *domain.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now().UTC()
	}
	if s.LastUsed.IsZero() {
		s.LastUsed = s.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
INSERT INTO sessions (id, user_id, access_token_hash, refresh_token_hash, device_fingerprint, device_info,
	ip_address, created_at, last_used, expires_at, revoked)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE)`),
		s.ID, s.UserID, s.AccessTokenHash, nullHash(s.RefreshTokenHash), s.DeviceFingerprint, s.DeviceInfo,
		s.IPAddress, s.CreatedAt.UTC(), s.LastUsed.UTC(), s.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	s.Revoked = false
	s.RevokedAt = nil
	return nil
}

// Update overwrites the token digests, expiry and last-used time of a non-revoked session.
func (r *SQLRepository) Update(ctx context.Context, id string, u domain.TokenUpdate) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
UPDATE sessions SET access_token_hash = ?, refresh_token_hash = ?, expires_at = ?, last_used = ?
WHERE id = ? AND revoked = FALSE`),
		u.AccessTokenHash, nullHash(u.RefreshTokenHash), u.ExpiresAt.UTC(), u.LastUsed.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("update session: %w", err)
	}
	return affected(res)
}

// Rotate is Update conditioned on the stored refresh digest still being currentRefreshHash,
// so of two concurrent rotations of the same token only one wins.
func (r *SQLRepository) Rotate(ctx context.Context, id, currentRefreshHash string, u domain.TokenUpdate) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
UPDATE sessions SET access_token_hash = ?, refresh_token_hash = ?, expires_at = ?, last_used = ?
WHERE id = ? AND revoked = FALSE AND refresh_token_hash = ?`),
		u.AccessTokenHash, nullHash(u.RefreshTokenHash), u.ExpiresAt.UTC(), u.LastUsed.UTC(), id, currentRefreshHash)
	if err != nil {
		return false, fmt.Errorf("rotate session: %w", err)
	}
	return affected(res)
}

// GetByID returns the session in any state, or nil if not found.
func (r *SQLRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
}

// FindByDeviceFingerprint returns the most recently used non-revoked session of the user on the
// device, whether or not it has expired, or nil.
func (r *SQLRepository) FindByDeviceFingerprint(ctx context.Context, userID, fingerprint string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions
WHERE user_id = ? AND device_fingerprint = ? AND revoked = FALSE
ORDER BY last_used DESC LIMIT 1`, userID, fingerprint)
}

// CountActive returns the number of non-revoked, unexpired sessions of the user.
func (r *SQLRepository) CountActive(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
SELECT COUNT(*) FROM sessions WHERE user_id = ? AND revoked = FALSE AND expires_at > ?`),
		userID, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// EvictOldest revokes, in one statement, every active session of the user ranked past keep by
// last use (most recent first). Returns the number of sessions revoked.
func (r *SQLRepository) EvictOldest(ctx context.Context, userID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
UPDATE sessions SET revoked = TRUE, revoked_at = ?
WHERE revoked = FALSE AND id IN (
	SELECT id FROM (
		SELECT id, ROW_NUMBER() OVER (ORDER BY last_used DESC, created_at DESC, id) AS rn
		FROM sessions
		WHERE user_id = ? AND revoked = FALSE AND expires_at > ?
	) ranked
	WHERE rn > ?
)`), now, userID, now, keep)
	if err != nil {
		return 0, fmt.Errorf("evict sessions: %w", err)
	}
	return res.RowsAffected()
}

// FindValidAccessToken returns the non-revoked, unexpired session holding the access digest, or nil.
func (r *SQLRepository) FindValidAccessToken(ctx context.Context, accessHash string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions
WHERE access_token_hash = ? AND revoked = FALSE AND expires_at > ?
LIMIT 1`, accessHash, r.now().UTC())
}

// FindValidRefreshToken returns the non-revoked, unexpired session holding the refresh digest, or nil.
func (r *SQLRepository) FindValidRefreshToken(ctx context.Context, refreshHash string) (*domain.Session, error) {
	if refreshHash == "" {
		return nil, nil
	}
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions
WHERE refresh_token_hash = ? AND revoked = FALSE AND expires_at > ?
LIMIT 1`, refreshHash, r.now().UTC())
}

// RevokeByAccess revokes the session holding the access digest. No-op if none or already revoked.
func (r *SQLRepository) RevokeByAccess(ctx context.Context, accessHash string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
UPDATE sessions SET revoked = TRUE, revoked_at = ? WHERE access_token_hash = ? AND revoked = FALSE`),
		r.now().UTC(), accessHash)
	if err != nil {
		return fmt.Errorf("revoke session by access token: %w", err)
	}
	return nil
}

// RevokeByRefresh revokes the session holding the refresh digest. No-op if none or already revoked.
func (r *SQLRepository) RevokeByRefresh(ctx context.Context, refreshHash string) error {
	if refreshHash == "" {
		return nil
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
UPDATE sessions SET revoked = TRUE, revoked_at = ? WHERE refresh_token_hash = ? AND revoked = FALSE`),
		r.now().UTC(), refreshHash)
	if err != nil {
		return fmt.Errorf("revoke session by refresh token: %w", err)
	}
	return nil
}

// RevokeByID revokes the session when it belongs to userID. It reports true when the session
// exists and is owned by the user, including when it was already revoked.
func (r *SQLRepository) RevokeByID(ctx context.Context, userID, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
UPDATE sessions SET revoked = TRUE, revoked_at = COALESCE(revoked_at, ?) WHERE id = ? AND user_id = ?`),
		r.now().UTC(), id, userID)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	return affected(res)
}

// RevokeAllByUser revokes every non-revoked session of the user. Returns the number revoked.
func (r *SQLRepository) RevokeAllByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
UPDATE sessions SET revoked = TRUE, revoked_at = ? WHERE user_id = ? AND revoked = FALSE`),
		r.now().UTC(), userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	return res.RowsAffected()
}

// TouchLastUsed sets last_used on a non-revoked session.
func (r *SQLRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE sessions SET last_used = ? WHERE id = ? AND revoked = FALSE`),
		at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// ListActive returns the user's non-revoked, unexpired sessions, most recently used first.
func (r *SQLRepository) ListActive(ctx context.Context, userID string) ([]*domain.Session, error) {
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT `+sessionColumns+` FROM sessions
WHERE user_id = ? AND revoked = FALSE AND expires_at > ?
ORDER BY last_used DESC, created_at DESC`), userID, r.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*domain.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// PurgeExpiredOrRevoked deletes expired sessions, and revoked sessions except the newest
// keepRevokedPerUser per user, in a single statement.
func (r *SQLRepository) PurgeExpiredOrRevoked(ctx context.Context, keepRevokedPerUser int) (int64, error) {
	if keepRevokedPerUser < 0 {
		keepRevokedPerUser = 0
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
DELETE FROM sessions
WHERE expires_at <= ?
	OR (revoked = TRUE AND id NOT IN (
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY revoked_at DESC, id) AS rn
			FROM sessions
			WHERE revoked = TRUE
		) ranked
		WHERE rn <= ?
	))`), r.now().UTC(), keepRevokedPerUser)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Session, error) {
	var row sessionRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return row.toDomain(), nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ Repository = (*SQLRepository)(nil)
